package auth

import (
	"cms-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type ResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func LoginHandler(svc *CredentialService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}

		sess, err := svc.Authenticate(c.UserContext(), body.Email, body.Password)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"access_token": sess.Token,
			"token_type":   "bearer",
			"expires_at":   sess.ExpiresAt,
			"user": fiber.Map{
				"id":        sess.User.ID,
				"full_name": sess.User.FullName,
				"email":     sess.User.Email,
				"role":      sess.User.Role,
			},
		})
	}
}

func ChangePasswordHandler(svc *CredentialService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ChangePasswordRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		if err := svc.ChangePassword(c.UserContext(), body.Email, body.CurrentPassword, body.NewPassword); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"message": "password changed"})
	}
}

func RequestResetHandler(svc *CredentialService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ResetRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		if err := svc.RequestReset(c.UserContext(), body.Email); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"message": "if the account exists, a reset token was sent"})
	}
}

func ResetPasswordHandler(svc *CredentialService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ResetConfirmRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		if err := svc.RedeemReset(c.UserContext(), body.Token, body.NewPassword); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"message": "password reset successful"})
	}
}
