package users

import (
	"io"
	"time"

	"cms-backend/internal/apperr"
	"cms-backend/internal/auth"
	"cms-backend/internal/branches"
	"cms-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type UserResponse struct {
	ID                 uuid.UUID       `json:"id"`
	Email              string          `json:"email"`
	FullName           string          `json:"full_name"`
	Role               models.UserRole `json:"role"`
	IsActive           bool            `json:"is_active"`
	MustChangePassword bool            `json:"must_change_password"`
	PictureRef         string          `json:"picture_ref,omitempty"`
	LastLogin          *time.Time      `json:"last_login"`
	CreatedByID        *uuid.UUID      `json:"created_by_id"`
	BranchIDs          []uuid.UUID     `json:"branch_ids"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type ListResponse struct {
	Items  []UserResponse `json:"items"`
	Total  int64          `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

type CreateUserRequest struct {
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	FullName  string          `json:"full_name"`
	Role      models.UserRole `json:"role"`
	BranchIDs []uuid.UUID     `json:"branch_ids"`
}

type UpdateMeRequest struct {
	Email           *string `json:"email"`
	FullName        *string `json:"full_name"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     *string `json:"new_password"`
}

type UpdateUserRequest struct {
	Email     *string          `json:"email"`
	FullName  *string          `json:"full_name"`
	Role      *models.UserRole `json:"role"`
	IsActive  *bool            `json:"is_active"`
	BranchIDs *[]uuid.UUID     `json:"branch_ids"`
}

func toResponse(u *models.User, branchIDs []uuid.UUID) UserResponse {
	if branchIDs == nil {
		branchIDs = []uuid.UUID{}
	}
	return UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		FullName:           u.FullName,
		Role:               u.Role,
		IsActive:           u.IsActive,
		MustChangePassword: u.MustChangePassword,
		PictureRef:         u.PictureRef,
		LastLogin:          u.LastLogin,
		CreatedByID:        u.CreatedByID,
		BranchIDs:          branchIDs,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func (s *Service) respond(c *fiber.Ctx, status int, u *models.User) error {
	ids, err := s.BranchIDs(c.UserContext(), *u)
	if err != nil {
		return err
	}
	return c.Status(status).JSON(toResponse(u, ids[u.ID]))
}

// POST /api/users/first-admin
func BootstrapAdminHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		user, err := svc.BootstrapAdmin(c.UserContext(), CreateInput{
			Email:    body.Email,
			Password: body.Password,
			FullName: body.FullName,
		})
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusCreated, user)
	}
}

func CreateUserHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		user, err := svc.CreateUser(c.UserContext(), actor, CreateInput(body))
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusCreated, user)
	}
}

// GET /api/users?role=editor&is_active=true&offset=0&limit=20
func ListUsersHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		f := ListFilter{
			Offset: c.QueryInt("offset", 0),
			Limit:  c.QueryInt("limit", DefaultPageSize),
		}
		if r := c.Query("role"); r != "" {
			role := models.UserRole(r)
			if !role.Valid() {
				return apperr.Validation("unknown role")
			}
			f.Role = &role
		}
		if v := c.Query("is_active"); v != "" {
			active := c.QueryBool("is_active")
			f.IsActive = &active
		}

		page, err := svc.ListUsers(c.UserContext(), actor, f)
		if err != nil {
			return err
		}
		ids, err := svc.BranchIDs(c.UserContext(), page.Items...)
		if err != nil {
			return err
		}
		resp := ListResponse{Items: make([]UserResponse, 0, len(page.Items)), Total: page.Total, Offset: page.Offset, Limit: page.Limit}
		for i := range page.Items {
			resp.Items = append(resp.Items, toResponse(&page.Items[i], ids[page.Items[i].ID]))
		}
		return c.JSON(resp)
	}
}

func GetMeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, actor)
	}
}

func UpdateMeHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		var body UpdateMeRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		user, err := svc.UpdateSelf(c.UserContext(), actor, SelfUpdate(body))
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, user)
	}
}

// POST /api/users/me/picture, multipart field "file".
func UploadPictureHandler(svc *Service, maxBytes int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		fh, err := c.FormFile("file")
		if err != nil {
			return apperr.Validation("file is required")
		}
		if maxBytes > 0 && fh.Size > maxBytes {
			return apperr.Validation("file too large")
		}
		f, err := fh.Open()
		if err != nil {
			return apperr.Validation("cannot read file")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return apperr.Validation("cannot read file")
		}

		user, err := svc.SetPicture(c.UserContext(), actor, data)
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, user)
	}
}

func GetUserHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := branches.ParamUUID(c, "id")
		if err != nil {
			return err
		}
		user, err := svc.GetUser(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, user)
	}
}

func UpdateUserHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := branches.ParamUUID(c, "id")
		if err != nil {
			return err
		}
		var body UpdateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}
		user, err := svc.UpdateUser(c.UserContext(), actor, id, UserUpdate(body))
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, user)
	}
}

func DeactivateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := branches.ParamUUID(c, "id")
		if err != nil {
			return err
		}
		user, err := svc.Deactivate(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, user)
	}
}

func ReactivateHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := branches.ParamUUID(c, "id")
		if err != nil {
			return err
		}
		user, err := svc.Reactivate(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return svc.respond(c, fiber.StatusOK, user)
	}
}

func DeleteUserHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := branches.ParamUUID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.DeleteUser(c.UserContext(), actor, id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/users/:id/reset-password issues a one-time password.
func AdminResetHandler(creds *auth.CredentialService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := branches.ParamUUID(c, "id")
		if err != nil {
			return err
		}
		if err := creds.AdminReset(c.UserContext(), actor, id); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"message": "one-time password sent"})
	}
}
