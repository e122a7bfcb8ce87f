// Package server assembles the Fiber application: middleware, error mapping
// and routes.
package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"cms-backend/internal/apperr"
	"cms-backend/internal/audit"
	"cms-backend/internal/auth"
	"cms-backend/internal/branches"
	"cms-backend/internal/models"
	"cms-backend/internal/users"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Deps struct {
	DB          *gorm.DB
	Log         *logrus.Logger
	Tokens      auth.TokenIssuer
	Credentials *auth.CredentialService
	Users       *users.Service
	Branches    *branches.Service
	Gatherer    prometheus.Gatherer

	CORSOrigins     string
	DBTimeout       time.Duration
	PictureMaxBytes int64
}

func New(d Deps) *fiber.App {
	bodyLimit := 4 * 1024 * 1024
	if d.PictureMaxBytes > 0 && int(d.PictureMaxBytes)+64*1024 > bodyLimit {
		bodyLimit = int(d.PictureMaxBytes) + 64*1024
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(d.Log),
		BodyLimit:    bodyLimit,
	})

	app.Use(RequestLogger(d.Log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(d.CORSOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
	}))
	if d.DBTimeout > 0 {
		app.Use(RequestTimeout(d.DBTimeout))
	}

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	// Public
	api.Post("/auth/login", auth.LoginHandler(d.Credentials))
	api.Post("/auth/change-password", auth.ChangePasswordHandler(d.Credentials))
	api.Post("/auth/request-password-reset", auth.RequestResetHandler(d.Credentials))
	api.Post("/auth/reset-password", auth.ResetPasswordHandler(d.Credentials))
	api.Post("/users/first-admin", users.BootstrapAdminHandler(d.Users))

	protected := api.Group("", auth.JWTMiddleware(d.Tokens, d.DB))

	admin := auth.RequireRole(models.RoleAdmin)
	adminOrSenior := auth.RequireRole(models.RoleAdmin, models.RoleSeniorEditor)
	creators := auth.RequireRole(models.RoleAdmin, models.RoleSeniorEditor, models.RoleEditor)

	// Users
	protected.Get("/users/me", users.GetMeHandler(d.Users))
	protected.Patch("/users/me", users.UpdateMeHandler(d.Users))
	protected.Post("/users/me/picture", users.UploadPictureHandler(d.Users, d.PictureMaxBytes))
	protected.Post("/users", creators, users.CreateUserHandler(d.Users))
	protected.Get("/users", users.ListUsersHandler(d.Users))
	protected.Get("/users/:id", users.GetUserHandler(d.Users))
	protected.Patch("/users/:id", adminOrSenior, users.UpdateUserHandler(d.Users))
	protected.Delete("/users/:id", admin, users.DeleteUserHandler(d.Users))
	protected.Post("/users/:id/deactivate", adminOrSenior, users.DeactivateHandler(d.Users))
	protected.Post("/users/:id/reactivate", adminOrSenior, users.ReactivateHandler(d.Users))
	protected.Post("/users/:id/reset-password", adminOrSenior, users.AdminResetHandler(d.Credentials))

	// Branches
	protected.Get("/users/:id/branches", branches.ListUserBranchesHandler(d.Branches))
	protected.Delete("/users/:id/branches", adminOrSenior, branches.RemoveAllHandler(d.Branches))

	branchRoutes := protected.Group("/branches", adminOrSenior)
	branchRoutes.Get("", branches.ListBranchesHandler(d.Branches))
	branchRoutes.Post("", branches.CreateBranchHandler(d.Branches))
	branchRoutes.Get("/:id", branches.GetBranchHandler(d.Branches))
	branchRoutes.Patch("/:id", branches.UpdateBranchHandler(d.Branches))
	branchRoutes.Delete("/:id", branches.DeleteBranchHandler(d.Branches))
	branchRoutes.Get("/:id/users", branches.ListMembersHandler(d.Branches))
	branchRoutes.Get("/:id/users/:userId", branches.MembershipHandler(d.Branches))
	branchRoutes.Post("/:id/users/:userId", branches.LinkUserHandler(d.Branches))
	branchRoutes.Delete("/:id/users/:userId", branches.UnlinkUserHandler(d.Branches))

	// Audit
	protected.Get("/audit-logs", admin, audit.ListAuditLogsHandler(d.DB))

	return app
}

// ErrorHandler renders domain errors with their mapped status and a stable
// code. Anything else is logged and hidden behind a 500.
func ErrorHandler(log *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		var ae *apperr.Error
		if errors.As(err, &ae) {
			status := apperr.HTTPStatus(ae)
			if status >= fiber.StatusInternalServerError {
				log.WithError(err).WithFields(logrus.Fields{
					"method": c.Method(),
					"path":   c.Path(),
				}).Error("request failed")
			}
			return c.Status(status).JSON(fiber.Map{
				"error": ae.Message,
				"code":  ae.Kind.String(),
			})
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "request timed out",
				"code":  apperr.KindStorageUnavailable.String(),
			})
		}

		log.WithError(err).WithFields(logrus.Fields{"method": c.Method(), "path": c.Path()}).Error("unexpected error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unexpected server error",
		})
	}
}

// RequestTimeout bounds the time a request may spend in storage calls.
func RequestTimeout(d time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func RequestLogger(log *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			switch {
			case errors.As(err, &fe):
				status = fe.Code
			default:
				status = apperr.HTTPStatus(err)
			}
		}
		log.WithFields(logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"duration": time.Since(start).String(),
		}).Debug("request")
		return err
	}
}

func normalizeOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return "*"
	}
	return strings.Join(out, ",")
}
