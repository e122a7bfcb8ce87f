package branches

import (
	"cms-backend/internal/apperr"
	"cms-backend/internal/auth"
	"cms-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type BranchResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   string    `json:"created_at"`
}

type CreateBranchRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateBranchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type MemberResponse struct {
	ID       uuid.UUID       `json:"id"`
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	Role     models.UserRole `json:"role"`
	IsActive bool            `json:"is_active"`
}

func toBranchResponse(b *models.Branch) BranchResponse {
	return BranchResponse{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		CreatedAt:   b.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// ParamUUID reads a uuid path parameter.
func ParamUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid " + name)
	}
	return id, nil
}

func CreateBranchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		var body CreateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}

		branch, err := svc.CreateBranch(c.UserContext(), actor, BranchInput(body))
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(toBranchResponse(branch))
	}
}

func ListBranchesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := svc.ListBranches(c.UserContext())
		if err != nil {
			return err
		}
		res := make([]BranchResponse, 0, len(list))
		for i := range list {
			res = append(res, toBranchResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

func GetBranchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		branch, err := svc.GetBranch(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(toBranchResponse(branch))
	}
}

func UpdateBranchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		var body UpdateBranchRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Validation("invalid request body")
		}

		branch, err := svc.UpdateBranch(c.UserContext(), actor, id, BranchUpdate(body))
		if err != nil {
			return err
		}
		return c.JSON(toBranchResponse(branch))
	}
}

func DeleteBranchHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		if err := svc.DeleteBranch(c.UserContext(), actor, id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/branches/:id/users lists the members the caller can see.
func ListMembersHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		users, err := svc.UsersOf(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		res := make([]MemberResponse, 0, len(users))
		for _, u := range users {
			res = append(res, MemberResponse{
				ID:       u.ID,
				Email:    u.Email,
				FullName: u.FullName,
				Role:     u.Role,
				IsActive: u.IsActive,
			})
		}
		return c.JSON(res)
	}
}

func LinkUserHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		branchID, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		userID, err := ParamUUID(c, "userId")
		if err != nil {
			return err
		}
		link, err := svc.Link(c.UserContext(), actor, userID, branchID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user_id": link.UserID, "branch_id": link.BranchID})
	}
}

func UnlinkUserHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		branchID, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		userID, err := ParamUUID(c, "userId")
		if err != nil {
			return err
		}
		if err := svc.Unlink(c.UserContext(), actor, userID, branchID); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// GET /api/branches/:id/users/:userId
func MembershipHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		branchID, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		userID, err := ParamUUID(c, "userId")
		if err != nil {
			return err
		}
		ok, err := svc.IsMember(c.UserContext(), actor, userID, branchID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user_id": userID, "branch_id": branchID, "member": ok})
	}
}

// GET /api/users/:id/branches
func ListUserBranchesHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		list, err := svc.BranchesOf(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		res := make([]BranchResponse, 0, len(list))
		for i := range list {
			res = append(res, toBranchResponse(&list[i]))
		}
		return c.JSON(res)
	}
}

// DELETE /api/users/:id/branches
func RemoveAllHandler(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.Actor(c)
		if err != nil {
			return err
		}
		id, err := ParamUUID(c, "id")
		if err != nil {
			return err
		}
		n, err := svc.RemoveAll(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"user_id": id, "removed": n})
	}
}
