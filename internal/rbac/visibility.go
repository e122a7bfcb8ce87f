package rbac

import (
	"fmt"

	"cms-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConditionKind int

const (
	// CondNone is the zero value so an unset Condition fails closed.
	CondNone ConditionKind = iota
	CondAll
	CondRoleIn
	CondRoleAndCreator
)

// Condition describes which users an actor can see.
type Condition struct {
	Kind      ConditionKind
	Roles     []models.UserRole
	CreatorID uuid.UUID
}

// Visibility builds the condition for actor.
func Visibility(actor *models.User) Condition {
	if actor == nil {
		return Condition{Kind: CondNone}
	}
	switch actor.Role {
	case models.RoleAdmin:
		return Condition{Kind: CondAll}
	case models.RoleSeniorEditor:
		return Condition{Kind: CondRoleIn, Roles: Manageable(actor.Role).View.Sorted()}
	case models.RoleEditor:
		return Condition{
			Kind:      CondRoleAndCreator,
			Roles:     []models.UserRole{models.RoleCategoryEditor},
			CreatorID: actor.ID,
		}
	case models.RoleCategoryEditor:
		// Siblings under the same editor. A category editor without a creator
		// has no siblings and sees nobody through this path.
		if actor.CreatedByID == nil {
			return Condition{Kind: CondNone}
		}
		return Condition{
			Kind:      CondRoleAndCreator,
			Roles:     []models.UserRole{models.RoleCategoryEditor},
			CreatorID: *actor.CreatedByID,
		}
	}
	return Condition{Kind: CondNone}
}

// Match evaluates the condition against a loaded user.
func (c Condition) Match(u *models.User) bool {
	if u == nil {
		return false
	}
	switch c.Kind {
	case CondAll:
		return true
	case CondRoleIn:
		return NewRoleSet(c.Roles...).Has(u.Role)
	case CondRoleAndCreator:
		return NewRoleSet(c.Roles...).Has(u.Role) && u.CreatedByID != nil && *u.CreatedByID == c.CreatorID
	}
	return false
}

// Scope applies the condition to a query over the users table.
func (c Condition) Scope(db *gorm.DB) *gorm.DB {
	switch c.Kind {
	case CondAll:
		return db
	case CondRoleIn:
		if len(c.Roles) == 0 {
			return db.Where("1 = 0")
		}
		return db.Where("users.role IN ?", roleStrings(c.Roles))
	case CondRoleAndCreator:
		if len(c.Roles) == 0 {
			return db.Where("1 = 0")
		}
		return db.Where("users.role IN ? AND users.created_by_id = ?", roleStrings(c.Roles), c.CreatorID)
	}
	return db.Where("1 = 0")
}

func (c Condition) String() string {
	switch c.Kind {
	case CondAll:
		return "all"
	case CondRoleIn:
		return fmt.Sprintf("role in %v", c.Roles)
	case CondRoleAndCreator:
		return fmt.Sprintf("role in %v and created_by %s", c.Roles, c.CreatorID)
	}
	return "none"
}

// CanView is the point check used for single-user lookups.
func CanView(actor, target *models.User) bool {
	return Visibility(actor).Match(target)
}

func roleStrings(roles []models.UserRole) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
