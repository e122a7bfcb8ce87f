package rbac

import (
	"fmt"

	"cms-backend/internal/apperr"
	"cms-backend/internal/models"

	"github.com/google/uuid"
)

// CheckCreate fails unless actor may create a user with the requested role.
func CheckCreate(actor *models.User, requested models.UserRole) error {
	if actor == nil {
		return apperr.Forbidden("authentication required")
	}
	if !requested.Valid() {
		return apperr.Validation(fmt.Sprintf("unknown role %q", requested))
	}
	if !Manageable(actor.Role).Create.Has(requested) {
		return apperr.Forbidden(fmt.Sprintf("%s users cannot create %s users", actor.Role, requested))
	}
	return nil
}

// CheckUpdate: admins may update anyone, senior editors only editors and
// category editors. Everyone else fails.
func CheckUpdate(actor, target *models.User) error {
	return checkManage(actor, target, "update")
}

func CheckDeactivateReactivate(actor, target *models.User) error {
	return checkManage(actor, target, "manage")
}

// CheckDelete is stricter than update: only admins delete.
func CheckDelete(actor, target *models.User) error {
	if actor == nil || target == nil {
		return apperr.Forbidden("authentication required")
	}
	if !Manageable(actor.Role).Delete.Has(target.Role) {
		return apperr.Forbidden("only admins can delete users")
	}
	return nil
}

// CheckRoleChange guards a privileged role change: the new role must be one
// the actor could have created.
func CheckRoleChange(actor *models.User, from, to models.UserRole) error {
	if from == to {
		return nil
	}
	if err := CheckCreate(actor, to); err != nil {
		return fmt.Errorf("change role: %w", err)
	}
	return nil
}

// PreventSelfAction rejects destructive or state-flipping operations on the
// actor's own account; those go through the self-update path.
func PreventSelfAction(actor *models.User, targetID uuid.UUID) error {
	if actor != nil && actor.ID == targetID {
		return apperr.Forbidden("you cannot perform this action on your own account")
	}
	return nil
}

// RequireAny is the route-level gate.
func RequireAny(actor *models.User, roles ...models.UserRole) error {
	if actor == nil {
		return apperr.Forbidden("authentication required")
	}
	if !NewRoleSet(roles...).Has(actor.Role) {
		return apperr.Forbidden("insufficient role")
	}
	return nil
}

func checkManage(actor, target *models.User, verb string) error {
	if actor == nil || target == nil {
		return apperr.Forbidden("authentication required")
	}
	if !Manageable(actor.Role).Manage.Has(target.Role) {
		return apperr.Forbidden(fmt.Sprintf("%s users cannot %s %s users", actor.Role, verb, target.Role))
	}
	return nil
}
