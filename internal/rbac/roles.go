package rbac

import (
	"fmt"
	"strings"

	"cms-backend/internal/models"
)

// Hierarchy lists roles from most to least privileged. A role's index is its rank.
var Hierarchy = []models.UserRole{
	models.RoleAdmin,
	models.RoleSeniorEditor,
	models.RoleEditor,
	models.RoleCategoryEditor,
}

// Rank returns the position of role in the hierarchy. Lower is more
// privileged; unknown roles rank after every known one.
func Rank(role models.UserRole) int {
	for i, r := range Hierarchy {
		if r == role {
			return i
		}
	}
	return len(Hierarchy)
}

type RoleSet map[models.UserRole]struct{}

func NewRoleSet(roles ...models.UserRole) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(role models.UserRole) bool {
	_, ok := s[role]
	return ok
}

// Sorted returns the members in hierarchy order.
func (s RoleSet) Sorted() []models.UserRole {
	out := make([]models.UserRole, 0, len(s))
	for _, r := range Hierarchy {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// RoleSets is what an actor role may do to each target role. Create and View
// differ on purpose: a senior editor sees category editors but cannot create them.
type RoleSets struct {
	Create RoleSet
	View   RoleSet
	Manage RoleSet
	Delete RoleSet
}

var manageable = map[models.UserRole]RoleSets{
	models.RoleAdmin: {
		Create: NewRoleSet(Hierarchy...),
		View:   NewRoleSet(Hierarchy...),
		Manage: NewRoleSet(Hierarchy...),
		Delete: NewRoleSet(Hierarchy...),
	},
	models.RoleSeniorEditor: {
		Create: NewRoleSet(models.RoleSeniorEditor, models.RoleEditor),
		View:   NewRoleSet(models.RoleSeniorEditor, models.RoleEditor, models.RoleCategoryEditor),
		Manage: NewRoleSet(models.RoleEditor, models.RoleCategoryEditor),
		Delete: NewRoleSet(),
	},
	models.RoleEditor: {
		Create: NewRoleSet(models.RoleCategoryEditor),
		View:   NewRoleSet(models.RoleCategoryEditor),
		Manage: NewRoleSet(),
		Delete: NewRoleSet(),
	},
	models.RoleCategoryEditor: {
		Create: NewRoleSet(),
		View:   NewRoleSet(models.RoleCategoryEditor),
		Manage: NewRoleSet(),
		Delete: NewRoleSet(),
	},
}

// Manageable returns the role sets for actor. Unknown roles get empty sets.
func Manageable(actor models.UserRole) RoleSets {
	if s, ok := manageable[actor]; ok {
		return s
	}
	return RoleSets{Create: NewRoleSet(), View: NewRoleSet(), Manage: NewRoleSet(), Delete: NewRoleSet()}
}

// RankOrderSQL is an ORDER BY expression sorting by hierarchy rank. Role
// values are compile-time constants, so they are inlined.
func RankOrderSQL(column string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for i, r := range Hierarchy {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", r, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(Hierarchy))
	return b.String()
}
