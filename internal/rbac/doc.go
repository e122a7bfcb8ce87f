// Package rbac implements the fixed four-tier role hierarchy: role ranking,
// the per-role create/view/manage sets, user visibility and the mutation
// guards.
//
// Visibility is expressed once as a Condition value. The same value is
// evaluated in memory (Condition.Match) and applied to a GORM query
// (Condition.Scope), so a point check and a bulk listing cannot drift apart.
package rbac
