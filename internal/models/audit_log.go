package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionCreate     AuditAction = "create"
	AuditActionUpdate     AuditAction = "update"
	AuditActionDelete     AuditAction = "delete"
	AuditActionDeactivate AuditAction = "deactivate"
	AuditActionReactivate AuditAction = "reactivate"
	AuditActionLink       AuditAction = "link"
	AuditActionUnlink     AuditAction = "unlink"
	AuditActionReset      AuditAction = "password_reset"
)

type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Who? Nil for unauthenticated flows (bootstrap, reset redemption).
	ActorID   *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"`
	ActorRole UserRole   `gorm:"size:32" json:"actor_role"`

	// "user" or "branch"
	EntityType string `gorm:"size:50;index" json:"entity_type"`
	EntityID   string `gorm:"size:64;index" json:"entity_id"`

	Action      AuditAction `gorm:"size:32" json:"action"`
	Description string      `gorm:"size:255" json:"description"`

	BeforeData string `gorm:"type:text" json:"before_data"`
	AfterData  string `gorm:"type:text" json:"after_data"`
}
