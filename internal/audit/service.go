package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"cms-backend/internal/apperr"
	"cms-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LogOptions struct {
	Actor       *models.User
	EntityType  string
	EntityID    uuid.UUID
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

const (
	EntityUser   = "user"
	EntityBranch = "branch"
)

// WriteLog records a mutation. It takes the mutation's transaction so the log
// row commits or rolls back together with the change.
func WriteLog(tx *gorm.DB, opts LogOptions) error {
	entry := models.AuditLog{
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID.String(),
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  marshal(opts.Before),
		AfterData:   marshal(opts.After),
	}
	if opts.Actor != nil {
		id := opts.Actor.ID
		entry.ActorID = &id
		entry.ActorRole = opts.Actor.Role
	}

	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func marshal(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

type Filter struct {
	EntityType string
	EntityID   string
	ActorID    *uuid.UUID
	Offset     int
	Limit      int
}

// ListLogs returns the newest entries first.
func ListLogs(ctx context.Context, db *gorm.DB, f Filter) ([]models.AuditLog, error) {
	q := db.WithContext(ctx).Model(&models.AuditLog{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	var logs []models.AuditLog
	if err := q.Order("created_at DESC").Order("id DESC").Offset(f.Offset).Limit(f.Limit).Find(&logs).Error; err != nil {
		return nil, apperr.FromDB(err, "list audit logs")
	}
	return logs, nil
}
