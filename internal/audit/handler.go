package audit

import (
	"cms-backend/internal/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID          uint    `json:"id"`
	CreatedAt   string  `json:"created_at"`
	ActorID     *string `json:"actor_id"`
	ActorRole   string  `json:"actor_role"`
	EntityType  string  `json:"entity_type"`
	EntityID    string  `json:"entity_id"`
	Action      string  `json:"action"`
	Description string  `json:"description"`
}

// GET /api/audit-logs?entity_type=user&entity_id=...&actor_id=...
// Mounted behind the admin role check.
func ListAuditLogsHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f := Filter{
			EntityType: c.Query("entity_type"),
			EntityID:   c.Query("entity_id"),
			Offset:     c.QueryInt("offset", 0),
			Limit:      c.QueryInt("limit", 50),
		}
		if s := c.Query("actor_id"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				return apperr.Validation("invalid actor_id")
			}
			f.ActorID = &id
		}

		logs, err := ListLogs(c.UserContext(), db, f)
		if err != nil {
			return err
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			var actor *string
			if l.ActorID != nil {
				s := l.ActorID.String()
				actor = &s
			}
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format("2006-01-02 15:04:05"),
				ActorID:     actor,
				ActorRole:   string(l.ActorRole),
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      string(l.Action),
				Description: l.Description,
			})
		}
		return c.JSON(resp)
	}
}
