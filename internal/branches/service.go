package branches

import (
	"context"
	"errors"
	"strings"

	"cms-backend/internal/apperr"
	"cms-backend/internal/audit"
	"cms-backend/internal/database"
	"cms-backend/internal/models"
	"cms-backend/internal/rbac"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrBranchInUse is returned when deleting a branch that still has members.
var ErrBranchInUse = &apperr.Error{Kind: apperr.KindConflict, Message: "cannot delete branch with linked users"}

type Service struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewService(db *gorm.DB, log *logrus.Logger) *Service {
	return &Service{db: db, log: log}
}

type BranchInput struct {
	Name        string
	Description string
}

type BranchUpdate struct {
	Name        *string
	Description *string
}

func (s *Service) CreateBranch(ctx context.Context, actor *models.User, in BranchInput) (*models.Branch, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("branch name cannot be empty")
	}

	branch := &models.Branch{Name: name, Description: strings.TrimSpace(in.Description)}
	if actor != nil {
		id := actor.ID
		branch.CreatedByID = &id
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(branch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("a branch with this name already exists")
			}
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityBranch,
			EntityID:   branch.ID,
			Action:     models.AuditActionCreate,
			After:      branch,
		})
	})
	if err != nil {
		return nil, apperr.FromDB(err, "create branch")
	}
	s.log.WithFields(logrus.Fields{"branch_id": branch.ID, "name": branch.Name}).Info("branch created")
	return branch, nil
}

func (s *Service) GetBranch(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	var branch models.Branch
	if err := s.db.WithContext(ctx).First(&branch, "id = ?", id).Error; err != nil {
		return nil, apperr.FromDB(err, "branch not found")
	}
	return &branch, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]models.Branch, error) {
	var out []models.Branch
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, apperr.FromDB(err, "list branches")
	}
	return out, nil
}

func (s *Service) UpdateBranch(ctx context.Context, actor *models.User, id uuid.UUID, in BranchUpdate) (*models.Branch, error) {
	var branch models.Branch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&branch, "id = ?", id).Error; err != nil {
			return err
		}
		before := branch

		updates := map[string]any{}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return apperr.Validation("branch name cannot be empty")
			}
			updates["name"] = name
		}
		if in.Description != nil {
			updates["description"] = strings.TrimSpace(*in.Description)
		}
		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&branch).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("a branch with this name already exists")
			}
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityBranch,
			EntityID:   branch.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      branch,
		})
	})
	if err != nil {
		return nil, apperr.FromDB(err, "update branch")
	}
	return &branch, nil
}

// DeleteBranch removes a branch with no members. The branch row is locked
// before the member count, so a concurrent Link either waits and then finds
// the branch gone, or commits first and makes this delete fail.
func (s *Service) DeleteBranch(ctx context.Context, actor *models.User, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var branch models.Branch
		if err := database.ForUpdate(tx).First(&branch, "id = ?", id).Error; err != nil {
			return err
		}

		var links int64
		if err := tx.Model(&models.UserBranchLink{}).Where("branch_id = ?", id).Count(&links).Error; err != nil {
			return err
		}
		if links > 0 {
			return ErrBranchInUse
		}

		if err := tx.Delete(&branch).Error; err != nil {
			if errors.Is(err, gorm.ErrForeignKeyViolated) {
				return ErrBranchInUse
			}
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityBranch,
			EntityID:   branch.ID,
			Action:     models.AuditActionDelete,
			Before:     branch,
		})
	})
	if err != nil {
		return apperr.FromDB(err, "branch not found")
	}
	s.log.WithField("branch_id", id).Info("branch deleted")
	return nil
}

// Link adds a user to a branch. It is idempotent and returns the existing
// link unchanged. The user must be visible to actor.
func (s *Service) Link(ctx context.Context, actor *models.User, userID, branchID uuid.UUID) (*models.UserBranchLink, error) {
	var link *models.UserBranchLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireVisible(tx, actor, userID); err != nil {
			return err
		}
		l, created, err := LinkTx(tx, userID, branchID)
		if err != nil {
			return err
		}
		link = l
		if !created {
			return nil
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityBranch,
			EntityID:   branchID,
			Action:     models.AuditActionLink,
			After:      link,
		})
	})
	if err != nil {
		return nil, apperr.FromDB(err, "link user to branch")
	}
	return link, nil
}

// Unlink removes a user from a branch. Removing an absent link is a no-op.
func (s *Service) Unlink(ctx context.Context, actor *models.User, userID, branchID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireVisible(tx, actor, userID); err != nil {
			return err
		}
		removed, err := UnlinkTx(tx, userID, branchID)
		if err != nil || !removed {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityBranch,
			EntityID:   branchID,
			Action:     models.AuditActionUnlink,
			Before:     models.UserBranchLink{UserID: userID, BranchID: branchID},
		})
	})
	return apperr.FromDB(err, "unlink user from branch")
}

// BranchesOf lists the branches of a user the actor can see.
func (s *Service) BranchesOf(ctx context.Context, actor *models.User, userID uuid.UUID) ([]models.Branch, error) {
	db := s.db.WithContext(ctx)
	if err := requireVisible(db, actor, userID); err != nil {
		return nil, apperr.FromDB(err, "list branches of user")
	}
	var out []models.Branch
	err := db.
		Joins("JOIN user_branch_links ON user_branch_links.branch_id = branches.id").
		Where("user_branch_links.user_id = ?", userID).
		Order("branches.name").
		Find(&out).Error
	if err != nil {
		return nil, apperr.FromDB(err, "list branches of user")
	}
	return out, nil
}

// UsersOf lists the members of a branch, filtered by what actor may see.
func (s *Service) UsersOf(ctx context.Context, actor *models.User, branchID uuid.UUID) ([]models.User, error) {
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return nil, err
	}
	var out []models.User
	q := s.db.WithContext(ctx).Model(&models.User{}).
		Joins("JOIN user_branch_links ON user_branch_links.user_id = users.id").
		Where("user_branch_links.branch_id = ?", branchID)
	err := rbac.Visibility(actor).Scope(q).
		Order(rbac.RankOrderSQL("users.role")).
		Order("users.email").
		Find(&out).Error
	if err != nil {
		return nil, apperr.FromDB(err, "list users of branch")
	}
	return out, nil
}

func (s *Service) IsMember(ctx context.Context, actor *models.User, userID, branchID uuid.UUID) (bool, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.GetBranch(ctx, branchID); err != nil {
		return false, err
	}
	if err := requireVisible(db, actor, userID); err != nil {
		return false, apperr.FromDB(err, "check membership")
	}
	var n int64
	err := db.Model(&models.UserBranchLink{}).
		Where("user_id = ? AND branch_id = ?", userID, branchID).
		Count(&n).Error
	if err != nil {
		return false, apperr.FromDB(err, "check membership")
	}
	return n > 0, nil
}

// RemoveAll drops every membership of a visible user and returns how many
// links were removed.
func (s *Service) RemoveAll(ctx context.Context, actor *models.User, userID uuid.UUID) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireVisible(tx, actor, userID); err != nil {
			return err
		}
		var before []uuid.UUID
		if err := tx.Model(&models.UserBranchLink{}).Where("user_id = ?", userID).Order("branch_id").Pluck("branch_id", &before).Error; err != nil {
			return err
		}
		n, err := UnlinkAll(tx, userID)
		if err != nil {
			return err
		}
		removed = n
		if n == 0 {
			return nil
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       actor,
			EntityType:  audit.EntityUser,
			EntityID:    userID,
			Action:      models.AuditActionUnlink,
			Before:      map[string]any{"branch_ids": before},
			Description: "removed from all branches",
		})
	})
	if err != nil {
		return 0, apperr.FromDB(err, "remove user from branches")
	}
	if removed > 0 {
		s.log.WithFields(logrus.Fields{"user_id": userID, "count": removed}).Info("user removed from all branches")
	}
	return removed, nil
}

func requireVisible(tx *gorm.DB, actor *models.User, userID uuid.UUID) error {
	var target models.User
	if err := tx.First(&target, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("user not found")
		}
		return err
	}
	if !rbac.CanView(actor, &target) {
		return apperr.NotFound("user not found")
	}
	return nil
}
