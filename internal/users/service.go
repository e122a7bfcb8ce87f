// Package users implements account management on top of the visibility and
// permission rules in package rbac.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"cms-backend/internal/apperr"
	"cms-backend/internal/audit"
	"cms-backend/internal/auth"
	"cms-backend/internal/branches"
	"cms-backend/internal/database"
	"cms-backend/internal/media"
	"cms-backend/internal/models"
	"cms-backend/internal/rbac"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Deps struct {
	DB     *gorm.DB
	Hasher auth.PasswordHasher
	Images media.ImageStore
	Log    *logrus.Logger
	Now    func() time.Time
}

type Service struct {
	Deps
}

func NewService(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{Deps: deps}
}

type CreateInput struct {
	Email     string
	Password  string
	FullName  string
	Role      models.UserRole
	BranchIDs []uuid.UUID
}

type SelfUpdate struct {
	Email           *string
	FullName        *string
	CurrentPassword string
	NewPassword     *string
}

type UserUpdate struct {
	Email     *string
	FullName  *string
	Role      *models.UserRole
	IsActive  *bool
	BranchIDs *[]uuid.UUID
}

type ListFilter struct {
	Role     *models.UserRole
	IsActive *bool
	Offset   int
	Limit    int
}

type Page struct {
	Items  []models.User
	Total  int64
	Offset int
	Limit  int
}

// BootstrapAdmin creates the first admin. It only succeeds while no admin
// exists; the check and insert share a serializable transaction.
func (s *Service) BootstrapAdmin(ctx context.Context, in CreateInput) (*models.User, error) {
	in.Role = models.RoleAdmin
	in.BranchIDs = nil
	user, hash, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var admins int64
		if err := tx.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&admins).Error; err != nil {
			return err
		}
		if admins > 0 {
			return apperr.Forbidden("an admin already exists")
		}
		if err := createUser(tx, user); err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			EntityType:  audit.EntityUser,
			EntityID:    user.ID,
			Action:      models.AuditActionCreate,
			Description: "first admin bootstrap",
			After:       user,
		})
	}, database.Serializable(s.DB)...)
	if err != nil {
		return nil, apperr.FromDB(err, "bootstrap admin")
	}
	s.Log.WithField("user_id", user.ID).Info("first admin created")
	return user, nil
}

// CreateUser creates an account on behalf of actor. The new user's creator is
// always the actor.
func (s *Service) CreateUser(ctx context.Context, actor *models.User, in CreateInput) (*models.User, error) {
	if err := rbac.CheckCreate(actor, in.Role); err != nil {
		return nil, err
	}
	if len(in.BranchIDs) > 0 {
		if err := rbac.RequireAny(actor, models.RoleAdmin, models.RoleSeniorEditor); err != nil {
			return nil, apperr.Forbidden("only admins and senior editors assign branches")
		}
	}
	user, hash, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	creator := actor.ID
	user.CreatedByID = &creator

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createUser(tx, user); err != nil {
			return err
		}
		if len(in.BranchIDs) > 0 {
			if err := branches.SyncUserBranches(tx, user.ID, in.BranchIDs); err != nil {
				return err
			}
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Action:     models.AuditActionCreate,
			After:      user,
		})
	})
	if err != nil {
		return nil, apperr.FromDB(err, "create user")
	}
	s.Log.WithFields(logrus.Fields{"actor_id": actor.ID, "user_id": user.ID, "role": user.Role}).Info("user created")
	return user, nil
}

func (s *Service) CanView(actor, target *models.User) bool {
	return rbac.CanView(actor, target)
}

// GetUser returns NotFound both for missing users and for users actor cannot see.
func (s *Service) GetUser(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, apperr.FromDB(err, "user not found")
	}
	if !rbac.CanView(actor, &user) {
		return nil, apperr.NotFound("user not found")
	}
	return &user, nil
}

// ListUsers returns the users actor can see, most privileged first.
func (s *Service) ListUsers(ctx context.Context, actor *models.User, f ListFilter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := rbac.Visibility(actor).Scope(s.DB.WithContext(ctx).Model(&models.User{}))
	if f.Role != nil {
		q = q.Where("users.role = ?", *f.Role)
	}
	if f.IsActive != nil {
		q = q.Where("users.is_active = ?", *f.IsActive)
	}

	page := &Page{Items: []models.User{}, Offset: f.Offset, Limit: f.Limit}
	if err := q.Session(&gorm.Session{}).Count(&page.Total).Error; err != nil {
		return nil, apperr.FromDB(err, "count users")
	}
	err := q.Order(rbac.RankOrderSQL("users.role")).
		Order("users.created_at").
		Order("users.id").
		Offset(f.Offset).Limit(f.Limit).
		Find(&page.Items).Error
	if err != nil {
		return nil, apperr.FromDB(err, "list users")
	}
	return page, nil
}

// UpdateSelf changes the actor's own email, name or password. A new password
// needs the current one.
func (s *Service) UpdateSelf(ctx context.Context, actor *models.User, in SelfUpdate) (*models.User, error) {
	updates := map[string]any{}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		updates["email"] = email
	}
	if in.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*in.FullName)
	}
	if in.NewPassword != nil {
		if err := auth.ValidatePassword(*in.NewPassword); err != nil {
			return nil, err
		}
		if !s.Hasher.Verify(in.CurrentPassword, actor.PasswordHash) {
			return nil, apperr.ErrInvalidCredentials
		}
		hash, err := s.Hasher.Hash(*in.NewPassword)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
		updates["must_change_password"] = false
	}

	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&user, "id = ?", actor.ID).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		before := user
		updates["updated_at"] = s.Now()
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&user, "id = ?", actor.ID).Error; err != nil {
			return err
		}
		if in.NewPassword != nil {
			if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
				return err
			}
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       actor,
			EntityType:  audit.EntityUser,
			EntityID:    user.ID,
			Action:      models.AuditActionUpdate,
			Description: "self update",
			Before:      before,
			After:       user,
		})
	})
	if err != nil {
		return nil, emailConflict(apperr.FromDB(err, "update user"))
	}
	return &user, nil
}

// SetPicture stores a new profile picture for the actor and drops the old one.
func (s *Service) SetPicture(ctx context.Context, actor *models.User, data []byte) (*models.User, error) {
	ref, err := s.Images.Save(ctx, actor.ID, data)
	if err != nil {
		return nil, err
	}

	var user models.User
	var old string
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.ForUpdate(tx).First(&user, "id = ?", actor.ID).Error; err != nil {
			return err
		}
		old = user.PictureRef
		if err := tx.Model(&user).Updates(map[string]any{"picture_ref": ref, "updated_at": s.Now()}).Error; err != nil {
			return err
		}
		return tx.First(&user, "id = ?", actor.ID).Error
	})
	if err != nil {
		if derr := s.Images.Delete(ctx, ref); derr != nil {
			s.Log.WithError(derr).WithField("ref", ref).Warn("remove orphaned picture")
		}
		return nil, apperr.FromDB(err, "set picture")
	}
	if old != "" && old != ref {
		if err := s.Images.Delete(ctx, old); err != nil {
			s.Log.WithError(err).WithField("ref", old).Warn("remove previous picture")
		}
	}
	return &user, nil
}

// UpdateUser is the privileged update. Actors cannot change their own role or
// active flag here.
func (s *Service) UpdateUser(ctx context.Context, actor *models.User, id uuid.UUID, in UserUpdate) (*models.User, error) {
	updates := map[string]any{}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		updates["email"] = email
	}
	if in.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*in.FullName)
	}
	if in.Role != nil && !in.Role.Valid() {
		return nil, apperr.Validation("unknown role")
	}
	if in.BranchIDs != nil {
		if err := rbac.RequireAny(actor, models.RoleAdmin, models.RoleSeniorEditor); err != nil {
			return nil, apperr.Forbidden("only admins and senior editors assign branches")
		}
	}

	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadManaged(tx, actor, id, &user); err != nil {
			return err
		}
		if err := rbac.CheckUpdate(actor, &user); err != nil {
			return err
		}
		self := actor.ID == user.ID
		if in.Role != nil && *in.Role != user.Role {
			if self {
				return apperr.Forbidden("you cannot change your own role")
			}
			if err := rbac.CheckRoleChange(actor, user.Role, *in.Role); err != nil {
				return err
			}
			updates["role"] = *in.Role
		}
		if in.IsActive != nil && *in.IsActive != user.IsActive {
			if self {
				return apperr.Forbidden("you cannot change your own active status")
			}
			if err := rbac.CheckDeactivateReactivate(actor, &user); err != nil {
				return err
			}
			updates["is_active"] = *in.IsActive
		}

		before := user
		if len(updates) > 0 {
			updates["updated_at"] = s.Now()
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.First(&user, "id = ?", id).Error; err != nil {
				return err
			}
		}
		if in.BranchIDs != nil {
			if err := branches.SyncUserBranches(tx, user.ID, *in.BranchIDs); err != nil {
				return err
			}
		}
		if len(updates) == 0 && in.BranchIDs == nil {
			return nil
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Action:     models.AuditActionUpdate,
			Before:     before,
			After:      user,
		})
	})
	if err != nil {
		return nil, emailConflict(apperr.FromDB(err, "update user"))
	}
	return &user, nil
}

func (s *Service) Deactivate(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	return s.setActive(ctx, actor, id, false)
}

func (s *Service) Reactivate(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	return s.setActive(ctx, actor, id, true)
}

func (s *Service) setActive(ctx context.Context, actor *models.User, id uuid.UUID, active bool) (*models.User, error) {
	if err := rbac.PreventSelfAction(actor, id); err != nil {
		return nil, err
	}
	action := models.AuditActionDeactivate
	if active {
		action = models.AuditActionReactivate
	}

	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadManaged(tx, actor, id, &user); err != nil {
			return err
		}
		if err := rbac.CheckDeactivateReactivate(actor, &user); err != nil {
			return err
		}
		if user.IsActive == active {
			return nil
		}
		if err := tx.Model(&user).Updates(map[string]any{"is_active": active, "updated_at": s.Now()}).Error; err != nil {
			return err
		}
		user.IsActive = active
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Action:     action,
		})
	})
	if err != nil {
		return nil, apperr.FromDB(err, string(action)+" user")
	}
	s.Log.WithFields(logrus.Fields{"actor_id": actor.ID, "user_id": id, "active": active}).Info("user active flag set")
	return &user, nil
}

// DeleteUser removes the user's branch links and then the user, in one
// transaction. Users and branches the deleted user created keep existing with
// a null creator.
func (s *Service) DeleteUser(ctx context.Context, actor *models.User, id uuid.UUID) error {
	if err := rbac.PreventSelfAction(actor, id); err != nil {
		return err
	}

	var user models.User
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadManaged(tx, actor, id, &user); err != nil {
			return err
		}
		if err := rbac.CheckDelete(actor, &user); err != nil {
			return err
		}

		if _, err := branches.UnlinkAll(tx, user.ID); err != nil {
			return err
		}
		if err := tx.Model(&models.User{}).Where("created_by_id = ?", user.ID).Update("created_by_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Branch{}).Where("created_by_id = ?", user.ID).Update("created_by_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&user).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:      actor,
			EntityType: audit.EntityUser,
			EntityID:   user.ID,
			Action:     models.AuditActionDelete,
			Before:     user,
		})
	})
	if err != nil {
		return apperr.FromDB(err, "delete user")
	}

	if user.PictureRef != "" && s.Images != nil {
		if err := s.Images.Delete(ctx, user.PictureRef); err != nil {
			s.Log.WithError(err).WithField("ref", user.PictureRef).Warn("remove picture of deleted user")
		}
	}
	s.Log.WithFields(logrus.Fields{"actor_id": actor.ID, "user_id": id}).Info("user deleted")
	return nil
}

// BranchIDs returns the branch ids of each user, keyed by user id.
func (s *Service) BranchIDs(ctx context.Context, list ...models.User) (map[uuid.UUID][]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(list))
	for _, u := range list {
		ids = append(ids, u.ID)
	}
	out, err := branches.BranchIDsOf(s.DB.WithContext(ctx), ids)
	if err != nil {
		return nil, apperr.FromDB(err, "load branches")
	}
	return out, nil
}

// loadManaged locks the target row. Missing and invisible targets are both
// NotFound.
func (s *Service) loadManaged(tx *gorm.DB, actor *models.User, id uuid.UUID, into *models.User) error {
	if err := database.ForUpdate(tx).First(into, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("user not found")
		}
		return err
	}
	if !rbac.CanView(actor, into) {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (s *Service) prepare(in CreateInput) (*models.User, string, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, "", err
	}
	if !in.Role.Valid() {
		return nil, "", apperr.Validation("unknown role")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, "", err
	}
	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, "", err
	}
	return &models.User{
		Email:    email,
		FullName: strings.TrimSpace(in.FullName),
		Role:     in.Role,
		IsActive: true,
	}, hash, nil
}

func createUser(tx *gorm.DB, user *models.User) error {
	if err := tx.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("email already registered")
		}
		return err
	}
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := models.NormalizeEmail(raw)
	if !models.ValidEmail(email) {
		return "", apperr.Validation("malformed email address")
	}
	return email, nil
}

// emailConflict turns a unique-key conflict on update into a readable message.
func emailConflict(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind == apperr.KindConflict && errors.Is(e.Err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("email already registered")
	}
	return err
}
