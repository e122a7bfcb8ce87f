// Package testutil provides an in-memory database and fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"cms-backend/internal/config"
	"cms-backend/internal/database"
	"cms-backend/internal/logging"
	"cms-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password is the plain password of every fixture user. It satisfies the
// password policy.
const Password = "Passw0rd!"

// NewDB opens a fresh migrated in-memory SQLite database for one test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.Config{
		DatabaseDSN: fmt.Sprintf("sqlite://file:%s?mode=memory&cache=private&_foreign_keys=1", uuid.NewString()),
	}
	db, err := database.Open(cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Clock is a manually advanced time source.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// CreateUser inserts a user directly, bypassing guards. creator may be nil.
func CreateUser(t testing.TB, db *gorm.DB, email string, role models.UserRole, creator *models.User) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(Password), bcrypt.MinCost)
	require.NoError(t, err)

	u := &models.User{
		Email:        models.NormalizeEmail(email),
		PasswordHash: string(hash),
		FullName:     email,
		Role:         role,
		IsActive:     true,
	}
	if creator != nil {
		id := creator.ID
		u.CreatedByID = &id
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func CreateBranch(t testing.TB, db *gorm.DB, name string) *models.Branch {
	t.Helper()
	b := &models.Branch{Name: name}
	require.NoError(t, db.Create(b).Error)
	return b
}

// Hierarchy is the lineage used across tests:
//
//	Admin
//	Senior -> Editor -> Cat1, Cat2
//	          Editor2 -> Cat3
type Hierarchy struct {
	Admin, Senior, Editor, Editor2, Cat1, Cat2, Cat3 *models.User
}

func SeedHierarchy(t testing.TB, db *gorm.DB) *Hierarchy {
	t.Helper()
	h := &Hierarchy{}
	h.Admin = CreateUser(t, db, "admin@example.com", models.RoleAdmin, nil)
	h.Senior = CreateUser(t, db, "senior@example.com", models.RoleSeniorEditor, h.Admin)
	h.Editor = CreateUser(t, db, "editor@example.com", models.RoleEditor, h.Senior)
	h.Editor2 = CreateUser(t, db, "editor2@example.com", models.RoleEditor, h.Senior)
	h.Cat1 = CreateUser(t, db, "cat1@example.com", models.RoleCategoryEditor, h.Editor)
	h.Cat2 = CreateUser(t, db, "cat2@example.com", models.RoleCategoryEditor, h.Editor)
	h.Cat3 = CreateUser(t, db, "cat3@example.com", models.RoleCategoryEditor, h.Editor2)
	return h
}

func (h *Hierarchy) All() []*models.User {
	return []*models.User{h.Admin, h.Senior, h.Editor, h.Editor2, h.Cat1, h.Cat2, h.Cat3}
}
