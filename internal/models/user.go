package models

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	RoleAdmin          UserRole = "admin"
	RoleSeniorEditor   UserRole = "senior_editor"
	RoleEditor         UserRole = "editor"
	RoleCategoryEditor UserRole = "category_editor"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeniorEditor, RoleEditor, RoleCategoryEditor:
		return true
	}
	return false
}

type User struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email              string    `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash       string    `gorm:"size:255;not null" json:"-"`
	FullName           string    `gorm:"size:150"`
	Role               UserRole  `gorm:"size:32;not null;index"`
	IsActive           bool      `gorm:"not null;default:true"`
	MustChangePassword bool      `gorm:"not null;default:false"`
	PictureRef         string    `gorm:"size:255"`
	LastLogin          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Set once at creation from the acting user; never rewritten.
	CreatedByID *uuid.UUID `gorm:"type:uuid;index"`
	CreatedBy   *User      `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// NormalizeEmail is applied before every lookup and insert so that uniqueness
// is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a bare address. Display-name forms
// such as "Name <a@b.c>" parse but are rejected.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
