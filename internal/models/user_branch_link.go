package models

import "github.com/google/uuid"

// UserBranchLink is the pure association between users and branches. Both
// foreign keys restrict deletion so a linked user or branch cannot disappear
// underneath the link.
type UserBranchLink struct {
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	BranchID uuid.UUID `gorm:"type:uuid;primaryKey;index"`

	User   *User   `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Branch *Branch `gorm:"foreignKey:BranchID;constraint:OnDelete:RESTRICT"`
}
