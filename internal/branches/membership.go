package branches

import (
	"errors"

	"cms-backend/internal/apperr"
	"cms-backend/internal/database"
	"cms-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The functions in this file run inside a caller's transaction so that
// membership changes commit together with the surrounding user mutation.

// LinkTx adds the user to the branch. It share-locks the branch row, which
// conflicts with DeleteBranch's exclusive lock, so a link and a branch delete
// cannot both succeed. created is false when the link already existed.
func LinkTx(tx *gorm.DB, userID, branchID uuid.UUID) (link *models.UserBranchLink, created bool, err error) {
	var branch models.Branch
	if err := database.ForShare(tx).Select("id").First(&branch, "id = ?", branchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.NotFound("branch not found")
		}
		return nil, false, err
	}
	var n int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, apperr.NotFound("user not found")
	}

	link = &models.UserBranchLink{UserID: userID, BranchID: branchID}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(link)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return link, res.RowsAffected > 0, nil
}

// UnlinkTx removes the link if present. removed is false when there was none.
func UnlinkTx(tx *gorm.DB, userID, branchID uuid.UUID) (removed bool, err error) {
	res := tx.Where("user_id = ? AND branch_id = ?", userID, branchID).Delete(&models.UserBranchLink{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UnlinkAll drops every membership of the user. User deletion calls it in the
// same transaction as the delete.
func UnlinkAll(tx *gorm.DB, userID uuid.UUID) (int64, error) {
	res := tx.Where("user_id = ?", userID).Delete(&models.UserBranchLink{})
	return res.RowsAffected, res.Error
}

// SyncUserBranches makes the user's memberships equal to branchIDs.
func SyncUserBranches(tx *gorm.DB, userID uuid.UUID, branchIDs []uuid.UUID) error {
	var current []uuid.UUID
	if err := tx.Model(&models.UserBranchLink{}).Where("user_id = ?", userID).Pluck("branch_id", &current).Error; err != nil {
		return err
	}

	want := make(map[uuid.UUID]bool, len(branchIDs))
	for _, id := range branchIDs {
		want[id] = true
	}
	have := make(map[uuid.UUID]bool, len(current))
	for _, id := range current {
		have[id] = true
		if !want[id] {
			if _, err := UnlinkTx(tx, userID, id); err != nil {
				return err
			}
		}
	}
	for id := range want {
		if !have[id] {
			if _, _, err := LinkTx(tx, userID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// BranchIDsOf returns the branch ids of each given user.
func BranchIDsOf(tx *gorm.DB, userIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var links []models.UserBranchLink
	if err := tx.Where("user_id IN ?", userIDs).Order("branch_id").Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		out[l.UserID] = append(out[l.UserID], l.BranchID)
	}
	return out, nil
}
