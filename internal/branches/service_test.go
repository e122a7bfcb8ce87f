package branches

import (
	"context"
	"testing"

	"cms-backend/internal/apperr"
	"cms-backend/internal/audit"
	"cms-backend/internal/logging"
	"cms-backend/internal/models"
	"cms-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB, *testutil.Hierarchy) {
	t.Helper()
	db := testutil.NewDB(t)
	h := testutil.SeedHierarchy(t, db)
	return NewService(db, logging.Discard()), db, h
}

func TestCreateBranch(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()

	b, err := svc.CreateBranch(ctx, h.Admin, BranchInput{Name: "  Istanbul ", Description: "HQ"})
	require.NoError(t, err)
	assert.Equal(t, "Istanbul", b.Name)
	require.NotNil(t, b.CreatedByID)
	assert.Equal(t, h.Admin.ID, *b.CreatedByID)

	_, err = svc.CreateBranch(ctx, h.Admin, BranchInput{Name: "Istanbul"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.CreateBranch(ctx, h.Admin, BranchInput{Name: "   "})
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)

	logs, err := audit.ListLogs(ctx, db, audit.Filter{EntityType: audit.EntityBranch})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionCreate, logs[0].Action)
}

func TestUpdateBranch(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	a := testutil.CreateBranch(t, db, "Ankara")
	testutil.CreateBranch(t, db, "Izmir")

	name := "Ankara Merkez"
	desc := "central"
	b, err := svc.UpdateBranch(ctx, h.Admin, a.ID, BranchUpdate{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Ankara Merkez", b.Name)
	assert.Equal(t, "central", b.Description)

	taken := "Izmir"
	_, err = svc.UpdateBranch(ctx, h.Admin, a.ID, BranchUpdate{Name: &taken})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.UpdateBranch(ctx, h.Admin, uuid.New(), BranchUpdate{Name: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLinkIsIdempotent(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	b := testutil.CreateBranch(t, db, "Bursa")

	_, err := svc.Link(ctx, h.Admin, h.Editor.ID, b.ID)
	require.NoError(t, err)
	_, err = svc.Link(ctx, h.Admin, h.Editor.ID, b.ID)
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&models.UserBranchLink{}).Where("branch_id = ?", b.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)

	ok, err := svc.IsMember(ctx, h.Admin, h.Editor.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Only the first link is audited.
	logs, err := audit.ListLogs(ctx, db, audit.Filter{EntityID: b.ID.String()})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestLinkRequiresExistingRows(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	b := testutil.CreateBranch(t, db, "Bursa")

	_, err := svc.Link(ctx, h.Admin, h.Editor.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Link(ctx, h.Admin, uuid.New(), b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLinkHidesInvisibleUsers(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	b := testutil.CreateBranch(t, db, "Bursa")

	// A senior editor cannot see admins.
	_, err := svc.Link(ctx, h.Senior, h.Admin.ID, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Link(ctx, h.Senior, h.Cat3.ID, b.ID)
	assert.NoError(t, err)
}

func TestUnlink(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	b := testutil.CreateBranch(t, db, "Bursa")

	_, err := svc.Link(ctx, h.Admin, h.Cat1.ID, b.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Unlink(ctx, h.Admin, h.Cat1.ID, b.ID))
	require.NoError(t, svc.Unlink(ctx, h.Admin, h.Cat1.ID, b.ID))

	ok, err := svc.IsMember(ctx, h.Admin, h.Cat1.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteBranchWithLinksFails(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	b := testutil.CreateBranch(t, db, "Antalya")

	_, err := svc.Link(ctx, h.Admin, h.Editor.ID, b.ID)
	require.NoError(t, err)

	err = svc.DeleteBranch(ctx, h.Admin, b.ID)
	assert.ErrorIs(t, err, ErrBranchInUse)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		n, err := UnlinkAll(tx, h.Editor.ID)
		assert.EqualValues(t, 1, n)
		return err
	}))

	require.NoError(t, svc.DeleteBranch(ctx, h.Admin, b.ID))
	_, err = svc.GetBranch(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = svc.DeleteBranch(ctx, h.Admin, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBranchesOfAndUsersOf(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	a := testutil.CreateBranch(t, db, "Adana")
	k := testutil.CreateBranch(t, db, "Konya")

	for _, u := range []*models.User{h.Cat1, h.Editor, h.Admin} {
		_, err := svc.Link(ctx, h.Admin, u.ID, a.ID)
		require.NoError(t, err)
	}
	_, err := svc.Link(ctx, h.Admin, h.Cat1.ID, k.ID)
	require.NoError(t, err)

	got, err := svc.BranchesOf(ctx, h.Editor, h.Cat1.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Adana", got[0].Name)
	assert.Equal(t, "Konya", got[1].Name)

	// Cat3 belongs to another editor.
	_, err = svc.BranchesOf(ctx, h.Editor, h.Cat3.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.BranchesOf(ctx, h.Senior, h.Admin.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	users, err := svc.UsersOf(ctx, h.Admin, a.ID)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, h.Admin.ID, users[0].ID)
	assert.Equal(t, h.Editor.ID, users[1].ID)
	assert.Equal(t, h.Cat1.ID, users[2].ID)

	// An editor only sees its own category editors.
	visible, err := svc.UsersOf(ctx, h.Editor, a.ID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, h.Cat1.ID, visible[0].ID)

	_, err = svc.UsersOf(ctx, h.Admin, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIsMemberChecksVisibility(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	b := testutil.CreateBranch(t, db, "Bursa")
	_, err := svc.Link(ctx, h.Admin, h.Cat3.ID, b.ID)
	require.NoError(t, err)

	ok, err := svc.IsMember(ctx, h.Senior, h.Cat3.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.IsMember(ctx, h.Editor, h.Cat3.ID, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.IsMember(ctx, h.Admin, h.Cat3.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveAll(t *testing.T) {
	svc, db, h := newService(t)
	ctx := context.Background()
	a := testutil.CreateBranch(t, db, "Adana")
	k := testutil.CreateBranch(t, db, "Konya")
	for _, b := range []*models.Branch{a, k} {
		_, err := svc.Link(ctx, h.Admin, h.Cat1.ID, b.ID)
		require.NoError(t, err)
	}
	_, err := svc.Link(ctx, h.Admin, h.Cat2.ID, a.ID)
	require.NoError(t, err)

	_, err = svc.RemoveAll(ctx, h.Senior, h.Admin.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := svc.RemoveAll(ctx, h.Senior, h.Cat1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := svc.BranchesOf(ctx, h.Admin, h.Cat1.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
	ok, err := svc.IsMember(ctx, h.Admin, h.Cat2.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	logs, err := audit.ListLogs(ctx, db, audit.Filter{EntityID: h.Cat1.ID.String()})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionUnlink, logs[0].Action)

	// Nothing left to remove; no second audit entry.
	n, err = svc.RemoveAll(ctx, h.Senior, h.Cat1.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	logs, err = audit.ListLogs(ctx, db, audit.Filter{EntityID: h.Cat1.ID.String()})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSyncUserBranches(t *testing.T) {
	_, db, h := newService(t)
	a := testutil.CreateBranch(t, db, "A")
	b := testutil.CreateBranch(t, db, "B")
	c := testutil.CreateBranch(t, db, "C")

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return SyncUserBranches(tx, h.Editor.ID, []uuid.UUID{a.ID, b.ID})
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return SyncUserBranches(tx, h.Editor.ID, []uuid.UUID{b.ID, c.ID})
	}))

	ids, err := BranchIDsOf(db, []uuid.UUID{h.Editor.ID, h.Cat1.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{b.ID, c.ID}, ids[h.Editor.ID])
	assert.Empty(t, ids[h.Cat1.ID])

	err = db.Transaction(func(tx *gorm.DB) error {
		return SyncUserBranches(tx, h.Editor.ID, []uuid.UUID{uuid.New()})
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// The failed sync rolled back.
	ids, err = BranchIDsOf(db, []uuid.UUID{h.Editor.ID})
	require.NoError(t, err)
	assert.Len(t, ids[h.Editor.ID], 2)
}
