package database_test

import (
	"testing"

	"cms-backend/internal/models"
	"cms-backend/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type foreignKey struct {
	Table string `gorm:"column:table"`
	From  string `gorm:"column:from"`
	To    string `gorm:"column:to"`
}

func foreignKeys(t *testing.T, db *gorm.DB, table string) []foreignKey {
	t.Helper()
	var out []foreignKey
	require.NoError(t, db.Raw("SELECT * FROM pragma_foreign_key_list(?)", table).Scan(&out).Error)
	return out
}

func TestMigrateUserCreatorReferencesUsers(t *testing.T) {
	db := testutil.NewDB(t)

	fks := foreignKeys(t, db, "users")
	require.Len(t, fks, 1)
	assert.Equal(t, foreignKey{Table: "users", From: "created_by_id", To: "id"}, fks[0])

	assert.Empty(t, foreignKeys(t, db, "branches"))

	links := map[string]string{}
	for _, fk := range foreignKeys(t, db, "user_branch_links") {
		links[fk.From] = fk.Table
	}
	assert.Equal(t, map[string]string{"user_id": "users", "branch_id": "branches"}, links)
}

func TestMigrateAcceptsCreatorChain(t *testing.T) {
	db := testutil.NewDB(t)

	admin := testutil.CreateUser(t, db, "admin@example.com", models.RoleAdmin, nil)
	editor := testutil.CreateUser(t, db, "editor@example.com", models.RoleEditor, admin)
	testutil.CreateUser(t, db, "cat@example.com", models.RoleCategoryEditor, editor)

	var n int64
	require.NoError(t, db.Model(&models.User{}).Where("created_by_id IS NOT NULL").Count(&n).Error)
	assert.EqualValues(t, 2, n)
}
