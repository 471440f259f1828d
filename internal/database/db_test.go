package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/uconnect/uconnect/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(context.Background(), db))
}

func TestOpenSQLiteFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "uconnect.sqlite")

	db, err := Open(Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, AutoMigrate(db))
	require.FileExists(t, path)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestAutoMigrateCreatesSchema(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	for _, model := range []any{&models.Account{}, &models.Post{}, &models.PostLike{}, &models.Comment{}, &models.AuditLog{}, &models.CacheEntry{}} {
		require.True(t, db.Migrator().HasTable(model), "%T", model)
	}
	require.True(t, db.Migrator().HasColumn(&models.Post{}, "media_url"))
	require.True(t, db.Migrator().HasIndex(&models.Account{}, "Email"))
}

func TestPostLikeIsUniquePerAccount(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	owner := models.Account{Name: "Owner", Username: "owner", Email: "owner@campus.edu", Password: "x", Role: models.RoleUser}
	require.NoError(t, db.Create(&owner).Error)
	post := models.Post{OwnerID: owner.ID, Content: "hello", Category: models.DefaultCategory}
	require.NoError(t, db.Create(&post).Error)

	require.NoError(t, db.Create(&models.PostLike{PostID: post.ID, AccountID: owner.ID}).Error)
	require.Error(t, db.Create(&models.PostLike{PostID: post.ID, AccountID: owner.ID}).Error)
}

func TestAutoMigrateNilHandle(t *testing.T) {
	require.Error(t, AutoMigrate(nil))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := Open(Config{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	return db
}
