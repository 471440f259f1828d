package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/uconnect/uconnect/internal/database/testutil"
	"github.com/uconnect/uconnect/internal/models"
)

func TestDatabaseStoreIncrementWithinWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)

	current := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	count, ttl, err := store.IncrementWithTTL(context.Background(), "login|10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)

	current = current.Add(20 * time.Second)
	count, ttl, err = store.IncrementWithTTL(context.Background(), "login|10.0.0.1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.Equal(t, 40*time.Second, ttl)

	count, _, err = store.IncrementWithTTL(context.Background(), "login|10.0.0.2", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count, "keys are counted independently")
}

func TestDatabaseStoreResetsAfterWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)

	current := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		_, _, err := store.IncrementWithTTL(context.Background(), "k", time.Minute)
		require.NoError(t, err)
	}

	current = current.Add(2 * time.Minute)
	count, ttl, err := store.IncrementWithTTL(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, time.Minute, ttl)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, db.Create(&models.CacheEntry{Key: "old", Value: []byte("3"), ExpiresAt: now.Add(-time.Second)}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{Key: "live", Value: []byte("1"), ExpiresAt: now.Add(time.Minute)}).Error)

	removed, err := store.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	var remaining int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&remaining).Error)
	require.Equal(t, int64(1), remaining)
}

func TestNilStores(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))
	require.Nil(t, NewRedisStore(nil))

	var ds *DatabaseStore
	_, _, err := ds.IncrementWithTTL(context.Background(), "k", time.Minute)
	require.Error(t, err)

	var rs *RedisStore
	_, _, err = rs.IncrementWithTTL(context.Background(), "k", time.Minute)
	require.Error(t, err)
}

func TestNewRedisClientRequiresAddress(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{Address: "  "})
	require.ErrorContains(t, err, "address is required")
}
