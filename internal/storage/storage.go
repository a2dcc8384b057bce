// Package storage is the key/record store shared by the sync components:
// session credentials, the sync configuration, conflict records, sync
// counters and a string cache with optional expiry.
package storage

import (
	"context"
	"time"

	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/models"
)

// Store is implemented by GormStore and MemoryStore.
type Store interface {
	LoadAuthToken(ctx context.Context) (string, error)
	LoadUserID(ctx context.Context) (string, error)
	LoadDeviceID(ctx context.Context) (string, error)
	SaveAuthData(ctx context.Context, token, userID string) error
	SaveDeviceID(ctx context.Context, deviceID string) error
	ClearAuthData(ctx context.Context) error

	LoadSyncConfig(ctx context.Context) (*config.SyncConfig, error)
	SaveSyncConfig(ctx context.Context, cfg *config.SyncConfig) error

	LoadSyncStatus(ctx context.Context) (*models.SyncStatus, error)
	SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error

	SaveConflict(ctx context.Context, conflict *models.SyncConflict) error
	LoadConflicts(ctx context.Context, status models.ConflictStatus) ([]models.SyncConflict, error)
	DeleteConflict(ctx context.Context, conflictID string) error

	SetCache(ctx context.Context, key, value string, ttl time.Duration) error
	GetCache(ctx context.Context, key string) (string, bool, error)
	DeleteCache(ctx context.Context, key string) error
	ClearExpiredCache(ctx context.Context) (int, error)
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}
