package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/models"
)

const singletonID = 1

// GormStore persists everything through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns a store on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&models.AuthData{},
		&models.SyncConfigRecord{},
		&models.SyncStatusRecord{},
		&models.ConflictRecord{},
		&models.CacheEntry{},
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDatabase, err, "failed to migrate schema")
	}
	return &GormStore{db: db}, nil
}

func dbErr(err error, msg string) error {
	return apperr.Wrap(apperr.KindDatabase, err, msg)
}

func (s *GormStore) loadAuth(ctx context.Context) (*models.AuthData, error) {
	var auth models.AuthData
	err := s.db.WithContext(ctx).First(&auth, singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, "failed to load auth data")
	}
	return &auth, nil
}

func (s *GormStore) LoadAuthToken(ctx context.Context) (string, error) {
	auth, err := s.loadAuth(ctx)
	if err != nil {
		return "", err
	}
	if auth == nil || auth.Token == "" {
		return "", apperr.New(apperr.KindAuthentication, "no auth token found")
	}
	return auth.Token, nil
}

func (s *GormStore) LoadUserID(ctx context.Context) (string, error) {
	auth, err := s.loadAuth(ctx)
	if err != nil {
		return "", err
	}
	if auth == nil || auth.UserID == "" {
		return "", apperr.New(apperr.KindAuthentication, "no user id found")
	}
	return auth.UserID, nil
}

func (s *GormStore) LoadDeviceID(ctx context.Context) (string, error) {
	auth, err := s.loadAuth(ctx)
	if err != nil {
		return "", err
	}
	if auth == nil || auth.DeviceID == "" {
		return "", apperr.New(apperr.KindDeviceNotFound, "no device id found")
	}
	return auth.DeviceID, nil
}

func (s *GormStore) upsertAuth(ctx context.Context, fields map[string]interface{}) error {
	var auth models.AuthData
	err := s.db.WithContext(ctx).
		Where(models.AuthData{ID: singletonID}).
		Assign(fields).
		FirstOrCreate(&auth).Error
	if err != nil {
		return dbErr(err, "failed to save auth data")
	}
	return nil
}

func (s *GormStore) SaveAuthData(ctx context.Context, token, userID string) error {
	return s.upsertAuth(ctx, map[string]interface{}{"token": token, "user_id": userID})
}

func (s *GormStore) SaveDeviceID(ctx context.Context, deviceID string) error {
	return s.upsertAuth(ctx, map[string]interface{}{"device_id": deviceID})
}

func (s *GormStore) ClearAuthData(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&models.AuthData{}, singletonID).Error; err != nil {
		return dbErr(err, "failed to clear auth data")
	}
	return nil
}

// LoadSyncConfig falls back to config.DefaultSyncConfig when nothing is stored
// or the stored document cannot be decoded.
func (s *GormStore) LoadSyncConfig(ctx context.Context) (*config.SyncConfig, error) {
	var rec models.SyncConfigRecord
	err := s.db.WithContext(ctx).First(&rec, singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return config.DefaultSyncConfig(), nil
	}
	if err != nil {
		return nil, dbErr(err, "failed to load sync config")
	}

	cfg := config.DefaultSyncConfig()
	if err := json.Unmarshal(rec.ConfigData, cfg); err != nil {
		log.Printf("⚠️ Stored sync config is unreadable, using defaults: %v", err)
		return config.DefaultSyncConfig(), nil
	}
	return cfg, nil
}

func (s *GormStore) SaveSyncConfig(ctx context.Context, cfg *config.SyncConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return apperr.Wrap(apperr.KindSerialization, err, "failed to encode sync config")
	}
	rec := models.SyncConfigRecord{ID: singletonID, ConfigData: data}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return dbErr(err, "failed to save sync config")
	}
	return nil
}

func (s *GormStore) LoadSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	var rec models.SyncStatusRecord
	err := s.db.WithContext(ctx).First(&rec, singletonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.SyncStatus{Status: models.SyncStateIdle}, nil
	}
	if err != nil {
		return nil, dbErr(err, "failed to load sync status")
	}
	return &models.SyncStatus{
		Status:       models.SyncStateIdle,
		LastSyncTime: rec.LastSyncTime,
		PendingItems: rec.PendingItems,
		SyncErrors:   rec.SyncErrors,
		TotalSynced:  rec.TotalSynced,
		DataUsage:    rec.DataUsage,
	}, nil
}

func (s *GormStore) SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	rec := models.SyncStatusRecord{
		ID:           singletonID,
		LastSyncTime: status.LastSyncTime,
		PendingItems: status.PendingItems,
		SyncErrors:   status.SyncErrors,
		TotalSynced:  status.TotalSynced,
		DataUsage:    status.DataUsage,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return dbErr(err, "failed to save sync status")
	}
	return nil
}

func (s *GormStore) SaveConflict(ctx context.Context, conflict *models.SyncConflict) error {
	rec, err := models.NewConflictRecord(conflict)
	if err != nil {
		return apperr.Wrap(apperr.KindSerialization, err, "failed to encode conflict")
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return dbErr(err, "failed to save conflict")
	}
	return nil
}

// LoadConflicts returns conflicts ordered by detection time. An empty status
// returns every conflict.
func (s *GormStore) LoadConflicts(ctx context.Context, status models.ConflictStatus) ([]models.SyncConflict, error) {
	query := s.db.WithContext(ctx).Order("detected_at asc")
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var records []models.ConflictRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, dbErr(err, "failed to load conflicts")
	}

	conflicts := make([]models.SyncConflict, 0, len(records))
	for i := range records {
		c, err := records[i].ToConflict()
		if err != nil {
			log.Printf("⚠️ Skipping unreadable conflict record: %v", err)
			continue
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, nil
}

func (s *GormStore) DeleteConflict(ctx context.Context, conflictID string) error {
	err := s.db.WithContext(ctx).Delete(&models.ConflictRecord{}, "conflict_id = ?", conflictID).Error
	if err != nil {
		return dbErr(err, "failed to delete conflict")
	}
	return nil
}

func (s *GormStore) SetCache(ctx context.Context, key, value string, ttl time.Duration) error {
	now := time.Now().UTC()
	entry := models.CacheEntry{Key: key, Value: value, ExpiresAt: expiry(now, ttl), CreatedAt: now}
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return dbErr(err, "failed to write cache entry")
	}
	return nil
}

// GetCache deletes the entry when it has expired.
func (s *GormStore) GetCache(ctx context.Context, key string) (string, bool, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).First(&entry, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbErr(err, "failed to read cache entry")
	}
	if entry.Expired(time.Now()) {
		if err := s.DeleteCache(ctx, key); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *GormStore) DeleteCache(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&models.CacheEntry{}, "cache_key = ?", key).Error; err != nil {
		return dbErr(err, "failed to delete cache entry")
	}
	return nil
}

func (s *GormStore) ClearExpiredCache(ctx context.Context) (int, error) {
	var entries []models.CacheEntry
	if err := s.db.WithContext(ctx).Where("expires_at IS NOT NULL").Find(&entries).Error; err != nil {
		return 0, dbErr(err, "failed to scan cache")
	}

	now := time.Now()
	removed := 0
	for i := range entries {
		if !entries[i].Expired(now) {
			continue
		}
		if err := s.DeleteCache(ctx, entries[i].Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
