package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/models"
)

// MemoryStore keeps everything in process memory. It backs the "memory"
// database driver and the component tests.
type MemoryStore struct {
	mu        sync.RWMutex
	auth      models.AuthData
	syncCfg   *config.SyncConfig
	status    *models.SyncStatus
	conflicts map[string]models.SyncConflict
	cache     map[string]models.CacheEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conflicts: make(map[string]models.SyncConflict),
		cache:     make(map[string]models.CacheEntry),
	}
}

func (s *MemoryStore) LoadAuthToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth.Token == "" {
		return "", apperr.New(apperr.KindAuthentication, "no auth token found")
	}
	return s.auth.Token, nil
}

func (s *MemoryStore) LoadUserID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth.UserID == "" {
		return "", apperr.New(apperr.KindAuthentication, "no user id found")
	}
	return s.auth.UserID, nil
}

func (s *MemoryStore) LoadDeviceID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.auth.DeviceID == "" {
		return "", apperr.New(apperr.KindDeviceNotFound, "no device id found")
	}
	return s.auth.DeviceID, nil
}

func (s *MemoryStore) SaveAuthData(ctx context.Context, token, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth.Token, s.auth.UserID = token, userID
	return nil
}

func (s *MemoryStore) SaveDeviceID(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth.DeviceID = deviceID
	return nil
}

func (s *MemoryStore) ClearAuthData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = models.AuthData{}
	return nil
}

func (s *MemoryStore) LoadSyncConfig(ctx context.Context) (*config.SyncConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.syncCfg == nil {
		return config.DefaultSyncConfig(), nil
	}
	return s.syncCfg.Clone(), nil
}

func (s *MemoryStore) SaveSyncConfig(ctx context.Context, cfg *config.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncCfg = cfg.Clone()
	return nil
}

func (s *MemoryStore) LoadSyncStatus(ctx context.Context) (*models.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return &models.SyncStatus{Status: models.SyncStateIdle}, nil
	}
	out := *s.status
	return &out, nil
}

func (s *MemoryStore) SaveSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.status = &cp
	return nil
}

func (s *MemoryStore) SaveConflict(ctx context.Context, conflict *models.SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[conflict.ConflictID] = *conflict
	return nil
}

func (s *MemoryStore) LoadConflicts(ctx context.Context, status models.ConflictStatus) ([]models.SyncConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SyncConflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteConflict(ctx context.Context, conflictID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conflicts, conflictID)
	return nil
}

func (s *MemoryStore) SetCache(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.cache[key] = models.CacheEntry{Key: key, Value: value, ExpiresAt: expiry(now, ttl), CreatedAt: now}
	return nil
}

func (s *MemoryStore) GetCache(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok {
		return "", false, nil
	}
	if entry.Expired(time.Now()) {
		delete(s.cache, key)
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *MemoryStore) DeleteCache(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	return nil
}

func (s *MemoryStore) ClearExpiredCache(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range s.cache {
		if entry.Expired(now) {
			delete(s.cache, key)
			removed++
		}
	}
	return removed, nil
}
