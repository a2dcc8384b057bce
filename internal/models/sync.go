package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONText stores raw JSON in a text column. It scans from both string and
// []byte so the same record works on sqlite and postgres.
type JSONText json.RawMessage

// Scan implements sql.Scanner interface
func (j *JSONText) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("failed to scan JSONText value: %T", value)
	}
	return nil
}

// Value implements driver.Valuer interface
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// AuthData holds the session credentials of this device. Single row, ID 1.
type AuthData struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"type:text" json:"token"`
	UserID    string    `gorm:"type:varchar(255)" json:"user_id"`
	DeviceID  string    `gorm:"type:varchar(255)" json:"device_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AuthData) TableName() string {
	return "auth_data"
}

// SyncConfigRecord stores the serialized sync configuration. Single row, ID 1.
type SyncConfigRecord struct {
	ID         uint     `gorm:"primaryKey"`
	ConfigData JSONText `gorm:"type:text;not null"`
	UpdatedAt  time.Time
}

func (SyncConfigRecord) TableName() string {
	return "sync_config"
}

// SyncStatusRecord holds the persisted sync counters. Single row, ID 1.
type SyncStatusRecord struct {
	ID           uint `gorm:"primaryKey"`
	LastSyncTime *time.Time
	PendingItems int   `gorm:"default:0"`
	SyncErrors   int   `gorm:"default:0"`
	TotalSynced  int   `gorm:"default:0"`
	DataUsage    int64 `gorm:"default:0"`
	UpdatedAt    time.Time
}

func (SyncStatusRecord) TableName() string {
	return "sync_status"
}

// ConflictRecord is the persisted form of SyncConflict.
type ConflictRecord struct {
	ConflictID   string    `gorm:"type:varchar(64);primaryKey"`
	LocalItem    JSONText  `gorm:"type:text;not null"`
	RemoteItem   JSONText  `gorm:"type:text;not null"`
	ConflictType string    `gorm:"type:varchar(50);not null"`
	DeviceID     string    `gorm:"type:varchar(255)"`
	Status       string    `gorm:"type:varchar(50);default:'pending';index:idx_conflict_status"`
	Resolution   JSONText  `gorm:"type:text"`
	DetectedAt   time.Time `gorm:"not null;index:idx_conflict_detected"`
	ResolvedAt   *time.Time
}

func (ConflictRecord) TableName() string {
	return "sync_conflicts"
}

// ToConflict decodes the record.
func (r *ConflictRecord) ToConflict() (*SyncConflict, error) {
	c := &SyncConflict{
		ConflictID:   r.ConflictID,
		ConflictType: ConflictType(r.ConflictType),
		DetectedAt:   r.DetectedAt,
		DeviceID:     r.DeviceID,
		Status:       ConflictStatus(r.Status),
	}
	if err := json.Unmarshal(r.LocalItem, &c.LocalItem); err != nil {
		return nil, fmt.Errorf("decode local item of %s: %w", r.ConflictID, err)
	}
	if err := json.Unmarshal(r.RemoteItem, &c.RemoteItem); err != nil {
		return nil, fmt.Errorf("decode remote item of %s: %w", r.ConflictID, err)
	}
	if len(r.Resolution) > 0 {
		c.Resolution = &ConflictResolution{}
		if err := json.Unmarshal(r.Resolution, c.Resolution); err != nil {
			return nil, fmt.Errorf("decode resolution of %s: %w", r.ConflictID, err)
		}
	}
	return c, nil
}

// NewConflictRecord encodes a conflict for storage.
func NewConflictRecord(c *SyncConflict) (*ConflictRecord, error) {
	local, err := json.Marshal(c.LocalItem)
	if err != nil {
		return nil, err
	}
	remote, err := json.Marshal(c.RemoteItem)
	if err != nil {
		return nil, err
	}
	rec := &ConflictRecord{
		ConflictID:   c.ConflictID,
		LocalItem:    local,
		RemoteItem:   remote,
		ConflictType: string(c.ConflictType),
		DeviceID:     c.DeviceID,
		Status:       string(c.Status),
		DetectedAt:   c.DetectedAt,
	}
	if c.Resolution != nil {
		res, err := json.Marshal(c.Resolution)
		if err != nil {
			return nil, err
		}
		rec.Resolution = res
		resolvedAt := c.Resolution.ResolvedAt
		rec.ResolvedAt = &resolvedAt
	}
	return rec, nil
}

// CacheEntry is a string cache row. A nil ExpiresAt never expires.
type CacheEntry struct {
	Key       string `gorm:"column:cache_key;type:varchar(255);primaryKey"`
	Value     string `gorm:"type:text"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (CacheEntry) TableName() string {
	return "local_cache"
}

// Expired reports whether the entry is past its expiry at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
