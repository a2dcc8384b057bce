package models

import "time"

type ConflictType string

const (
	ConflictTypeMismatch     ConflictType = "type_mismatch"
	ConflictContentMismatch  ConflictType = "content_mismatch"
	ConflictMetadataMismatch ConflictType = "metadata_mismatch"
)

type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
)

// ResolutionStrategy selects how a conflict collapses into one payload.
type ResolutionStrategy string

const (
	StrategyUseLatest ResolutionStrategy = "UseLatest"
	StrategyUseLocal  ResolutionStrategy = "UseLocal"
	StrategyUseRemote ResolutionStrategy = "UseRemote"
	StrategyMerge     ResolutionStrategy = "Merge"
	StrategyManual    ResolutionStrategy = "Manual"
)

// Valid reports whether s is one of the known strategies.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyUseLatest, StrategyUseLocal, StrategyUseRemote, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// SyncConflict records two divergent versions of one clipboard item.
type SyncConflict struct {
	ConflictID   string              `json:"conflict_id"`
	LocalItem    ClipboardPayload    `json:"local_item"`
	RemoteItem   ClipboardPayload    `json:"remote_item"`
	ConflictType ConflictType        `json:"conflict_type"`
	DetectedAt   time.Time           `json:"detected_at"`
	DeviceID     string              `json:"device_id"`
	Status       ConflictStatus      `json:"status"`
	Resolution   *ConflictResolution `json:"resolution,omitempty"`
}

type ConflictResolution struct {
	ConflictID   string             `json:"conflict_id"`
	Strategy     ResolutionStrategy `json:"strategy"`
	ResolvedData *ClipboardPayload  `json:"resolved_data,omitempty"`
	ResolvedBy   string             `json:"resolved_by"`
	ResolvedAt   time.Time          `json:"resolved_at"`
	Notes        string             `json:"notes,omitempty"`
}

// ConflictStats aggregates the persisted conflict set.
type ConflictStats struct {
	Total    int                  `json:"total"`
	Pending  int                  `json:"pending"`
	Resolved int                  `json:"resolved"`
	ByType   map[ConflictType]int `json:"by_type"`
}
