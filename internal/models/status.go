package models

import "time"

const (
	SyncStateIdle    = "idle"
	SyncStateRunning = "running"
	SyncStateSyncing = "syncing"
)

// SyncStatus is the aggregated view returned to callers.
type SyncStatus struct {
	Status       string     `json:"status"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	PendingItems int        `json:"pending_items"`
	SyncErrors   int        `json:"sync_errors"`
	TotalSynced  int        `json:"total_synced"`
	DataUsage    int64      `json:"data_usage"`
}
