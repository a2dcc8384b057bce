package models

import "time"

// SyncUploadRequest is the body of POST /sync/data.
type SyncUploadRequest struct {
	SyncID        string         `json:"sync_id"`
	DeviceID      string         `json:"device_id"`
	Timestamp     int64          `json:"timestamp"`
	DataType      string         `json:"data_type"`
	EncryptedData EncryptedData  `json:"encrypted_data"`
	Metadata      UploadMetadata `json:"metadata"`
}

type UploadMetadata struct {
	Subtype string `json:"subtype,omitempty"`
	Group   string `json:"group,omitempty"`
	Count   int    `json:"count"`
	Width   *int   `json:"width,omitempty"`
	Height  *int   `json:"height,omitempty"`
	Hash    string `json:"hash,omitempty"`
}

type SyncUploadResponse struct {
	Conflicts []SyncConflict `json:"conflicts,omitempty"`
}

// RemoteItem is one entry of GET /sync/updates. Timestamp is unix milliseconds.
type RemoteItem struct {
	ID            string        `json:"id"`
	DeviceID      string        `json:"device_id"`
	Timestamp     int64         `json:"timestamp"`
	EncryptedData EncryptedData `json:"encrypted_data"`
}

type UpdatesResponse struct {
	Items     []RemoteItem   `json:"items"`
	Conflicts []SyncConflict `json:"conflicts,omitempty"`
}

// RemoteUpdate is a decrypted remote item.
type RemoteUpdate struct {
	ItemID    string           `json:"item_id"`
	DeviceID  string           `json:"device_id"`
	Timestamp int64            `json:"timestamp"`
	Data      ClipboardPayload `json:"data"`
}

type PullResult struct {
	Items     []RemoteUpdate `json:"items"`
	Conflicts []SyncConflict `json:"conflicts,omitempty"`
	Failed    int            `json:"failed"`
}

type ForceSyncResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	TotalSynced int    `json:"total_synced"`
	Errors      int    `json:"errors"`
	DurationMs  int64  `json:"duration_ms"`
}

type ConnectionTestResult struct {
	Success            bool      `json:"success"`
	LatencyMs          int64     `json:"latency_ms"`
	Message            string    `json:"message,omitempty"`
	WebSocketConnected bool      `json:"websocket_connected"`
	CheckedAt          time.Time `json:"checked_at"`
}
