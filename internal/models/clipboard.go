package models

import "time"

// Payload types with dedicated comparison semantics.
const (
	PayloadText  = "text"
	PayloadImage = "image"
	PayloadFile  = "file"
)

// ClipboardPayload is one clipboard item as captured on a device.
// Value is the content comparison key.
type ClipboardPayload struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	Group     string `json:"group,omitempty"`
	Count     int    `json:"count"`
	Value     string `json:"value"`
	Search    string `json:"search"`
	Width     *int   `json:"width,omitempty"`
	Height    *int   `json:"height,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParsedTimestamp returns the RFC 3339 timestamp, if present and valid.
func (p ClipboardPayload) ParsedTimestamp() (time.Time, bool) {
	if p.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WithTimestamp returns a copy stamped with t.
func (p ClipboardPayload) WithTimestamp(t time.Time) ClipboardPayload {
	p.Timestamp = t.UTC().Format(time.RFC3339Nano)
	return p
}

// SyncDataRequest is a single outbound change intent.
// Timestamp is unix milliseconds.
type SyncDataRequest struct {
	Data      ClipboardPayload `json:"data"`
	DeviceID  string           `json:"device_id"`
	Timestamp int64            `json:"timestamp"`
}

// Time converts the request timestamp, falling back to now when unset.
func (r SyncDataRequest) Time() time.Time {
	if r.Timestamp <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(r.Timestamp).UTC()
}

type SyncDataResponse struct {
	Success   bool           `json:"success"`
	SyncID    string         `json:"sync_id,omitempty"`
	Conflicts []SyncConflict `json:"conflicts,omitempty"`
	Message   string         `json:"message,omitempty"`
}
