package models

import (
	"encoding/json"
	"fmt"
)

// MessageType is the "type" tag of a realtime frame.
type MessageType string

const (
	MessageAuth         MessageType = "auth"
	MessagePing         MessageType = "ping"
	MessagePong         MessageType = "pong"
	MessageDataUpdate   MessageType = "data_update"
	MessageDeviceStatus MessageType = "device_status"
	MessageConflict     MessageType = "conflict"
	MessageSyncComplete MessageType = "sync_complete"
	MessageError        MessageType = "error"
)

// WebSocketMessage is the tagged union exchanged over the realtime channel.
// Only the fields belonging to Type are encoded.
type WebSocketMessage struct {
	Type MessageType

	Token string

	ItemID    string
	DeviceID  string
	Timestamp int64

	IsOnline bool

	ConflictID string
	LocalItem  json.RawMessage
	RemoteItem json.RawMessage

	SyncID     string
	ItemsCount int

	Message string
	Code    *int
}

func NewPing() WebSocketMessage { return WebSocketMessage{Type: MessagePing} }
func NewPong() WebSocketMessage { return WebSocketMessage{Type: MessagePong} }

func NewAuth(token string) WebSocketMessage {
	return WebSocketMessage{Type: MessageAuth, Token: token}
}

func NewDataUpdate(itemID, deviceID string, timestamp int64) WebSocketMessage {
	return WebSocketMessage{Type: MessageDataUpdate, ItemID: itemID, DeviceID: deviceID, Timestamp: timestamp}
}

func NewDeviceStatus(deviceID string, online bool) WebSocketMessage {
	return WebSocketMessage{Type: MessageDeviceStatus, DeviceID: deviceID, IsOnline: online}
}

type wireMessage struct {
	Type       MessageType     `json:"type"`
	Token      *string         `json:"token,omitempty"`
	ItemID     *string         `json:"item_id,omitempty"`
	DeviceID   *string         `json:"device_id,omitempty"`
	Timestamp  *int64          `json:"timestamp,omitempty"`
	IsOnline   *bool           `json:"is_online,omitempty"`
	ConflictID *string         `json:"conflict_id,omitempty"`
	LocalItem  json.RawMessage `json:"local_item,omitempty"`
	RemoteItem json.RawMessage `json:"remote_item,omitempty"`
	SyncID     *string         `json:"sync_id,omitempty"`
	ItemsCount *int            `json:"items_count,omitempty"`
	Message    *string         `json:"message,omitempty"`
	Code       *int            `json:"code,omitempty"`
}

func rawOrNull(r json.RawMessage) json.RawMessage {
	if len(r) == 0 {
		return json.RawMessage("null")
	}
	return r
}

func (m WebSocketMessage) MarshalJSON() ([]byte, error) {
	w := wireMessage{Type: m.Type}
	switch m.Type {
	case MessagePing, MessagePong:
	case MessageAuth:
		w.Token = &m.Token
	case MessageDataUpdate:
		w.ItemID, w.DeviceID, w.Timestamp = &m.ItemID, &m.DeviceID, &m.Timestamp
	case MessageDeviceStatus:
		w.DeviceID, w.IsOnline = &m.DeviceID, &m.IsOnline
	case MessageConflict:
		w.ConflictID = &m.ConflictID
		w.LocalItem, w.RemoteItem = rawOrNull(m.LocalItem), rawOrNull(m.RemoteItem)
	case MessageSyncComplete:
		w.SyncID, w.ItemsCount = &m.SyncID, &m.ItemsCount
	case MessageError:
		w.Message, w.Code = &m.Message, m.Code
	default:
		return nil, fmt.Errorf("unknown message type %q", m.Type)
	}
	return json.Marshal(w)
}

func (m *WebSocketMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	missing := func(field string) error {
		return fmt.Errorf("%s message missing %q", w.Type, field)
	}

	out := WebSocketMessage{Type: w.Type}
	switch w.Type {
	case MessagePing, MessagePong:
	case MessageAuth:
		if w.Token == nil {
			return missing("token")
		}
		out.Token = *w.Token
	case MessageDataUpdate:
		if w.ItemID == nil || w.DeviceID == nil || w.Timestamp == nil {
			return missing("item_id/device_id/timestamp")
		}
		out.ItemID, out.DeviceID, out.Timestamp = *w.ItemID, *w.DeviceID, *w.Timestamp
	case MessageDeviceStatus:
		if w.DeviceID == nil || w.IsOnline == nil {
			return missing("device_id/is_online")
		}
		out.DeviceID, out.IsOnline = *w.DeviceID, *w.IsOnline
	case MessageConflict:
		if w.ConflictID == nil {
			return missing("conflict_id")
		}
		out.ConflictID, out.LocalItem, out.RemoteItem = *w.ConflictID, w.LocalItem, w.RemoteItem
	case MessageSyncComplete:
		if w.SyncID == nil || w.ItemsCount == nil {
			return missing("sync_id/items_count")
		}
		out.SyncID, out.ItemsCount = *w.SyncID, *w.ItemsCount
	case MessageError:
		if w.Message == nil {
			return missing("message")
		}
		out.Message, out.Code = *w.Message, w.Code
	default:
		return fmt.Errorf("unknown message type %q", w.Type)
	}
	*m = out
	return nil
}
