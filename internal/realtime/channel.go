// Package realtime keeps the push channel to the sync server open.
//
// The channel walks Disconnected → Connecting → Connected, and on failure
// Reconnecting → (Connected | Failed). A failed handshake schedules one
// retry at a time; after MaxReconnectAttempts consecutive failures the
// channel stops retrying and the caller of that attempt gets a network
// error.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/events"
	"github.com/xelth-com/clipsync/internal/models"
	"github.com/xelth-com/clipsync/internal/utils"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time the server gets to answer our close frame.
	closeGrace = time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	// Replayed data_update frames are dropped within this window.
	dedupWindow = 5 * time.Minute
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// CredentialStore supplies the session used in the connection URL.
type CredentialStore interface {
	LoadAuthToken(ctx context.Context) (string, error)
	LoadDeviceID(ctx context.Context) (string, error)
}

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Listener is called for every inbound message that was not dropped.
type Listener func(msg models.WebSocketMessage)

type Options struct {
	URL                  string
	PingInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Dialer               Dialer
}

// OptionsFromConfig builds channel options from the realtime config.
func OptionsFromConfig(wsURL string, cfg config.RealtimeConfig) Options {
	return Options{
		URL:                  wsURL,
		PingInterval:         cfg.PingInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}
}

type Channel struct {
	opts  Options
	creds CredentialStore
	sink  events.Sink
	dedup *utils.Deduplicator

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	connected bool
	closing   bool
	attempts  int
	retry     *time.Timer

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []Listener
}

func NewChannel(opts Options, creds CredentialStore, sink events.Sink) *Channel {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	return &Channel{
		opts:  opts,
		creds: creds,
		sink:  sink,
		dedup: utils.NewDeduplicator(dedupWindow),
		state: StateDisconnected,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers fn for inbound messages.
func (c *Channel) Subscribe(fn Listener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// Connect starts a connection attempt. It is a no-op while an attempt is in
// flight or the channel is connected. Handshake failures below the attempt
// limit are retried in the background and Connect returns nil.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateDisconnected || c.state == StateFailed {
		c.attempts = 0
	}
	c.state = StateConnecting
	c.closing = false
	c.stopRetryLocked()
	c.mu.Unlock()

	return c.attempt(ctx)
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Channel) connectionURL(token, deviceID string) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInvalidConfiguration, err, "invalid websocket url")
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("device_id", deviceID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) attempt(ctx context.Context) error {
	token, err := c.creds.LoadAuthToken(ctx)
	if err == nil {
		var deviceID string
		deviceID, err = c.creds.LoadDeviceID(ctx)
		if err == nil {
			var wsURL string
			wsURL, err = c.connectionURL(token, deviceID)
			if err == nil {
				return c.dial(ctx, wsURL)
			}
		}
	}

	// Without credentials there is nothing to retry.
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return err
}

func (c *Channel) dial(ctx context.Context, wsURL string) error {
	log.Println("🔌 Connecting realtime channel...")
	conn, _, err := c.opts.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return c.handleFailure(err)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.state = StateConnected
	c.attempts = 0
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error { return nil })

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	log.Println("✅ Realtime channel connected")
	events.Emit(c.sink, events.Connection, events.NewStatus("connected", ""))
	return nil
}

func (c *Channel) handleFailure(cause error) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.attempts++
	attempt := c.attempts
	limit := c.opts.MaxReconnectAttempts

	if attempt < limit {
		c.state = StateReconnecting
		c.stopRetryLocked()
		c.retry = time.AfterFunc(c.opts.ReconnectDelay, c.retryConnect)
		c.mu.Unlock()

		log.Printf("⚠️ Realtime connect failed (attempt %d of %d): %v", attempt, limit, cause)
		events.Emit(c.sink, events.Connection, events.NewStatus("reconnecting", fmt.Sprintf("Attempt %d of %d", attempt, limit)))
		return nil
	}

	c.state = StateFailed
	c.mu.Unlock()

	log.Printf("❌ Realtime channel gave up after %d attempts: %v", attempt, cause)
	events.Emit(c.sink, events.Connection, events.NewStatus("failed", "Max reconnection attempts reached"))
	return apperr.Wrap(apperr.KindNetwork, cause, fmt.Sprintf("failed to connect after %d attempts", attempt))
}

// retryConnect runs on the retry timer. Its errors stay here.
func (c *Channel) retryConnect() {
	c.mu.Lock()
	if c.closing || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.retry = nil
	c.mu.Unlock()

	if err := c.attempt(context.Background()); err != nil {
		log.Printf("❌ Realtime retry failed: %v", err)
	}
}

// Disconnect closes the channel and cancels pending retries. The loops see
// the cleared connection and exit.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.stopRetryLocked()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		time.AfterFunc(closeGrace, func() { conn.Close() })
	}

	log.Println("🛑 Realtime channel disconnected")
	events.Emit(c.sink, events.Connection, events.NewStatus("disconnected", ""))
}

// SendMessage writes msg as a JSON text frame.
func (c *Channel) SendMessage(msg models.WebSocketMessage) error {
	c.mu.Lock()
	conn, ok := c.conn, c.connected
	c.mu.Unlock()
	if !ok || conn == nil {
		return apperr.New(apperr.KindNetwork, "WebSocket not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return apperr.Wrap(apperr.KindSerialization, err, "failed to encode message")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, "failed to send message")
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.onReadError(conn, err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleFrame(data)
	}
}

func (c *Channel) onReadError(conn *websocket.Conn, err error) {
	defer conn.Close()

	c.mu.Lock()
	if c.conn != conn || c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.state = StateConnecting
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("⚠️ Realtime connection lost: %v", err)
	} else {
		log.Printf("🔌 Realtime connection closed by server")
	}
	events.Emit(c.sink, events.Connection, events.NewStatus("disconnected", "Connection lost"))

	if err := c.attempt(context.Background()); err != nil {
		log.Printf("❌ Realtime reconnect failed: %v", err)
	}
}

func (c *Channel) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		alive := c.conn == conn && c.connected
		c.mu.Unlock()
		if !alive {
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			log.Printf("⚠️ Realtime ping failed: %v", err)
			c.mu.Lock()
			if c.conn == conn {
				c.connected = false
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Channel) handleFrame(data []byte) {
	var msg models.WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("⚠️ Dropping unparseable realtime frame: %v", err)
		return
	}

	switch msg.Type {
	case models.MessageDataUpdate:
		if c.dedup.IsDuplicate(fmt.Sprintf("%s/%s/%d", msg.DeviceID, msg.ItemID, msg.Timestamp)) {
			return
		}
		events.Emit(c.sink, events.SyncUpdate, events.NewUpdate("data_update", map[string]interface{}{
			"item_id":   msg.ItemID,
			"device_id": msg.DeviceID,
			"timestamp": msg.Timestamp,
		}))
	case models.MessageConflict:
		events.Emit(c.sink, events.Conflict, map[string]interface{}{
			"conflict_id": msg.ConflictID,
			"local_item":  msg.LocalItem,
			"remote_item": msg.RemoteItem,
		})
	case models.MessageDeviceStatus:
		events.Emit(c.sink, events.DeviceStatus, events.DeviceStatusEvent{
			DeviceID:  msg.DeviceID,
			IsOnline:  msg.IsOnline,
			Timestamp: time.Now().UnixMilli(),
		})
	case models.MessageSyncComplete:
		events.Emit(c.sink, events.SyncStatus, events.NewStatus("completed", fmt.Sprintf("Synced %d items", msg.ItemsCount)))
	case models.MessageError:
		log.Printf("⚠️ Realtime server error: %s", msg.Message)
		events.Emit(c.sink, events.SyncStatus, events.NewStatus("error", msg.Message))
	case models.MessagePing:
		if err := c.SendMessage(models.NewPong()); err != nil {
			log.Printf("⚠️ Failed to answer ping: %v", err)
		}
	}

	c.listenersMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}
