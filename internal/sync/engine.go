package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/encryption"
	"github.com/xelth-com/clipsync/internal/events"
	"github.com/xelth-com/clipsync/internal/models"
	"github.com/xelth-com/clipsync/internal/realtime"
	"github.com/xelth-com/clipsync/internal/storage"
	"github.com/xelth-com/clipsync/internal/utils"
)

const (
	DefaultPullInterval  = 300 * time.Second
	DefaultDrainInterval = 10 * time.Second

	// Cache key holding the RFC 3339 time of the last successful pull.
	LastPullCacheKey = "last_pull_time"
)

// Cipher seals clipboard payloads for the wire.
type Cipher interface {
	EncryptClipboardData(payload *models.ClipboardPayload) (*models.EncryptedData, error)
	DecryptClipboardData(data *models.EncryptedData) (*models.ClipboardPayload, error)
}

// RealtimeChannel is the push channel as the engine uses it.
type RealtimeChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(fn realtime.Listener)
}

// Deps are the collaborators of an Engine. Channel and Sink may be nil.
type Deps struct {
	Store    storage.Store
	Remote   RemoteAPI
	Channel  RealtimeChannel
	Resolver *ConflictResolver
	Cipher   Cipher
	Sink     events.Sink
}

type queuedItem struct {
	syncID string
	req    models.SyncDataRequest
}

type localChange struct {
	payload models.ClipboardPayload
	at      time.Time
}

// Engine orchestrates clipboard synchronization: immediate or queued
// pushes, periodic pulls, conflict bookkeeping and status counters.
type Engine struct {
	store    storage.Store
	remote   RemoteAPI
	channel  RealtimeChannel
	resolver *ConflictResolver
	cipher   Cipher
	sink     events.Sink

	// Guards config, running and stopChan.
	mu       sync.RWMutex
	config   *config.SyncConfig
	running  bool
	stopChan chan struct{}
	loops    sync.WaitGroup

	queueMu sync.Mutex
	queue   []queuedItem

	stateMu   sync.Mutex
	lastLocal *localChange
	lastPull  *time.Time

	// Serializes read-modify-write of the persisted status record.
	statusMu sync.Mutex

	syncing atomic.Bool

	PullInterval  time.Duration
	DrainInterval time.Duration
}

// NewEngine creates a sync engine. A nil cfg means defaults until Start
// loads the persisted configuration.
func NewEngine(deps Deps, cfg *config.SyncConfig) *Engine {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewConflictResolver(deps.Store)
	}

	e := &Engine{
		store:         deps.Store,
		remote:        deps.Remote,
		channel:       deps.Channel,
		resolver:      deps.Resolver,
		cipher:        deps.Cipher,
		sink:          deps.Sink,
		config:        cfg.Clone(),
		PullInterval:  DefaultPullInterval,
		DrainInterval: DefaultDrainInterval,
	}
	if e.channel != nil {
		e.channel.Subscribe(e.onRealtimeMessage)
	}
	return e
}

// Resolver exposes the conflict resolver for listing and statistics.
func (e *Engine) Resolver() *ConflictResolver {
	return e.resolver
}

// GetConfig returns a copy of the active configuration.
func (e *Engine) GetConfig() *config.SyncConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Clone()
}

// UpdateConfig validates and persists cfg, then makes it active.
func (e *Engine) UpdateConfig(ctx context.Context, cfg *config.SyncConfig) error {
	if cfg == nil {
		return apperr.New(apperr.KindInvalidConfiguration, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveSyncConfig(ctx, cfg); err != nil {
		return err
	}

	e.mu.Lock()
	e.config = cfg.Clone()
	e.mu.Unlock()

	log.Printf("⚙️ Sync config updated (enabled=%v, auto=%v, types=%v)", cfg.Enabled, cfg.AutoSync, cfg.SyncTypes)
	return nil
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// SyncData accepts one local change. Refusals caused by configuration are
// reported in the response, not as errors.
func (e *Engine) SyncData(ctx context.Context, req models.SyncDataRequest) (*models.SyncDataResponse, error) {
	cfg := e.GetConfig()

	if !cfg.Enabled {
		return &models.SyncDataResponse{Success: false, Message: "Sync is disabled"}, nil
	}
	if !cfg.AllowsType(req.Data.Type) {
		return &models.SyncDataResponse{
			Success: false,
			Message: fmt.Sprintf("Data type '%s' is not enabled for sync", req.Data.Type),
		}, nil
	}
	if cfg.ExcludesDevice(req.DeviceID) {
		return &models.SyncDataResponse{
			Success: false,
			Message: fmt.Sprintf("Device '%s' is excluded from sync", req.DeviceID),
		}, nil
	}

	if req.Data.Timestamp == "" {
		req.Data = req.Data.WithTimestamp(req.Time())
	}
	e.rememberLocal(req)

	item := queuedItem{syncID: uuid.New().String(), req: req}

	if !cfg.AutoSync {
		e.queueMu.Lock()
		e.queue = append(e.queue, item)
		pending := len(e.queue)
		e.queueMu.Unlock()

		log.Printf("📥 Queued %s item %s (%d pending)", req.Data.Type, item.syncID, pending)
		return &models.SyncDataResponse{
			Success: true,
			SyncID:  item.syncID,
			Message: "Data queued for sync",
		}, nil
	}

	conflicts, size, err := e.push(ctx, item)
	if err != nil {
		e.recordOutcome(ctx, 0, 1, 0, nil)
		return nil, err
	}
	now := time.Now().UTC()
	e.recordOutcome(ctx, 1, 0, size, &now)

	return &models.SyncDataResponse{
		Success:   true,
		SyncID:    item.syncID,
		Conflicts: conflicts,
	}, nil
}

// push encrypts and uploads one item. It returns the conflicts reported by
// the server and the ciphertext size.
func (e *Engine) push(ctx context.Context, item queuedItem) ([]models.SyncConflict, int64, error) {
	token, err := e.store.LoadAuthToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	deviceID := item.req.DeviceID
	if deviceID == "" {
		deviceID = e.deviceID(ctx)
	}

	payload := item.req.Data
	encrypted, err := e.cipher.EncryptClipboardData(&payload)
	if err != nil {
		return nil, 0, err
	}

	body := &models.SyncUploadRequest{
		SyncID:        item.syncID,
		DeviceID:      deviceID,
		Timestamp:     item.req.Time().UnixMilli(),
		DataType:      payload.Type,
		EncryptedData: *encrypted,
		Metadata: models.UploadMetadata{
			Subtype: payload.Subtype,
			Group:   payload.Group,
			Count:   payload.Count,
			Width:   payload.Width,
			Height:  payload.Height,
			Hash:    encryption.GenerateHash([]byte(payload.Value)),
		},
	}

	resp, err := e.remote.PushData(ctx, token, body)
	if err != nil {
		return nil, 0, err
	}

	conflicts := e.recordServerConflicts(ctx, resp.Conflicts)

	log.Printf("📤 Pushed %s item %s", payload.Type, item.syncID)
	events.Emit(e.sink, events.SyncUpdate, events.NewUpdate("data_synced", map[string]interface{}{
		"sync_id":   item.syncID,
		"data_type": payload.Type,
		"conflicts": len(conflicts),
	}))
	return conflicts, int64(len(encrypted.Data)), nil
}

func (e *Engine) recordServerConflicts(ctx context.Context, reported []models.SyncConflict) []models.SyncConflict {
	var recorded []models.SyncConflict
	for i := range reported {
		c := reported[i]
		if err := e.resolver.RecordConflict(ctx, &c); err != nil {
			log.Printf("❌ Failed to record server conflict %s: %v", c.ConflictID, err)
			continue
		}
		events.Emit(e.sink, events.Conflict, c)
		recorded = append(recorded, c)
	}
	return recorded
}

// PullUpdates fetches remote changes newer than since. Undecryptable items
// are counted in Failed and skipped.
func (e *Engine) PullUpdates(ctx context.Context, since *time.Time) (*models.PullResult, error) {
	token, err := e.store.LoadAuthToken(ctx)
	if err != nil {
		return nil, err
	}

	requestedAt := time.Now().UTC()
	resp, err := e.remote.PullUpdates(ctx, token, since)
	if err != nil {
		return nil, err
	}

	ownID := e.deviceID(ctx)
	local := e.lastLocalChange()
	result := &models.PullResult{Items: []models.RemoteUpdate{}}

	for _, item := range resp.Items {
		if item.DeviceID == ownID {
			continue
		}

		enc := item.EncryptedData
		payload, err := e.cipher.DecryptClipboardData(&enc)
		if err != nil {
			log.Printf("⚠️ Skipping remote item %s: %v", item.ID, err)
			result.Failed++
			continue
		}

		itemTime := time.UnixMilli(item.Timestamp).UTC()
		if payload.Timestamp == "" {
			*payload = payload.WithTimestamp(itemTime)
		}

		// Only edits near the last local change are compared. Older items are
		// history the local clipboard has already moved past.
		if local != nil && absDuration(local.at.Sub(itemTime)) < SimultaneousWindow {
			localPayload := local.payload
			conflict, err := e.resolver.DetectConflict(ctx, &localPayload, payload, item.DeviceID)
			if err != nil {
				log.Printf("❌ Conflict detection failed for %s: %v", item.ID, err)
			} else if conflict != nil {
				result.Conflicts = append(result.Conflicts, *conflict)
				events.Emit(e.sink, events.Conflict, *conflict)
			}
		}

		update := models.RemoteUpdate{
			ItemID:    item.ID,
			DeviceID:  item.DeviceID,
			Timestamp: item.Timestamp,
			Data:      *payload,
		}
		result.Items = append(result.Items, update)
		events.Emit(e.sink, events.SyncUpdate, events.NewUpdate("remote_update", update))
	}

	result.Conflicts = append(result.Conflicts, e.recordServerConflicts(ctx, resp.Conflicts)...)

	// The cursor is the request time so items stored while the response was
	// in flight are fetched again next time.
	e.stateMu.Lock()
	e.lastPull = &requestedAt
	e.stateMu.Unlock()
	if err := e.store.SetCache(ctx, LastPullCacheKey, requestedAt.Format(time.RFC3339Nano), 0); err != nil {
		log.Printf("⚠️ Failed to persist pull cursor: %v", err)
	}

	log.Printf("📥 Pulled %d items (%d failed, %d conflicts)", len(result.Items), result.Failed, len(result.Conflicts))
	return result, nil
}

// ForceSyncAll pushes every queued item and then pulls the full remote
// history, ignoring the pull cursor. Each step and each
// item is independent; failures are counted, not returned.
func (e *Engine) ForceSyncAll(ctx context.Context) (*models.ForceSyncResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return &models.ForceSyncResult{Success: false, Message: "Sync already in progress"}, nil
	}
	defer e.syncing.Store(false)

	start := time.Now()
	events.Emit(e.sink, events.SyncStatus, events.NewStatus(models.SyncStateSyncing, "Force sync started"))
	log.Println("🔄 Force sync started")

	items := e.takeQueue()
	synced, failed, size := e.pushAll(ctx, items)

	pulled, err := e.PullUpdates(ctx, nil)
	if err != nil {
		log.Printf("❌ Force sync pull failed: %v", err)
		failed++
	} else {
		synced += len(pulled.Items)
	}

	now := time.Now().UTC()
	e.recordOutcome(ctx, synced, failed, size, &now)
	events.Emit(e.sink, events.SyncStatus, events.NewStatus(models.SyncStateIdle, "Force sync finished"))

	result := &models.ForceSyncResult{
		Success:     failed == 0,
		TotalSynced: synced,
		Errors:      failed,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if failed == 0 {
		result.Message = fmt.Sprintf("Synced %d items", synced)
	} else {
		result.Message = fmt.Sprintf("Synced %d items with %d errors", synced, failed)
	}
	log.Printf("✅ Force sync completed in %dms: %s", result.DurationMs, result.Message)
	return result, nil
}

func (e *Engine) pushAll(ctx context.Context, items []queuedItem) (synced, failed int, size int64) {
	for _, item := range items {
		_, n, err := e.push(ctx, item)
		if err != nil {
			log.Printf("❌ Failed to push %s: %v", item.syncID, err)
			failed++
			continue
		}
		synced++
		size += n
	}
	return synced, failed, size
}

// drainOnce pushes the current queue. It is skipped while another sync is
// in progress; the queue is then drained on a later tick.
func (e *Engine) drainOnce(ctx context.Context) {
	if !e.syncing.CompareAndSwap(false, true) {
		return
	}
	defer e.syncing.Store(false)

	items := e.takeQueue()
	if len(items) == 0 {
		return
	}

	synced, failed, size := e.pushAll(ctx, items)
	var syncedAt *time.Time
	if synced > 0 {
		now := time.Now().UTC()
		syncedAt = &now
	}
	e.recordOutcome(ctx, synced, failed, size, syncedAt)
	log.Printf("✅ Drained queue: %d synced, %d failed", synced, failed)
}

func (e *Engine) takeQueue() []queuedItem {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	items := e.queue
	e.queue = nil
	return items
}

func (e *Engine) queueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

func (e *Engine) recordOutcome(ctx context.Context, synced, failed int, size int64, syncedAt *time.Time) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	status, err := e.store.LoadSyncStatus(ctx)
	if err != nil {
		log.Printf("⚠️ Failed to load sync status: %v", err)
		return
	}
	status.TotalSynced += synced
	status.SyncErrors += failed
	status.DataUsage += size
	if syncedAt != nil {
		status.LastSyncTime = syncedAt
	}
	status.PendingItems = e.queueLen()
	status.Status = e.state()

	if err := e.store.SaveSyncStatus(ctx, status); err != nil {
		log.Printf("⚠️ Failed to save sync status: %v", err)
	}
}

func (e *Engine) state() string {
	switch {
	case e.syncing.Load():
		return models.SyncStateSyncing
	case e.IsRunning():
		return models.SyncStateRunning
	default:
		return models.SyncStateIdle
	}
}

// GetStatus combines the persisted counters with the live queue and state.
func (e *Engine) GetStatus(ctx context.Context) (*models.SyncStatus, error) {
	status, err := e.store.LoadSyncStatus(ctx)
	if err != nil {
		return nil, err
	}
	status.PendingItems = e.queueLen()
	status.Status = e.state()
	return status, nil
}

// Start loads the persisted configuration and pending conflicts, spawns
// the background loops and connects the realtime channel when a session
// exists. Calling Start on a running engine does nothing.
func (e *Engine) Start(ctx context.Context) error {
	if e.IsRunning() {
		return nil
	}

	cfg, err := e.store.LoadSyncConfig(ctx)
	if err != nil {
		log.Printf("⚠️ Failed to load sync config, keeping current: %v", err)
		cfg = nil
	}
	if err := e.resolver.LoadPendingConflicts(ctx); err != nil {
		log.Printf("⚠️ Failed to load pending conflicts: %v", err)
	}
	e.restorePullCursor(ctx)

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if cfg != nil {
		e.config = cfg.Clone()
	}
	e.running = true
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.loops.Add(2)
	go e.pullLoop(stop)
	go e.drainLoop(stop)
	e.mu.Unlock()

	log.Println("🔄 Sync Engine started")
	events.Emit(e.sink, events.SyncStatus, events.NewStatus(models.SyncStateRunning, "Sync engine started"))

	if e.channel != nil {
		token, err := e.store.LoadAuthToken(ctx)
		if err == nil && utils.SessionValid(token) {
			if err := e.channel.Connect(ctx); err != nil {
				log.Printf("⚠️ Realtime channel not connected: %v", err)
			}
		} else {
			log.Println("⚠️ No valid session, realtime channel stays offline")
		}
	}
	return nil
}

// Stop halts the loops and disconnects the channel. Calling Stop on a
// stopped engine does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	log.Println("🛑 Stopping Sync Engine...")
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	if e.channel != nil {
		e.channel.Disconnect()
	}
	e.loops.Wait()

	events.Emit(e.sink, events.SyncStatus, events.NewStatus(models.SyncStateIdle, "Sync engine stopped"))
	log.Println("✅ Sync Engine stopped")
}

func (e *Engine) pullLoop(stop <-chan struct{}) {
	defer e.loops.Done()
	ticker := time.NewTicker(e.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.IsRunning() {
				return
			}
			cfg := e.GetConfig()
			if !cfg.Enabled || !cfg.AutoSync {
				continue
			}
			if _, err := e.PullUpdates(context.Background(), e.pullCursor()); err != nil {
				log.Printf("⚠️ Periodic pull failed: %v", err)
			}
		}
	}
}

func (e *Engine) drainLoop(stop <-chan struct{}) {
	defer e.loops.Done()
	ticker := time.NewTicker(e.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.IsRunning() {
				return
			}
			e.drainOnce(context.Background())
		}
	}
}

// onRealtimeMessage pulls when another device announces a change.
func (e *Engine) onRealtimeMessage(msg models.WebSocketMessage) {
	if msg.Type != models.MessageDataUpdate || !e.IsRunning() {
		return
	}
	go func() {
		ctx := context.Background()
		if msg.DeviceID == e.deviceID(ctx) {
			return
		}
		if _, err := e.PullUpdates(ctx, e.pullCursor()); err != nil {
			log.Printf("⚠️ Pull after realtime update failed: %v", err)
		}
	}()
}

// ResolveConflict resolves one conflict. Manual uses resolvedData; every
// other strategy is applied automatically.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy models.ResolutionStrategy, resolvedData *models.ClipboardPayload, notes string) (*models.ConflictResolution, error) {
	if !strategy.Valid() {
		return nil, apperr.New(apperr.KindSyncConflict, "unknown resolution strategy %q", strategy)
	}

	resolvedBy := e.deviceID(ctx)
	var (
		res *models.ConflictResolution
		err error
	)
	if strategy == models.StrategyManual {
		res, err = e.resolver.ManualResolveConflict(ctx, conflictID, resolvedData, resolvedBy, notes)
	} else {
		res, err = e.resolver.AutoResolveConflict(ctx, conflictID, strategy, resolvedBy)
	}
	if err != nil {
		return nil, err
	}

	events.Emit(e.sink, events.SyncUpdate, events.NewUpdate("conflict_resolved", res))
	return res, nil
}

// ResolveAllConflicts applies strategy to every pending conflict.
func (e *Engine) ResolveAllConflicts(ctx context.Context, strategy models.ResolutionStrategy) ([]models.ConflictResolution, error) {
	if !strategy.Valid() {
		return nil, apperr.New(apperr.KindSyncConflict, "unknown resolution strategy %q", strategy)
	}
	return e.resolver.BatchResolveConflicts(ctx, strategy, e.deviceID(ctx))
}

// TestConnection checks server reachability and reports the channel state.
func (e *Engine) TestConnection(ctx context.Context) *models.ConnectionTestResult {
	start := time.Now()
	err := e.remote.Health(ctx)

	result := &models.ConnectionTestResult{
		Success:            err == nil,
		LatencyMs:          time.Since(start).Milliseconds(),
		WebSocketConnected: e.channel != nil && e.channel.IsConnected(),
		CheckedAt:          time.Now().UTC(),
	}
	if err != nil {
		result.Message = err.Error()
	} else {
		result.Message = "Connection OK"
	}
	return result
}

func (e *Engine) rememberLocal(req models.SyncDataRequest) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.lastLocal = &localChange{payload: req.Data, at: req.Time()}
}

func (e *Engine) lastLocalChange() *localChange {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.lastLocal == nil {
		return nil
	}
	cp := *e.lastLocal
	return &cp
}

func (e *Engine) pullCursor() *time.Time {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.lastPull == nil {
		return nil
	}
	t := *e.lastPull
	return &t
}

func (e *Engine) restorePullCursor(ctx context.Context) {
	if e.pullCursor() != nil {
		return
	}
	value, ok, err := e.store.GetCache(ctx, LastPullCacheKey)
	if err != nil || !ok {
		return
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		log.Printf("⚠️ Ignoring malformed pull cursor %q", value)
		return
	}
	e.stateMu.Lock()
	if e.lastPull == nil {
		e.lastPull = &t
	}
	e.stateMu.Unlock()
}

// deviceID is the stored device id, or the machine fingerprint when none
// has been assigned.
func (e *Engine) deviceID(ctx context.Context) string {
	id, err := e.store.LoadDeviceID(ctx)
	if err != nil || id == "" {
		return utils.DeviceFingerprint()
	}
	return id
}
