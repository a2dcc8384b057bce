package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/encryption"
	"github.com/xelth-com/clipsync/internal/events"
	"github.com/xelth-com/clipsync/internal/models"
	"github.com/xelth-com/clipsync/internal/realtime"
	"github.com/xelth-com/clipsync/internal/storage"
)

type fakeRemote struct {
	mu            sync.Mutex
	pushed        []*models.SyncUploadRequest
	pushErrs      []error
	pushConflicts []models.SyncConflict
	updates       *models.UpdatesResponse
	pullErr       error
	pulls         []*time.Time
	pulledAt      []time.Time
	healthErr     error
}

func (f *fakeRemote) PushData(ctx context.Context, token string, body *models.SyncUploadRequest) (*models.SyncUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.pushed = append(f.pushed, body)
	return &models.SyncUploadResponse{Conflicts: f.pushConflicts}, nil
}

func (f *fakeRemote) PullUpdates(ctx context.Context, token string, since *time.Time) (*models.UpdatesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, since)
	f.pulledAt = append(f.pulledAt, time.Now())
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if f.updates == nil {
		return &models.UpdatesResponse{}, nil
	}
	return f.updates, nil
}

func (f *fakeRemote) Health(ctx context.Context) error {
	return f.healthErr
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func (f *fakeRemote) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

type fakeChannel struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	connected   bool
	listeners   []realtime.Listener
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Subscribe(fn realtime.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeChannel) deliver(msg models.WebSocketMessage) {
	f.mu.Lock()
	listeners := append([]realtime.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

type engineFixture struct {
	engine   *Engine
	store    *storage.MemoryStore
	remote   *fakeRemote
	channel  *fakeChannel
	cipher   *encryption.Manager
	recorder *events.Recorder
}

func newEngineFixture(t *testing.T, mutate func(cfg *config.SyncConfig)) *engineFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveAuthData(ctx, "opaque-token", "user-1"))
	require.NoError(t, store.SaveDeviceID(ctx, "dev-a"))

	cfg := config.DefaultSyncConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, store.SaveSyncConfig(ctx, cfg))

	cipher := encryption.NewManager()
	require.NoError(t, cipher.InitializeMasterKey("correct horse", "battery staple"))

	f := &engineFixture{
		store:    store,
		remote:   &fakeRemote{},
		channel:  &fakeChannel{},
		cipher:   cipher,
		recorder: &events.Recorder{},
	}
	f.engine = NewEngine(Deps{
		Store:   store,
		Remote:  f.remote,
		Channel: f.channel,
		Cipher:  cipher,
		Sink:    f.recorder,
	}, cfg)
	f.engine.PullInterval = time.Hour
	f.engine.DrainInterval = time.Hour
	t.Cleanup(f.engine.Stop)
	return f
}

func textRequest(value, deviceID string, at time.Time) models.SyncDataRequest {
	return models.SyncDataRequest{
		Data:      models.ClipboardPayload{Type: models.PayloadText, Value: value, Search: value, Count: 1},
		DeviceID:  deviceID,
		Timestamp: at.UnixMilli(),
	}
}

func (f *engineFixture) remoteItem(t *testing.T, id, deviceID, value string, at time.Time) models.RemoteItem {
	t.Helper()
	enc, err := f.cipher.EncryptClipboardData(textAt(value, at))
	require.NoError(t, err)
	return models.RemoteItem{ID: id, DeviceID: deviceID, Timestamp: at.UnixMilli(), EncryptedData: *enc}
}

func TestSyncDataQueuesAndDrains(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.AutoSync = false })

	for _, v := range []string{"one", "two", "three"} {
		resp, err := f.engine.SyncData(ctx, textRequest(v, "dev-a", time.Now()))
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.NotEmpty(t, resp.SyncID)
	}

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.PendingItems)
	assert.Equal(t, 0, f.remote.pushCount())

	f.engine.drainOnce(ctx)

	status, err = f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingItems)
	assert.Equal(t, 3, status.TotalSynced)
	assert.Equal(t, 0, status.SyncErrors)
	assert.NotNil(t, status.LastSyncTime)
	assert.Positive(t, status.DataUsage)
	require.Equal(t, 3, f.remote.pushCount())
	assert.Equal(t, "dev-a", f.remote.pushed[0].DeviceID)
}

func TestSyncDataRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.Enabled = false })
		resp, err := f.engine.SyncData(ctx, textRequest("x", "dev-a", time.Now()))
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "Sync is disabled", resp.Message)
		assert.Equal(t, 0, f.remote.pushCount())
	})

	t.Run("type not enabled", func(t *testing.T) {
		f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.SyncTypes = []string{"text"} })
		req := textRequest("x", "dev-a", time.Now())
		req.Data.Type = models.PayloadImage
		resp, err := f.engine.SyncData(ctx, req)
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, "Data type 'image' is not enabled for sync", resp.Message)
		assert.Equal(t, 0, f.remote.pushCount())
	})

	t.Run("excluded device", func(t *testing.T) {
		f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.ExcludeDevices = []string{"dev-x"} })
		resp, err := f.engine.SyncData(ctx, textRequest("x", "dev-x", time.Now()))
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, 0, f.remote.pushCount())
	})
}

func TestSyncDataAutoPush(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	f.remote.pushConflicts = []models.SyncConflict{{
		ConflictID:   "server-1",
		LocalItem:    *textAt("mine", time.Now()),
		RemoteItem:   *textAt("theirs", time.Now()),
		ConflictType: models.ConflictContentMismatch,
		DeviceID:     "dev-b",
	}}

	resp, err := f.engine.SyncData(ctx, textRequest("hello", "dev-a", time.Now()))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "server-1", resp.Conflicts[0].ConflictID)

	require.Equal(t, 1, f.remote.pushCount())
	body := f.remote.pushed[0]
	assert.Equal(t, resp.SyncID, body.SyncID)
	assert.Equal(t, models.PayloadText, body.DataType)
	assert.Equal(t, encryption.GenerateHash([]byte("hello")), body.Metadata.Hash)

	plain, err := f.cipher.DecryptClipboardData(&body.EncryptedData)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain.Value)

	pending, err := f.engine.Resolver().GetPendingConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ConflictStatusPending, pending[0].Status)

	updates := f.recorder.Named(events.SyncUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "data_synced", updates[0].(events.UpdateEvent).Type)
	assert.Len(t, f.recorder.Named(events.Conflict), 1)

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TotalSynced)
}

func TestSyncDataAutoPushFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	f.remote.pushErrs = []error{apperr.New(apperr.KindNetwork, "connection refused")}

	_, err := f.engine.SyncData(ctx, textRequest("hello", "dev-a", time.Now()))
	require.Error(t, err)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.SyncErrors)
	assert.Equal(t, 0, status.TotalSynced)
}

func TestSyncDataWithoutSession(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	require.NoError(t, f.store.ClearAuthData(ctx))

	_, err := f.engine.SyncData(ctx, textRequest("hello", "dev-a", time.Now()))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
	assert.Equal(t, 0, f.remote.pushCount())
}

func TestPullUpdates(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	now := time.Now()

	f.remote.updates = &models.UpdatesResponse{Items: []models.RemoteItem{
		f.remoteItem(t, "own", "dev-a", "echo", now),
		f.remoteItem(t, "good", "dev-b", "from b", now),
		{ID: "broken", DeviceID: "dev-c", Timestamp: now.UnixMilli(), EncryptedData: models.EncryptedData{
			Data: "AAAA", Nonce: "AAAAAAAAAAAAAAAA", KeyID: models.MasterKeyID, Algorithm: models.AlgorithmAES256GCM,
		}},
	}}

	result, err := f.engine.PullUpdates(ctx, nil)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "good", result.Items[0].ItemID)
	assert.Equal(t, "from b", result.Items[0].Data.Value)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Conflicts)

	updates := f.recorder.Named(events.SyncUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "remote_update", updates[0].(events.UpdateEvent).Type)

	cursor, ok, err := f.store.GetCache(ctx, LastPullCacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339Nano, cursor)
	require.NoError(t, err)
	assert.NotNil(t, f.engine.pullCursor())
}

func TestPullCursorIsRequestTime(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	before := time.Now()

	_, err := f.engine.PullUpdates(ctx, nil)
	require.NoError(t, err)

	cursor := f.engine.pullCursor()
	require.NotNil(t, cursor)
	require.Len(t, f.remote.pulledAt, 1)
	assert.False(t, cursor.Before(before.Truncate(time.Millisecond)))
	assert.False(t, cursor.After(f.remote.pulledAt[0]))
}

func TestPullUpdatesNetworkFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.remote.pullErr = apperr.New(apperr.KindNetwork, "unreachable")

	_, err := f.engine.PullUpdates(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
	assert.Nil(t, f.engine.pullCursor())
}

func TestPullDetectsConflictWithinWindow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.AutoSync = false })
	now := time.Now()

	_, err := f.engine.SyncData(ctx, textRequest("local copy", "dev-a", now))
	require.NoError(t, err)

	f.remote.updates = &models.UpdatesResponse{Items: []models.RemoteItem{
		f.remoteItem(t, "near", "dev-b", "remote copy", now.Add(2*time.Second)),
		f.remoteItem(t, "far", "dev-b", "later copy", now.Add(time.Minute)),
	}}

	result, err := f.engine.PullUpdates(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "local copy", result.Conflicts[0].LocalItem.Value)
	assert.Equal(t, "remote copy", result.Conflicts[0].RemoteItem.Value)
	assert.Len(t, f.recorder.Named(events.Conflict), 1)
}

func TestForceSyncAll(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.AutoSync = false })

	for _, v := range []string{"first", "second"} {
		_, err := f.engine.SyncData(ctx, textRequest(v, "dev-a", time.Now()))
		require.NoError(t, err)
	}
	f.remote.pushErrs = []error{apperr.New(apperr.KindNetwork, "flaky"), nil}

	result, err := f.engine.ForceSyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.TotalSynced)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, f.remote.pushCount())
	assert.Equal(t, 1, f.remote.pullCount())

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingItems)
	assert.Equal(t, 1, status.TotalSynced)
	assert.Equal(t, 1, status.SyncErrors)
	assert.NotNil(t, status.LastSyncTime)
	assert.Equal(t, models.SyncStateIdle, status.Status)

	assert.Equal(t, []string{models.SyncStateSyncing, models.SyncStateIdle}, f.recorder.Statuses(events.SyncStatus))
}

func TestForceSyncAllIgnoresPullCursor(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	_, err := f.engine.PullUpdates(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, f.engine.pullCursor())

	_, err = f.engine.ForceSyncAll(ctx)
	require.NoError(t, err)

	require.Len(t, f.remote.pulls, 2)
	assert.Nil(t, f.remote.pulls[1])
}

func TestForceSyncAllCountsPullFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	f.remote.pullErr = apperr.New(apperr.KindServiceUnavailable, "down")

	result, err := f.engine.ForceSyncAll(ctx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 0, result.TotalSynced)

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.SyncErrors)
	assert.NotNil(t, status.LastSyncTime)
}

func TestStartStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	require.NoError(t, f.engine.Start(ctx))
	require.NoError(t, f.engine.Start(ctx))
	assert.True(t, f.engine.IsRunning())
	assert.Equal(t, 1, f.channel.connects)

	status, err := f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateRunning, status.Status)

	f.engine.Stop()
	f.engine.Stop()
	assert.False(t, f.engine.IsRunning())
	assert.Equal(t, 1, f.channel.disconnects)

	status, err = f.engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateIdle, status.Status)
}

func TestStartLoadsPersistedConfig(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	cfg := config.DefaultSyncConfig()
	cfg.SyncTypes = []string{"text"}
	cfg.AutoSync = false
	require.NoError(t, f.store.SaveSyncConfig(ctx, cfg))

	require.NoError(t, f.engine.Start(ctx))
	got := f.engine.GetConfig()
	assert.Equal(t, []string{"text"}, got.SyncTypes)
	assert.False(t, got.AutoSync)
}

func TestStartWithoutSessionStaysOffline(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	require.NoError(t, f.store.ClearAuthData(ctx))

	require.NoError(t, f.engine.Start(ctx))
	assert.True(t, f.engine.IsRunning())
	assert.Equal(t, 0, f.channel.connects)
}

func TestRealtimeUpdateTriggersPull(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	// Ignored while stopped.
	f.channel.deliver(models.NewDataUpdate("i-0", "dev-b", time.Now().UnixMilli()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.remote.pullCount())

	require.NoError(t, f.engine.Start(ctx))

	f.channel.deliver(models.NewDataUpdate("i-1", "dev-a", time.Now().UnixMilli()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.remote.pullCount())

	f.channel.deliver(models.NewDataUpdate("i-2", "dev-b", time.Now().UnixMilli()))
	require.Eventually(t, func() bool { return f.remote.pullCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestBackgroundDrainLoop(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, func(cfg *config.SyncConfig) { cfg.AutoSync = false })
	f.engine.DrainInterval = 20 * time.Millisecond

	_, err := f.engine.SyncData(ctx, textRequest("queued", "dev-a", time.Now()))
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(ctx))
	require.Eventually(t, func() bool { return f.remote.pushCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateConfig(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)

	bad := config.DefaultSyncConfig()
	bad.CompressionQuality = 200
	err := f.engine.UpdateConfig(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidConfiguration, apperr.KindOf(err))

	good := config.DefaultSyncConfig()
	good.SyncTypes = []string{"text"}
	require.NoError(t, f.engine.UpdateConfig(ctx, good))
	assert.Equal(t, []string{"text"}, f.engine.GetConfig().SyncTypes)

	persisted, err := f.store.LoadSyncConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"text"}, persisted.SyncTypes)

	// Mutating the caller's copy must not leak into the engine.
	good.SyncTypes[0] = "image"
	assert.Equal(t, []string{"text"}, f.engine.GetConfig().SyncTypes)
}

func TestResolveConflictRoutesStrategies(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	now := time.Now()

	c1, err := f.engine.Resolver().DetectConflict(ctx, textAt("a", now), textAt("b", now), "dev-b")
	require.NoError(t, err)
	c2, err := f.engine.Resolver().DetectConflict(ctx, textAt("c", now), textAt("d", now), "dev-b")
	require.NoError(t, err)

	res, err := f.engine.ResolveConflict(ctx, c1.ConflictID, models.StrategyManual, textAt("chosen", now), "picked")
	require.NoError(t, err)
	assert.Equal(t, "chosen", res.ResolvedData.Value)
	assert.Equal(t, "dev-a", res.ResolvedBy)

	res, err = f.engine.ResolveConflict(ctx, c2.ConflictID, models.StrategyUseLocal, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "c", res.ResolvedData.Value)

	_, err = f.engine.ResolveConflict(ctx, c2.ConflictID, "Coinflip", nil, "")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSyncConflict))
}

func TestTestConnection(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, nil)
	require.NoError(t, f.engine.Start(ctx))

	result := f.engine.TestConnection(ctx)
	assert.True(t, result.Success)
	assert.True(t, result.WebSocketConnected)

	f.remote.healthErr = apperr.New(apperr.KindNetwork, "timeout")
	result = f.engine.TestConnection(ctx)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "timeout")
}
