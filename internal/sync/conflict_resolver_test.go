package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/models"
	"github.com/xelth-com/clipsync/internal/storage"
)

func textAt(value string, at time.Time) *models.ClipboardPayload {
	p := models.ClipboardPayload{Type: models.PayloadText, Value: value, Search: value, Count: 1}.WithTimestamp(at)
	return &p
}

func imageAt(value string, w, h int, at time.Time) *models.ClipboardPayload {
	p := models.ClipboardPayload{Type: models.PayloadImage, Value: value, Count: 1, Width: &w, Height: &h}.WithTimestamp(at)
	return &p
}

func newTestResolver(t *testing.T) (*ConflictResolver, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewConflictResolver(store), store
}

func TestHasConflictIsSymmetric(t *testing.T) {
	now := time.Now()
	pairs := []struct {
		name string
		a, b *models.ClipboardPayload
		want bool
	}{
		{"same text", textAt("hello", now), textAt("hello", now.Add(time.Second)), false},
		{"different text", textAt("hello", now), textAt("world", now), true},
		{"type mismatch", textAt("x", now), imageAt("x", 10, 10, now), true},
		{"same image", imageAt("img", 10, 20, now), imageAt("img", 10, 20, now), false},
		{"image resized", imageAt("img", 10, 20, now), imageAt("img", 10, 30, now), true},
	}

	for _, tc := range pairs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasConflict(tc.a, tc.b))
			assert.Equal(t, tc.want, HasConflict(tc.b, tc.a))
			assert.Equal(t, DetermineConflictType(tc.a, tc.b), DetermineConflictType(tc.b, tc.a))
		})
	}
}

func TestDetermineConflictType(t *testing.T) {
	now := time.Now()
	assert.Equal(t, models.ConflictTypeMismatch, DetermineConflictType(textAt("a", now), imageAt("a", 1, 1, now)))
	assert.Equal(t, models.ConflictContentMismatch, DetermineConflictType(textAt("a", now), textAt("b", now)))
	assert.Equal(t, models.ConflictMetadataMismatch, DetermineConflictType(imageAt("a", 1, 1, now), imageAt("a", 2, 1, now)))
}

func TestDetectConflict(t *testing.T) {
	ctx := context.Background()
	cr, store := newTestResolver(t)
	now := time.Now()

	c, err := cr.DetectConflict(ctx, textAt("same", now), textAt("same", now), "dev-b")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = cr.DetectConflict(ctx, textAt("local", now), textAt("remote", now), "dev-b")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, models.ConflictStatusPending, c.Status)
	assert.Equal(t, models.ConflictContentMismatch, c.ConflictType)
	assert.Equal(t, "dev-b", c.DeviceID)

	persisted, err := store.LoadConflicts(ctx, models.ConflictStatusPending)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, c.ConflictID, persisted[0].ConflictID)
}

func TestUseLatest(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		localAt   time.Time
		remoteAt  time.Time
		wantValue string
	}{
		{"local newer", base.Add(time.Second), base, "local"},
		{"remote newer", base, base.Add(time.Second), "remote"},
		{"tie goes to remote", base, base, "remote"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cr, _ := newTestResolver(t)
			c, err := cr.DetectConflict(ctx, textAt("local", tc.localAt), textAt("remote", tc.remoteAt), "dev-b")
			require.NoError(t, err)

			res, err := cr.AutoResolveConflict(ctx, c.ConflictID, models.StrategyUseLatest, "tester")
			require.NoError(t, err)
			assert.Equal(t, tc.wantValue, res.ResolvedData.Value)
			assert.Equal(t, models.StrategyUseLatest, res.Strategy)
			assert.Equal(t, "tester", res.ResolvedBy)
		})
	}
}

func TestUseLatestRejectsBadTimestamps(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)

	local := textAt("local", time.Now())
	remote := textAt("remote", time.Now())
	remote.Timestamp = "yesterday"

	c, err := cr.DetectConflict(ctx, local, remote, "dev-b")
	require.NoError(t, err)

	_, err = cr.AutoResolveConflict(ctx, c.ConflictID, models.StrategyUseLatest, "tester")
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknown, apperr.KindOf(err))
}

func TestLocalAndRemoteStrategies(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)
	now := time.Now()

	c1, err := cr.DetectConflict(ctx, textAt("mine", now), textAt("theirs", now), "dev-b")
	require.NoError(t, err)
	res, err := cr.AutoResolveConflict(ctx, c1.ConflictID, models.StrategyUseLocal, "tester")
	require.NoError(t, err)
	assert.Equal(t, "mine", res.ResolvedData.Value)

	c2, err := cr.DetectConflict(ctx, textAt("mine", now), textAt("theirs", now), "dev-b")
	require.NoError(t, err)
	res, err = cr.AutoResolveConflict(ctx, c2.ConflictID, models.StrategyUseRemote, "tester")
	require.NoError(t, err)
	assert.Equal(t, "theirs", res.ResolvedData.Value)
}

func TestMergeStrategy(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	c, err := cr.DetectConflict(ctx, textAt("A", base), textAt("B", base.Add(time.Second)), "dev-b")
	require.NoError(t, err)
	res, err := cr.AutoResolveConflict(ctx, c.ConflictID, models.StrategyMerge, "tester")
	require.NoError(t, err)
	assert.Equal(t, "A | B", res.ResolvedData.Value)
	assert.Equal(t, models.PayloadText, res.ResolvedData.Type)

	// Non-text payloads fall back to the latest version.
	img, err := cr.DetectConflict(ctx, imageAt("old", 1, 1, base), imageAt("new", 1, 1, base.Add(time.Second)), "dev-b")
	require.NoError(t, err)
	res, err = cr.AutoResolveConflict(ctx, img.ConflictID, models.StrategyMerge, "tester")
	require.NoError(t, err)
	assert.Equal(t, "new", res.ResolvedData.Value)
}

func TestManualStrategy(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)
	now := time.Now()

	c, err := cr.DetectConflict(ctx, textAt("a", now), textAt("b", now), "dev-b")
	require.NoError(t, err)

	_, err = cr.AutoResolveConflict(ctx, c.ConflictID, models.StrategyManual, "tester")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSyncConflict))

	_, err = cr.ManualResolveConflict(ctx, c.ConflictID, nil, "tester", "")
	require.Error(t, err)

	res, err := cr.ManualResolveConflict(ctx, c.ConflictID, textAt("picked", now), "tester", "chose by hand")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyManual, res.Strategy)
	assert.Equal(t, "picked", res.ResolvedData.Value)
	assert.Equal(t, "chose by hand", res.Notes)
}

func TestResolvedConflictLeavesPendingSet(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)
	now := time.Now()

	c, err := cr.DetectConflict(ctx, textAt("a", now), textAt("b", now), "dev-b")
	require.NoError(t, err)

	_, err = cr.AutoResolveConflict(ctx, c.ConflictID, models.StrategyUseLocal, "tester")
	require.NoError(t, err)

	pending, err := cr.GetPendingConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	resolved, err := cr.GetResolvedConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].Resolution)
	assert.Equal(t, models.StrategyUseLocal, resolved[0].Resolution.Strategy)

	_, err = cr.AutoResolveConflict(ctx, c.ConflictID, models.StrategyUseLocal, "tester")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSyncConflict))

	_, err = cr.AutoResolveConflict(ctx, "missing", models.StrategyUseLocal, "tester")
	require.Error(t, err)
}

// slowResolveStore delays saving resolved conflicts so concurrent resolvers
// overlap.
type slowResolveStore struct {
	*storage.MemoryStore
}

func (s slowResolveStore) SaveConflict(ctx context.Context, conflict *models.SyncConflict) error {
	if conflict.Status == models.ConflictStatusResolved {
		time.Sleep(20 * time.Millisecond)
	}
	return s.MemoryStore.SaveConflict(ctx, conflict)
}

func TestConcurrentResolveSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cr := NewConflictResolver(slowResolveStore{store})

	c, err := cr.DetectConflict(ctx, textAt("mine", time.Now()), textAt("theirs", time.Now()), "dev-b")
	require.NoError(t, err)

	strategies := []models.ResolutionStrategy{models.StrategyUseLocal, models.StrategyUseRemote}
	errs := make([]error, len(strategies))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, strategy := range strategies {
		wg.Add(1)
		go func(i int, strategy models.ResolutionStrategy) {
			defer wg.Done()
			<-start
			_, errs[i] = cr.AutoResolveConflict(ctx, c.ConflictID, strategy, "tester")
		}(i, strategy)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.IsKind(err, apperr.KindSyncConflict))
		assert.Contains(t, err.Error(), "already resolved")
	}
	assert.Equal(t, 1, succeeded)

	resolved, err := store.LoadConflicts(ctx, models.ConflictStatusResolved)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.NotNil(t, resolved[0].Resolution)

	winner := models.StrategyUseLocal
	if errs[0] != nil {
		winner = models.StrategyUseRemote
	}
	assert.Equal(t, winner, resolved[0].Resolution.Strategy)
}

func TestCleanupResolvedConflicts(t *testing.T) {
	ctx := context.Background()
	cr, store := newTestResolver(t)
	now := time.Now().UTC()

	save := func(id string, status models.ConflictStatus, detected time.Time) {
		require.NoError(t, store.SaveConflict(ctx, &models.SyncConflict{
			ConflictID:   id,
			LocalItem:    *textAt("a", detected),
			RemoteItem:   *textAt("b", detected),
			ConflictType: models.ConflictContentMismatch,
			DetectedAt:   detected,
			DeviceID:     "dev-b",
			Status:       status,
		}))
	}
	save("old-resolved", models.ConflictStatusResolved, now.AddDate(0, 0, -10))
	save("new-resolved", models.ConflictStatusResolved, now.AddDate(0, 0, -1))
	save("old-pending", models.ConflictStatusPending, now.AddDate(0, 0, -30))

	removed, err := cr.CleanupResolvedConflicts(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err := store.LoadConflicts(ctx, "")
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, c := range all {
		ids = append(ids, c.ConflictID)
	}
	assert.ElementsMatch(t, []string{"new-resolved", "old-pending"}, ids)
}

func TestConflictStats(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)
	now := time.Now()

	c1, err := cr.DetectConflict(ctx, textAt("a", now), textAt("b", now), "dev-b")
	require.NoError(t, err)
	_, err = cr.DetectConflict(ctx, textAt("a", now), imageAt("a", 1, 1, now), "dev-b")
	require.NoError(t, err)
	_, err = cr.DetectConflict(ctx, textAt("c", now), textAt("d", now), "dev-c")
	require.NoError(t, err)

	_, err = cr.AutoResolveConflict(ctx, c1.ConflictID, models.StrategyUseRemote, "tester")
	require.NoError(t, err)

	stats, err := cr.GetConflictStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 2, stats.ByType[models.ConflictContentMismatch])
	assert.Equal(t, 1, stats.ByType[models.ConflictTypeMismatch])
}

func TestBatchResolveConflicts(t *testing.T) {
	ctx := context.Background()
	cr, _ := newTestResolver(t)
	now := time.Now()

	for _, v := range []string{"x", "y", "z"} {
		_, err := cr.DetectConflict(ctx, textAt(v, now), textAt(v+"!", now), "dev-b")
		require.NoError(t, err)
	}

	resolutions, err := cr.BatchResolveConflicts(ctx, models.StrategyUseRemote, "tester")
	require.NoError(t, err)
	assert.Len(t, resolutions, 3)

	pending, err := cr.GetPendingConflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLoadPendingConflictsFromStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Now()

	first := NewConflictResolver(store)
	c, err := first.DetectConflict(ctx, textAt("a", now), textAt("b", now), "dev-b")
	require.NoError(t, err)

	second := NewConflictResolver(store)
	require.NoError(t, second.LoadPendingConflicts(ctx))

	got, err := second.GetConflict(ctx, c.ConflictID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.LocalItem.Value)
	assert.Equal(t, "b", got.RemoteItem.Value)
}
