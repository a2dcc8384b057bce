package sync

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/models"
)

// SimultaneousWindow is how close two edits must be to count as concurrent.
const SimultaneousWindow = 5 * time.Second

// ConflictStore persists conflict records.
type ConflictStore interface {
	SaveConflict(ctx context.Context, conflict *models.SyncConflict) error
	LoadConflicts(ctx context.Context, status models.ConflictStatus) ([]models.SyncConflict, error)
	DeleteConflict(ctx context.Context, conflictID string) error
}

// ConflictResolver detects divergent clipboard versions and collapses them
// into one payload. The pending index is a cache over the store and can be
// rebuilt with LoadPendingConflicts at any time.
type ConflictResolver struct {
	store ConflictStore

	mu      sync.Mutex
	pending map[string]*models.SyncConflict
	claimed map[string]bool
}

// NewConflictResolver creates a new conflict resolver
func NewConflictResolver(store ConflictStore) *ConflictResolver {
	return &ConflictResolver{
		store:   store,
		pending: make(map[string]*models.SyncConflict),
		claimed: make(map[string]bool),
	}
}

// LoadPendingConflicts rebuilds the in-memory index from the store.
func (cr *ConflictResolver) LoadPendingConflicts(ctx context.Context) error {
	conflicts, err := cr.store.LoadConflicts(ctx, models.ConflictStatusPending)
	if err != nil {
		return err
	}

	index := make(map[string]*models.SyncConflict, len(conflicts))
	for i := range conflicts {
		index[conflicts[i].ConflictID] = &conflicts[i]
	}

	cr.mu.Lock()
	cr.pending = index
	cr.mu.Unlock()

	log.Printf("📋 Loaded %d pending conflicts", len(index))
	return nil
}

// HasConflict reports whether local and remote disagree. The result does not
// depend on argument order.
func HasConflict(local, remote *models.ClipboardPayload) bool {
	if local.Type != remote.Type {
		return true
	}
	if local.Value != remote.Value {
		return true
	}
	if local.Type == models.PayloadImage {
		return !reflect.DeepEqual(local.Width, remote.Width) || !reflect.DeepEqual(local.Height, remote.Height)
	}
	return false
}

// DetermineConflictType classifies a conflict, most severe first.
func DetermineConflictType(local, remote *models.ClipboardPayload) models.ConflictType {
	switch {
	case local.Type != remote.Type:
		return models.ConflictTypeMismatch
	case local.Value != remote.Value:
		return models.ConflictContentMismatch
	default:
		return models.ConflictMetadataMismatch
	}
}

// DetectConflict records a conflict between local and remote if they differ.
// It returns nil when they agree.
func (cr *ConflictResolver) DetectConflict(ctx context.Context, local, remote *models.ClipboardPayload, deviceID string) (*models.SyncConflict, error) {
	lt, lok := local.ParsedTimestamp()
	rt, rok := remote.ParsedTimestamp()
	if lok && rok && absDuration(lt.Sub(rt)) < SimultaneousWindow {
		log.Printf("⏱️ Near-simultaneous edits from %s (%s apart)", deviceID, absDuration(lt.Sub(rt)))
	}

	if !HasConflict(local, remote) {
		return nil, nil
	}

	conflict := &models.SyncConflict{
		ConflictID:   uuid.New().String(),
		LocalItem:    *local,
		RemoteItem:   *remote,
		ConflictType: DetermineConflictType(local, remote),
		DetectedAt:   time.Now().UTC(),
		DeviceID:     deviceID,
		Status:       models.ConflictStatusPending,
	}
	if err := cr.RecordConflict(ctx, conflict); err != nil {
		return nil, err
	}

	log.Printf("⚠️ Conflict detected: %s (%s)", conflict.ConflictID, conflict.ConflictType)
	return conflict, nil
}

// RecordConflict persists a pending conflict, for instance one reported by
// the server, and indexes it.
func (cr *ConflictResolver) RecordConflict(ctx context.Context, conflict *models.SyncConflict) error {
	if conflict.ConflictID == "" {
		conflict.ConflictID = uuid.New().String()
	}
	if conflict.DetectedAt.IsZero() {
		conflict.DetectedAt = time.Now().UTC()
	}
	if conflict.Status == "" {
		conflict.Status = models.ConflictStatusPending
	}
	if err := cr.store.SaveConflict(ctx, conflict); err != nil {
		return err
	}

	if conflict.Status == models.ConflictStatusPending {
		cp := *conflict
		cr.mu.Lock()
		cr.pending[cp.ConflictID] = &cp
		cr.mu.Unlock()
	}
	return nil
}

// GetConflict returns a pending conflict. A miss in the index falls back to
// the store.
func (cr *ConflictResolver) GetConflict(ctx context.Context, conflictID string) (*models.SyncConflict, error) {
	cr.mu.Lock()
	c, ok := cr.pending[conflictID]
	cr.mu.Unlock()
	if ok {
		cp := *c
		return &cp, nil
	}

	all, err := cr.store.LoadConflicts(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ConflictID != conflictID {
			continue
		}
		if all[i].Status == models.ConflictStatusResolved {
			return nil, apperr.New(apperr.KindSyncConflict, "conflict %s is already resolved", conflictID)
		}
		return &all[i], nil
	}
	return nil, apperr.New(apperr.KindSyncConflict, "conflict %s not found", conflictID)
}

// AutoResolveConflict applies strategy to a pending conflict. Manual needs
// caller supplied data and is rejected here.
func (cr *ConflictResolver) AutoResolveConflict(ctx context.Context, conflictID string, strategy models.ResolutionStrategy, resolvedBy string) (*models.ConflictResolution, error) {
	conflict, release, err := cr.claim(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	defer release()

	resolved, err := applyStrategy(conflict, strategy)
	if err != nil {
		return nil, err
	}

	resolution := &models.ConflictResolution{
		ConflictID:   conflictID,
		Strategy:     strategy,
		ResolvedData: resolved,
		ResolvedBy:   resolvedBy,
		ResolvedAt:   time.Now().UTC(),
		Notes:        fmt.Sprintf("Auto-resolved using %s strategy", strategy),
	}
	if err := cr.markResolved(ctx, conflict, resolution); err != nil {
		return nil, err
	}
	return resolution, nil
}

// ManualResolveConflict resolves a conflict with caller supplied data.
func (cr *ConflictResolver) ManualResolveConflict(ctx context.Context, conflictID string, resolvedData *models.ClipboardPayload, resolvedBy, notes string) (*models.ConflictResolution, error) {
	if resolvedData == nil {
		return nil, apperr.New(apperr.KindSyncConflict, "manual resolution requires resolved data")
	}
	conflict, release, err := cr.claim(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	defer release()

	data := *resolvedData
	resolution := &models.ConflictResolution{
		ConflictID:   conflictID,
		Strategy:     models.StrategyManual,
		ResolvedData: &data,
		ResolvedBy:   resolvedBy,
		ResolvedAt:   time.Now().UTC(),
		Notes:        notes,
	}
	if err := cr.markResolved(ctx, conflict, resolution); err != nil {
		return nil, err
	}
	return resolution, nil
}

// claim reserves a pending conflict for one resolver. The claim is held
// until release, so a concurrent resolve of the same id fails.
func (cr *ConflictResolver) claim(ctx context.Context, conflictID string) (*models.SyncConflict, func(), error) {
	cr.mu.Lock()
	if cr.claimed[conflictID] {
		cr.mu.Unlock()
		return nil, nil, apperr.New(apperr.KindSyncConflict, "conflict %s is already resolved", conflictID)
	}
	cr.claimed[conflictID] = true
	cr.mu.Unlock()

	release := func() {
		cr.mu.Lock()
		delete(cr.claimed, conflictID)
		cr.mu.Unlock()
	}

	conflict, err := cr.GetConflict(ctx, conflictID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return conflict, release, nil
}

func (cr *ConflictResolver) markResolved(ctx context.Context, conflict *models.SyncConflict, resolution *models.ConflictResolution) error {
	conflict.Status = models.ConflictStatusResolved
	conflict.Resolution = resolution
	if err := cr.store.SaveConflict(ctx, conflict); err != nil {
		return err
	}

	cr.mu.Lock()
	delete(cr.pending, conflict.ConflictID)
	cr.mu.Unlock()

	log.Printf("✅ Conflict %s resolved with %s", conflict.ConflictID, resolution.Strategy)
	return nil
}

func applyStrategy(conflict *models.SyncConflict, strategy models.ResolutionStrategy) (*models.ClipboardPayload, error) {
	local, remote := conflict.LocalItem, conflict.RemoteItem

	switch strategy {
	case models.StrategyUseLocal:
		return &local, nil
	case models.StrategyUseRemote:
		return &remote, nil
	case models.StrategyUseLatest:
		return useLatest(&local, &remote)
	case models.StrategyMerge:
		if local.Type == models.PayloadText && remote.Type == models.PayloadText {
			merged := local.WithTimestamp(time.Now())
			merged.Value = fmt.Sprintf("%s | %s", local.Value, remote.Value)
			merged.Search = merged.Value
			return &merged, nil
		}
		return useLatest(&local, &remote)
	case models.StrategyManual:
		return nil, apperr.New(apperr.KindSyncConflict, "manual resolution requires resolved data")
	default:
		return nil, apperr.New(apperr.KindSyncConflict, "unknown resolution strategy %q", strategy)
	}
}

// useLatest keeps local only when it is strictly newer.
func useLatest(local, remote *models.ClipboardPayload) (*models.ClipboardPayload, error) {
	lt, lok := local.ParsedTimestamp()
	rt, rok := remote.ParsedTimestamp()
	if !lok || !rok {
		return nil, apperr.New(apperr.KindUnknown, "cannot compare timestamps %q and %q", local.Timestamp, remote.Timestamp)
	}
	if lt.After(rt) {
		return local, nil
	}
	return remote, nil
}

// BatchResolveConflicts applies strategy to every pending conflict. Failures
// are logged and skipped.
func (cr *ConflictResolver) BatchResolveConflicts(ctx context.Context, strategy models.ResolutionStrategy, resolvedBy string) ([]models.ConflictResolution, error) {
	pending, err := cr.GetPendingConflicts(ctx)
	if err != nil {
		return nil, err
	}

	var resolutions []models.ConflictResolution
	for _, c := range pending {
		res, err := cr.AutoResolveConflict(ctx, c.ConflictID, strategy, resolvedBy)
		if err != nil {
			log.Printf("❌ Failed to resolve conflict %s: %v", c.ConflictID, err)
			continue
		}
		resolutions = append(resolutions, *res)
	}
	return resolutions, nil
}

// ListConflicts returns persisted conflicts with status, or all of them
// when status is empty.
func (cr *ConflictResolver) ListConflicts(ctx context.Context, status models.ConflictStatus) ([]models.SyncConflict, error) {
	return cr.store.LoadConflicts(ctx, status)
}

// GetPendingConflicts returns pending conflicts from the store.
func (cr *ConflictResolver) GetPendingConflicts(ctx context.Context) ([]models.SyncConflict, error) {
	return cr.store.LoadConflicts(ctx, models.ConflictStatusPending)
}

func (cr *ConflictResolver) GetResolvedConflicts(ctx context.Context) ([]models.SyncConflict, error) {
	return cr.store.LoadConflicts(ctx, models.ConflictStatusResolved)
}

// CleanupResolvedConflicts deletes resolved conflicts detected strictly
// before now minus olderThanDays. Pending conflicts are kept.
func (cr *ConflictResolver) CleanupResolvedConflicts(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	resolved, err := cr.GetResolvedConflicts(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range resolved {
		if !c.DetectedAt.Before(cutoff) {
			continue
		}
		if err := cr.store.DeleteConflict(ctx, c.ConflictID); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		log.Printf("🧹 Removed %d resolved conflicts older than %d days", removed, olderThanDays)
	}
	return removed, nil
}

// GetConflictStats counts the persisted conflicts by status and type.
func (cr *ConflictResolver) GetConflictStats(ctx context.Context) (*models.ConflictStats, error) {
	all, err := cr.store.LoadConflicts(ctx, "")
	if err != nil {
		return nil, err
	}

	stats := &models.ConflictStats{Total: len(all), ByType: make(map[models.ConflictType]int)}
	for _, c := range all {
		switch c.Status {
		case models.ConflictStatusPending:
			stats.Pending++
		case models.ConflictStatusResolved:
			stats.Resolved++
		}
		stats.ByType[c.ConflictType]++
	}
	return stats, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
