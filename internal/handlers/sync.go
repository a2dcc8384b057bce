package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/models"
	"github.com/xelth-com/clipsync/internal/sync"
)

// SyncHandler exposes the sync engine over HTTP
type SyncHandler struct {
	syncEngine *sync.Engine
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncEngine *sync.Engine) *SyncHandler {
	return &SyncHandler{syncEngine: syncEngine}
}

// RegisterRoutes registers sync routes on a router mounted at /api
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	// Sync control endpoints
	r.HandleFunc("/sync/status", sh.GetSyncStatus).Methods("GET")
	r.HandleFunc("/sync/data", sh.SyncData).Methods("POST")
	r.HandleFunc("/sync/pull", sh.PullUpdates).Methods("POST")
	r.HandleFunc("/sync/force", sh.ForceSync).Methods("POST")
	r.HandleFunc("/sync/start", sh.StartSync).Methods("POST")
	r.HandleFunc("/sync/stop", sh.StopSync).Methods("POST")
	r.HandleFunc("/sync/config", sh.GetConfig).Methods("GET")
	r.HandleFunc("/sync/config", sh.UpdateConfig).Methods("PUT")
	r.HandleFunc("/sync/test-connection", sh.TestConnection).Methods("GET")

	// Conflict endpoints
	r.HandleFunc("/sync/conflicts", sh.ListConflicts).Methods("GET")
	r.HandleFunc("/sync/conflicts/stats", sh.ConflictStats).Methods("GET")
	r.HandleFunc("/sync/conflicts/resolve-all", sh.ResolveAllConflicts).Methods("POST")
	r.HandleFunc("/sync/conflicts/resolved", sh.CleanupConflicts).Methods("DELETE")
	r.HandleFunc("/sync/conflicts/{id}/resolve", sh.ResolveConflict).Methods("POST")
}

// GetSyncStatus returns the current sync status
func (sh *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := sh.syncEngine.GetStatus(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// SyncData accepts one local clipboard change
func (sh *SyncHandler) SyncData(w http.ResponseWriter, r *http.Request) {
	var req models.SyncDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Data.Type == "" {
		respondError(w, http.StatusBadRequest, "data.type is required")
		return
	}

	resp, err := sh.syncEngine.SyncData(r.Context(), req)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// PullUpdates fetches remote changes, optionally since an RFC 3339 time
func (sh *SyncHandler) PullUpdates(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	result, err := sh.syncEngine.PullUpdates(r.Context(), since)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ForceSync pushes the queue and pulls immediately
func (sh *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	result, err := sh.syncEngine.ForceSyncAll(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// StartSync starts the background loops
func (sh *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	if err := sh.syncEngine.Start(r.Context()); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// StopSync stops the background loops
func (sh *SyncHandler) StopSync(w http.ResponseWriter, r *http.Request) {
	sh.syncEngine.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (sh *SyncHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.syncEngine.GetConfig())
}

func (sh *SyncHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.SyncConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := sh.syncEngine.UpdateConfig(r.Context(), &cfg); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sh.syncEngine.GetConfig())
}

// TestConnection checks that the sync server answers
func (sh *SyncHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.syncEngine.TestConnection(r.Context()))
}

// ListConflicts returns conflicts, filtered by ?status=pending|resolved
func (sh *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	status := models.ConflictStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.ConflictStatusPending, models.ConflictStatusResolved:
	default:
		respondError(w, http.StatusBadRequest, "status must be pending or resolved")
		return
	}

	conflicts, err := sh.syncEngine.Resolver().ListConflicts(r.Context(), status)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(conflicts),
		"conflicts": conflicts,
	})
}

func (sh *SyncHandler) ConflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := sh.syncEngine.Resolver().GetConflictStats(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type resolveRequest struct {
	Strategy     models.ResolutionStrategy `json:"strategy"`
	ResolvedData *models.ClipboardPayload  `json:"resolved_data,omitempty"`
	Notes        string                    `json:"notes,omitempty"`
}

// ResolveConflict resolves one conflict by id
func (sh *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := sh.syncEngine.ResolveConflict(r.Context(), id, req.Strategy, req.ResolvedData, req.Notes)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ResolveAllConflicts applies one strategy to every pending conflict
func (sh *SyncHandler) ResolveAllConflicts(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resolutions, err := sh.syncEngine.ResolveAllConflicts(r.Context(), req.Strategy)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"resolved":    len(resolutions),
		"resolutions": resolutions,
	})
}

// CleanupConflicts deletes resolved conflicts older than ?older_than_days (default 30)
func (sh *SyncHandler) CleanupConflicts(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "older_than_days must be a non-negative integer")
			return
		}
		days = n
	}

	removed, err := sh.syncEngine.Resolver().CleanupResolvedConflicts(r.Context(), days)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
