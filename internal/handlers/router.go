package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/clipsync/internal/apperr"
	"github.com/xelth-com/clipsync/internal/buildinfo"
	"github.com/xelth-com/clipsync/internal/middleware"
	"github.com/xelth-com/clipsync/internal/sync"
	"github.com/xelth-com/clipsync/internal/websocket"
)

// Router wraps the mux router and the sync engine
type Router struct {
	*mux.Router
	engine *sync.Engine
	hub    *websocket.Hub
}

// NewRouter creates the control API. Routes under /api require a bearer
// token signed with jwtSecret when it is set.
func NewRouter(engine *sync.Engine, hub *websocket.Hub, jwtSecret string) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		engine: engine,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Local event stream
	if hub != nil {
		r.HandleFunc("/events", func(w http.ResponseWriter, req *http.Request) {
			websocket.ServeWs(hub, w, req)
		}).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(jwtSecret))
	NewSyncHandler(engine).RegisterRoutes(api)

	return r
}

// healthCheck reports liveness and build information
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status, err := r.engine.GetStatus(req.Context())
	state := "unknown"
	if err == nil {
		state = status.Status
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"sync":   state,
		"build":  buildinfo.Current(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("⚠️ Failed to write response: %v", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondAppError maps an error kind to its HTTP status.
func respondAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindAuthentication:
		status = http.StatusUnauthorized
	case apperr.KindInvalidConfiguration:
		status = http.StatusBadRequest
	case apperr.KindDeviceNotFound:
		status = http.StatusNotFound
	case apperr.KindSyncConflict:
		status = http.StatusConflict
	case apperr.KindNetwork, apperr.KindSerialization:
		status = http.StatusBadGateway
	case apperr.KindServiceUnavailable:
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  kind,
	})
}
