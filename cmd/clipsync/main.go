package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/clipsync/internal/buildinfo"
	"github.com/xelth-com/clipsync/internal/config"
	"github.com/xelth-com/clipsync/internal/database"
	"github.com/xelth-com/clipsync/internal/encryption"
	"github.com/xelth-com/clipsync/internal/events"
	"github.com/xelth-com/clipsync/internal/handlers"
	"github.com/xelth-com/clipsync/internal/realtime"
	"github.com/xelth-com/clipsync/internal/storage"
	"github.com/xelth-com/clipsync/internal/sync"
	"github.com/xelth-com/clipsync/internal/utils"
	"github.com/xelth-com/clipsync/internal/websocket"
)

// Marks that the environment sync config has been written to storage once.
const configSeededKey = "sync_config_seeded"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("📋 clipsync %s (%s)", buildinfo.Version, cfg.NodeEnv)

	var (
		store storage.Store
		db    *database.DB
	)
	if cfg.Database.Driver == "memory" {
		log.Println("⚠️ Using in-memory storage, nothing survives a restart")
		store = storage.NewMemoryStore()
	} else {
		db, err = database.Connect(cfg.Database, cfg.DataDir)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		log.Println("🚀 Synchronizing database schema...")
		gormStore, err := storage.NewGormStore(db.DB)
		if err != nil {
			log.Fatalf("Failed to prepare storage: %v", err)
		}
		log.Println("✅ Schema synchronized successfully")
		store = gormStore
	}

	ctx := context.Background()
	seedStorage(ctx, cfg, store)

	crypto := encryption.NewManager()
	if cfg.MasterPassword != "" {
		if err := crypto.InitializeMasterKey(cfg.MasterPassword, cfg.MasterSalt); err != nil {
			log.Fatalf("Failed to derive master key: %v", err)
		}
		log.Println("🔐 Master key initialized")
	} else {
		log.Println("⚠️ SYNC_MASTER_PASSWORD not set, pushes and pulls will fail to encrypt")
	}

	hub := websocket.NewHub()
	go hub.Run()
	sink := events.Multi{events.LogSink{}, hub}

	channel := realtime.NewChannel(realtime.OptionsFromConfig(cfg.WebSocketURL, cfg.Realtime), store, sink)
	remote := sync.NewRemoteClient(cfg.APIBaseURL, sync.NewHTTPClient(cfg.HTTPTimeout))

	log.Println("🔄 Initializing Sync Engine...")
	syncEngine := sync.NewEngine(sync.Deps{
		Store:    store,
		Remote:   remote,
		Channel:  channel,
		Resolver: sync.NewConflictResolver(store),
		Cipher:   crypto,
		Sink:     sink,
	}, nil)

	syncCfg := syncEngine.GetConfig()
	if stored, err := store.LoadSyncConfig(ctx); err == nil {
		syncCfg = stored
	}
	if syncCfg.Enabled {
		if err := syncEngine.Start(ctx); err != nil {
			log.Printf("⚠️ Sync Engine: Failed to start: %v", err)
		} else {
			log.Println("✅ Sync Engine: Started successfully")
		}
	}

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		for range ticker.C {
			removed, err := store.ClearExpiredCache(context.Background())
			if err != nil {
				log.Printf("Cache cleanup error: %v", err)
			} else if removed > 0 {
				log.Printf("🧹 Removed %d expired cache entries", removed)
			}
		}
	}()

	router := handlers.NewRouter(syncEngine, hub, cfg.ControlJWTSecret)
	if cfg.ControlJWTSecret == "" {
		log.Println("⚠️ CONTROL_JWT_SECRET not set, control API is unauthenticated")
	}

	server := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Control API starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	syncEngine.Stop()
	hub.Close()
	crypto.ClearKeys()

	if db != nil {
		log.Println("🛑 Closing database connection...")
		if err := db.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}

	log.Println("✅ Shutdown complete")
}

// seedStorage writes environment-provided session data and, on first run,
// the environment sync config.
func seedStorage(ctx context.Context, cfg *config.Config, store storage.Store) {
	if cfg.AuthToken != "" {
		if err := store.SaveAuthData(ctx, cfg.AuthToken, cfg.UserID); err != nil {
			log.Printf("⚠️ Failed to store session: %v", err)
		}
	}

	if _, err := store.LoadDeviceID(ctx); err != nil {
		id := utils.DeviceFingerprint()
		if err := store.SaveDeviceID(ctx, id); err != nil {
			log.Printf("⚠️ Failed to store device id: %v", err)
		} else {
			log.Printf("📱 Device id initialized from fingerprint %s", id[:12])
		}
	}

	if _, seeded, err := store.GetCache(ctx, configSeededKey); err == nil && !seeded {
		if err := store.SaveSyncConfig(ctx, config.LoadSyncConfig()); err != nil {
			log.Printf("⚠️ Failed to seed sync config: %v", err)
			return
		}
		if err := store.SetCache(ctx, configSeededKey, time.Now().UTC().Format(time.RFC3339), 0); err != nil {
			log.Printf("⚠️ Failed to mark sync config as seeded: %v", err)
		}
	}
}
