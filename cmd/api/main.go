package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chronicle/collab/internal/access"
	"chronicle/collab/internal/config"
	"chronicle/collab/internal/gateway"
	"chronicle/collab/internal/relay"
	"chronicle/collab/internal/room"
	"chronicle/collab/internal/search"
	"chronicle/collab/internal/store"
	"chronicle/collab/internal/suggestion"
)

// backend is the storage selected by COLLAB_STORAGE.
type backend struct {
	repo  suggestion.Repository
	roles access.RoleLookup
	pgfts *search.PgFTS
	ping  gateway.Check
	close func() error
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL, 30*time.Second)
		if err != nil {
			return backend{}, err
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			db.Close()
			return backend{}, err
		}
		pg := store.NewPostgresStore(db)
		return backend{repo: pg, roles: pg, pgfts: search.NewPgFTS(db), ping: pg.Ping, close: db.Close}, nil
	case config.StorageBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o755); err != nil {
			return backend{}, err
		}
		bs, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return backend{}, err
		}
		return backend{repo: bs, roles: bs, ping: bs.Ping, close: bs.Close}, nil
	default:
		log.Printf("Using in-memory storage; suggestions are lost on restart")
		return backend{
			repo:  suggestion.NewMemoryRepository(),
			roles: access.NewStaticLookup(),
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	data, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("storage (%s) failed: %v", cfg.Storage, err)
	}
	defer data.close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, data.pgfts)
	go searchService.ReindexFromPG(ctx)

	checks := map[string]gateway.Check{"store": data.ping}
	opts := room.Options{
		RecentWindow: cfg.RecentWindow,
		StoreTimeout: cfg.StoreTimeout,
		Indexer:      searchService,
		Searcher:     searchService,
	}

	var redisRelay *relay.Redis
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis relay as node %s", cfg.NodeID)
		redisRelay, err = relay.NewRedis(cfg.RedisURL, cfg.NodeID)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisRelay.Close()
		opts.Publisher = redisRelay
		checks["relay"] = redisRelay.Ping
	}

	registry := room.NewRegistry(room.RegistryOptions{
		IdleTimeout:   cfg.RoomIdleTimeout,
		SweepInterval: cfg.RoomSweepInterval,
		QueueSize:     cfg.RoomQueueSize,
	})
	go registry.Run(ctx)

	resolver := access.NewRoleResolver(data.roles, cfg.DefaultRole)
	coord := room.NewCoordinator(registry, suggestion.NewStore(data.repo), resolver, opts)

	if redisRelay != nil {
		sub, err := redisRelay.Subscribe(ctx, coord.HandleRelayed)
		if err != nil {
			log.Fatalf("redis subscribe failed: %v", err)
		}
		defer sub.Close()
	}

	httpServer, err := gateway.NewHTTPServer(coord, gateway.Options{
		JWTSecret:    []byte(cfg.JWTSecret),
		CORSOrigin:   cfg.CORSOrigin,
		SendBuffer:   cfg.SendBuffer,
		ReadLimit:    cfg.WSReadLimit,
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		Checks:       checks,
	})
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Chronicle collab listening on %s (storage=%s)", cfg.Addr, cfg.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if n := httpServer.CloseSockets(); n > 0 {
		log.Printf("closed %d sockets", n)
	}
	if err := registry.Close(shutdownCtx); err != nil {
		log.Printf("room shutdown error: %v", err)
	}
	stop()
}
