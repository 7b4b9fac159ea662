package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chess-arena/internal/board"
	appcfg "chess-arena/internal/config"
	"chess-arena/internal/engine"
	"chess-arena/internal/httpapi"
	"chess-arena/internal/msgcat"
	"chess-arena/internal/obslog"
	"chess-arena/internal/room"
	"chess-arena/internal/store"
	"chess-arena/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url invalid", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	roomStore := store.NewRoomStore(rdb, cfg.RoomTTL)

	var repo *store.Repository
	if cfg.DatabaseURL != "" {
		repo, err = store.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database init failed", zap.Error(err))
		}
		defer repo.Close()
	} else {
		logger.Warn("DATABASE_URL not set, ratings and match history are disabled")
	}

	var oracle *engine.Oracle
	if cfg.StockfishPath != "" {
		oracle, err = engine.NewOracle(cfg.StockfishPath)
		if err != nil {
			logger.Fatal("engine init failed", zap.Error(err))
		}
		defer oracle.Close()
	} else {
		logger.Warn("STOCKFISH_PATH not set, engine games will play random legal moves")
		oracle = engine.NewFallbackOracle()
	}

	catalog, err := msgcat.New(os.Getenv("MESSAGE_OVERRIDE_DIR"))
	if err != nil {
		logger.Fatal("message catalog init failed", zap.Error(err))
	}

	deps := room.Deps{
		Store:         roomStore,
		Oracle:        oracle,
		Catalog:       catalog,
		DefaultRating: cfg.DefaultRating,
	}
	if repo != nil {
		deps.Ledger = repo
	}
	registry := room.NewRegistry(deps, cfg.MaxActiveRooms)
	defer registry.Close()

	api := &httpapi.Server{
		Registry:      registry,
		Oracle:        oracle,
		RoomStore:     roomStore,
		Renderer:      board.NewRenderer(),
		DefaultRating: cfg.DefaultRating,
	}
	if repo != nil {
		api.Ledger = repo
		api.StatsSource = repo
		api.History = repo
	}
	handler := httpapi.SetupRoutes(api, ws.NewHandler(registry))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Error("redis close failed", zap.Error(err))
	}
}
