package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/world-engine/internal/config"
	"github.com/jwebster45206/world-engine/internal/handlers"
	"github.com/jwebster45206/world-engine/internal/logger"
	"github.com/jwebster45206/world-engine/internal/middleware"
	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/jwebster45206/world-engine/internal/services/queue"
	"github.com/jwebster45206/world-engine/internal/storage"
	"github.com/jwebster45206/world-engine/internal/world"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting World Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment)

	store, err := storage.NewRedisStorage(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.WaitForConnection(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	actionQueue := queue.NewActionQueue(queueClient, log)

	broadcaster := events.NewBroadcaster(store.Client(), log)
	engine := world.NewEngine(store, broadcaster, log, world.Options{
		SandboxTimeout: cfg.SandboxTimeout,
		RequestTimeout: cfg.RequestTimeout,
		MaxDepth:       cfg.MaxRecalcDepth,
		RenderWorkers:  cfg.RenderWorkers,
	})

	mux := http.NewServeMux()

	mux.Handle("/health", handlers.NewHealthHandler(store, actionQueue, log))
	mux.Handle("/v1/actions", handlers.NewActionHandler(engine, actionQueue, broadcaster, log))

	roomHandler := handlers.NewRoomHandler(engine, log)
	mux.Handle("/v1/rooms/", roomHandler)
	mux.Handle("/v1/assets/", roomHandler)

	mux.Handle("/v1/events/", handlers.NewEventsHandler(store.Client(), log))

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Logger(log, mux),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := queueClient.Close(); err != nil {
		log.Error("Error closing queue client", "error", err)
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
