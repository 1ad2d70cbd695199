package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowdeck/api/internal/auth"
	"flowdeck/api/internal/collab"
	"flowdeck/api/internal/config"
	"flowdeck/api/internal/realtime"
	"flowdeck/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	tickets, err := auth.NewTicketStore(cfg.RedisURL, cfg.TicketTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer tickets.Close()

	registry := collab.NewSessionRegistry()
	rooms := collab.NewRoomManager(registry, dataStore)
	pipeline := collab.NewPipeline(rooms, registry, dataStore)
	gateway := realtime.NewGateway(registry, rooms, pipeline, tickets, dataStore, cfg.SyncToken, cfg.CORSOrigin)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go gateway.StartReaper(reaperCtx)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Flowdeck collaboration API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Stop admitting connections and flush realtime clients before closing
	// the listener.
	gateway.Close()
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
