package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"compass/api/internal/aireport"
	"compass/api/internal/app"
	"compass/api/internal/authpw"
	"compass/api/internal/bus"
	"compass/api/internal/config"
	"compass/api/internal/export"
	"compass/api/internal/ledger"
	"compass/api/internal/search"
	"compass/api/internal/seed"
	"compass/api/internal/session"
	"compass/api/internal/store"
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

	pgSearch := search.NewPG(dataStore)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgSearch)

	// Refresh sessions live in Redis when configured, Postgres otherwise.
	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		sessions = app.NewPGSessions(dataStore)
	}

	hub := bus.NewHub()
	go hub.Run()
	defer hub.Stop()

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Auth:     authpw.NewService(dataStore),
		Ledger:   ledger.New(dataStore),
		Hub:      hub,
		Seeder:   seed.New(dataStore),
		Reports:  aireport.NewService(dataStore, aireport.NewClient(cfg.ModelBaseURL, cfg.ModelName), cfg.ModelName),
		Exporter: export.NewService(),
		Search:   searchService,
	})

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	// No WriteTimeout: /api/ws connections are long-lived.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Compass API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
}
