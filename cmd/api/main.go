package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"huddle/api/internal/app"
	"huddle/api/internal/blob"
	"huddle/api/internal/config"
	"huddle/api/internal/email"
	"huddle/api/internal/live"
	"huddle/api/internal/logger"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/store"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Log
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}
	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer sessions.Close()

	deps := app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Slots:    blob.NewSlotStore(sessions.Client(), cfg.UploadSlotTTL),
		Hub:      live.NewHub(sessions.Client()),
	}

	var blobs *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err = blob.NewStore(ctx, blob.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.ImageURLTTL,
		})
		if err != nil {
			log.Warn("object storage unavailable, uploads disabled", zap.Error(err))
			blobs = nil
		} else {
			deps.Blobs = blobs
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))
	defer searchService.Close()
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: "Huddle",
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	httpServer.AddReadinessCheck("redis", sessions.Ping)
	if blobs != nil {
		httpServer.AddReadinessCheck("object_storage", blobs.Ping)
	}

	// WriteTimeout stays unset so the message stream can outlive it.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("huddle api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
