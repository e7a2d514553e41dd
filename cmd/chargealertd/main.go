package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/alert"
	"charging-alert-backend/internal/api"
	"charging-alert-backend/internal/calendar"
	"charging-alert-backend/internal/db"
	"charging-alert-backend/internal/idle"
	"charging-alert-backend/internal/logging"
	"charging-alert-backend/internal/poller"
	"charging-alert-backend/internal/store"
	"charging-alert-backend/internal/tracker"
	"charging-alert-backend/internal/vendorapi"
)

func main() {
	zlog, err := logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zlog.Sync()
	log := zlog.Sugar()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "path", configPath, "error", err)
	}
	log.Infow("configuration loaded", "path", configPath, "stations", len(cfg.Poller.Stations))

	loc, err := time.LoadLocation(cfg.Poller.Timezone)
	if err != nil {
		log.Fatalw("invalid timezone", "timezone", cfg.Poller.Timezone, "error", err)
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	log.Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	holder := config.NewHolder(cfg.Alert)

	checker := calendar.NewChecker(appStore, cfg.Calendar, loc, log)
	detector := idle.NewDetector(appStore, log)
	engine := alert.NewEngine(appStore, detector, checker, loc, log)
	tr := tracker.New(appStore, loc, log)
	source := vendorapi.NewClient(cfg.Poller.Vendor)

	pollerSvc := poller.New(appStore, source, tr, engine, holder, cfg.Poller, loc, log)
	if cfg.Poller.Enabled {
		go pollerSvc.Run(ctx)
	} else {
		log.Warn("poller disabled, snapshots will only update via manual triggers")
	}

	router := api.NewRouter(appStore, holder, pollerSvc, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infow("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("HTTP server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("HTTP server shutdown failed", "error", err)
	}
	log.Info("server stopped")
}
