// Copyright 2026 The OpenClaw Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main is the entry point for the OpenClaw gateway server: a local
// resilience and trust layer that sits between assistant clients and LLM
// providers, adding routing with failover, rate limiting, response caching,
// and human-in-the-loop tool approval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/openclaw/gateway/internal/api"
	"github.com/openclaw/gateway/internal/approval"
	"github.com/openclaw/gateway/internal/backend"
	"github.com/openclaw/gateway/internal/buildinfo"
	"github.com/openclaw/gateway/internal/config"
	"github.com/openclaw/gateway/internal/events"
	"github.com/openclaw/gateway/internal/gateway"
	"github.com/openclaw/gateway/internal/logging"
	"github.com/openclaw/gateway/internal/ratelimit"
	"github.com/openclaw/gateway/internal/respcache"
	"github.com/openclaw/gateway/internal/router"
	"github.com/openclaw/gateway/internal/security"
	"github.com/openclaw/gateway/internal/session"
	"github.com/openclaw/gateway/internal/tokencount"
	"github.com/openclaw/gateway/internal/tracestore"
	"github.com/openclaw/gateway/internal/wshub"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var configPath string
	var hashKey string
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.StringVar(&hashKey, "hash-api-key", "", "Print the bcrypt hash of an API key and exit")
	flag.Parse()

	if hashKey != "" {
		hash, err := security.HashAPIKey(hashKey)
		if err != nil {
			log.Errorf("failed to hash api key: %v", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("config file %s not found, using defaults", configPath)
			cfg = config.DefaultConfig()
		} else {
			log.Errorf("failed to load config: %v", err)
			return
		}
	}

	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	applyLogLevel(cfg)

	log.Infof("OpenClaw gateway Version: %s, Commit: %s, BuiltAt: %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := wshub.NewHub()
	bus := events.NewBus()
	defer bus.Shutdown()

	hookEngine := events.NewHookEngine(cfg.Hooks, hub)
	hookEngine.Attach(bus)
	defer hookEngine.Detach()

	var store tracestore.Store
	if cfg.Tracing.Persist {
		if err := os.MkdirAll(filepath.Dir(cfg.Tracing.StorePath), 0o755); err != nil {
			log.Errorf("failed to create trace store directory: %v", err)
			return
		}
		store, err = tracestore.NewSQLiteStore(cfg.Tracing.StorePath)
		if err != nil {
			log.Errorf("failed to open trace store: %v", err)
			return
		}
		defer func() { _ = store.Close() }()
	}

	sessions := session.NewManager(cfg.Sessions)
	sessions.StartReaper(ctx)

	gw := gateway.New(cfg, gateway.Deps{
		Router:    router.New(cfg),
		Limiter:   ratelimit.New(cfg.RateLimit),
		Cache:     respcache.New(cfg.Cache),
		Gate:      approval.New(cfg.Approval, hub),
		Invoker:   backend.NewInvoker(cfg),
		Estimator: tokencount.NewEstimator("simple"),
		Screen:    security.NewScreen(cfg.Security),
		Sessions:  sessions,
		Recorder:  tracestore.NewRecorder(cfg.Tracing, store),
		Bus:       bus,
	})

	// Hot reload covers the log level only; routing and limits need a restart.
	if watcher, errWatch := config.NewWatcher(configPath, func(next *config.Config) {
		applyLogLevel(next)
	}); errWatch == nil {
		if errStart := watcher.Start(ctx); errStart != nil {
			log.Warnf("config watcher not started: %v", errStart)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           api.NewServer(cfg, gw, hub).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("gateway listening on %s", srv.Addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("server error: %v", errServe)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("server shutdown: %v", err)
	}
}

func applyLogLevel(cfg *config.Config) {
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
