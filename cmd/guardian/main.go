// Package main runs one session guardian tab against a cookie/CSRF-protected
// API. It keeps the session's expiry prediction in step with peer tabs,
// serves a local status server, and reads commands from stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/config"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/filestore"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/guardian"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/handlers"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/metrics"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/middleware"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/redis"
	"github.com/sixcolors/gofiber-react-session-csrf-example/pkg/logger"
)

func main() {
	origin := flag.String("origin", "", "Tab name on the activity channel (random when empty)")
	interactive := flag.Bool("console", true, "Read commands from stdin")
	flag.Parse()

	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(&cfg.Logging)
	log.WithFields(logrus.Fields{
		"api":          cfg.API.BaseURL,
		"sync_backend": cfg.Sync.Backend,
		"server":       cfg.Server.Enabled,
	}).Info("Starting session guardian")

	channel := initializeChannel(cfg, log)
	defer closeChannel(channel, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tab, err := guardian.New(cfg, channel, log, guardian.Options{
		Metrics: metrics.New(registry),
		Origin:  *origin,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to build tab")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tab.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start tab")
	}
	defer func() {
		if closeErr := tab.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Failed to close tab")
		}
	}()

	var server *http.Server
	if cfg.Server.Enabled {
		server = setupServer(cfg, channel, tab, registry, log)
		go startServer(server, log)
	}

	if *interactive {
		go func() {
			runConsole(ctx, tab, os.Stdin, os.Stdout)
			stop()
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down guardian...")

	if server != nil {
		shutdownServer(server, cfg, log)
	}
}

// initializeChannel selects the activity channel. A Redis backend that cannot
// be reached falls back to the in-process hub so the tab still works alone.
func initializeChannel(cfg *config.Config, log *logrus.Logger) redis.Store {
	switch cfg.Sync.Backend {
	case config.SyncFile:
		store, err := filestore.New(cfg.Sync.MarkerFile, log)
		if err != nil {
			log.WithError(err).Warn("Failed to open marker file, falling back to in-memory channel")
			return redis.NewMemoryStore(log)
		}
		log.WithField("path", store.Path()).Info("Sharing activity through marker file")
		return store

	case config.SyncRedis:
		client, err := redis.NewClient(&cfg.Redis, &cfg.Sync, log)
		if err != nil {
			log.WithError(err).Warn("Failed to connect to Redis, falling back to in-memory channel")
			log.Warn("Note: In-memory channel only synchronizes tabs within this process")
			return redis.NewMemoryStore(log)
		}
		log.Info("Successfully connected to Redis activity channel")
		return client

	default:
		return redis.NewMemoryStore(log)
	}
}

func closeChannel(channel redis.Store, log *logrus.Logger) {
	if err := channel.Close(); err != nil {
		log.WithError(err).Error("Failed to close activity channel")
	}
}

func setupServer(
	cfg *config.Config,
	channel redis.Store,
	tab *guardian.Tab,
	registry *prometheus.Registry,
	log *logrus.Logger,
) *http.Server {
	healthHandler := handlers.NewHealthHandler(cfg, channel, registry, log)
	sessionHandler := handlers.NewSessionHandler(tab, log)
	middlewareStack := middleware.NewStack(log)

	router := mux.NewRouter()
	apiV1Router := router.PathPrefix(handlers.RoutePrefix).Subrouter()
	healthHandler.RegisterRoutes(apiV1Router)
	sessionHandler.RegisterRoutes(apiV1Router)

	finalHandler := middlewareStack.Chain(
		router,
		middlewareStack.Recovery,
		middlewareStack.RequestLogger,
		middlewareStack.SecurityHeaders,
	)

	return &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func startServer(server *http.Server, log *logrus.Logger) {
	log.WithField("addr", server.Addr).Info("Starting status server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Status server stopped")
	}
}

func shutdownServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Status server forced to shutdown")
	} else {
		log.Info("Status server exited gracefully")
	}
}
