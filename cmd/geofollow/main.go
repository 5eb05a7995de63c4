package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"geofollow/internal/api"
	"geofollow/pkg/config"
	"geofollow/pkg/db"
	"geofollow/pkg/db/maintenance"
	"geofollow/pkg/logging"
	"geofollow/pkg/markers"
	"geofollow/pkg/model"
	"geofollow/pkg/probe"
	"geofollow/pkg/session"
	"geofollow/pkg/store"
	"geofollow/pkg/tracker"
	"geofollow/pkg/version"
)

const defaultConfigPath = "configs/geofollow.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	trace      = flag.Bool("trace", false, "Log every map page message at DEBUG")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	loadEnv(".env.local", ".env")
	logging.EnableTrace = *trace

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

// loadEnv reads the given dotenv files if present. Earlier files win because
// godotenv never overrides variables that are already set.
func loadEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", f, err)
		}
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("GeoFollow Started", "version", version.Version)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, appCfg.Markers.File); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	tr := tracker.New()
	prov := config.NewProvider(appCfg, st)
	sessionMgr := session.NewManager(prov, st, tr)

	// Startup Probes
	probes := []probe.Probe{
		probe.Database(dbConn, st),
		probe.TileTemplate(appCfg.Map.Tiles),
		probe.TileServer(&http.Client{Timeout: 5 * time.Second}, appCfg.Map.Tiles),
		probe.MarkersFile(appCfg.Markers.File),
	}
	results := probe.Run(ctx, probes)
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	if appCfg.Markers.File != "" && appCfg.Markers.WatchInterval > 0 {
		go watchMarkers(ctx, appCfg, st, sessionMgr)
	}

	// Server
	return runServer(ctx, appCfg, prov, st, tr, sessionMgr)
}

func initDB(appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn, store.WithResolution(appCfg.Markers.H3Resolution)), nil
}

// watchMarkers re-imports the markers file whenever it changes and pushes the
// new catalogue to every session.
func watchMarkers(ctx context.Context, cfg *config.Config, st store.Store, sessions *session.Manager) {
	logger := slog.With("component", "markers_watcher")
	w := markers.NewWatcher(cfg.Markers.File, time.Duration(cfg.Markers.WatchInterval))
	logger.Info("Watching markers file", "path", w.Path(), "interval", time.Duration(cfg.Markers.WatchInterval))

	w.Run(ctx, func(ms []model.Marker) {
		// The mtime gate skips the version imported at startup.
		imported, err := maintenance.ImportMarkers(ctx, st, w.Path(), false)
		if err != nil {
			logger.Error("Markers import failed", "error", err)
			return
		}
		if !imported {
			return
		}
		n := sessions.ReloadMarkers(ctx)
		logger.Info("Markers file reloaded", "markers", len(ms), "sessions", n)
	})
}

func runServer(ctx context.Context, cfg *config.Config, prov *config.UnifiedProvider, st store.Store, tr *tracker.Tracker, sessions *session.Manager) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address,
		api.NewStatsHandler(tr, sessions, st),
		api.NewConfigHandler(prov),
		api.NewSessionHandler(sessions),
		api.NewMarkerHandler(st, sessions),
		api.NewMapSocketHandler(ctx, sessions, time.Duration(cfg.Server.PingInterval)),
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)
	defer sessions.CloseAll()
	return runServerLifecycle(ctx, srv, quit)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
