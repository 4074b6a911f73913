package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/epgviewer/internal/config"
	"github.com/jmylchreest/epgviewer/internal/epg"
	"github.com/jmylchreest/epgviewer/internal/export"
	internalhttp "github.com/jmylchreest/epgviewer/internal/http"
	"github.com/jmylchreest/epgviewer/internal/http/handlers"
	"github.com/jmylchreest/epgviewer/internal/observability"
	"github.com/jmylchreest/epgviewer/internal/prewarm"
	"github.com/jmylchreest/epgviewer/internal/scheduler"
	"github.com/jmylchreest/epgviewer/internal/storage"
	"github.com/jmylchreest/epgviewer/internal/timeshift"
	"github.com/jmylchreest/epgviewer/internal/urlutil"
	"github.com/jmylchreest/epgviewer/internal/version"
	"github.com/jmylchreest/epgviewer/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the epgviewer server",
	Long: `Start the epgviewer HTTP server and API.

The server provides:
- REST API for browsing the merged EPG and managing sources and mappings
- XMLTV export downloads at /epg.xml and /epg.xml.gz
- Health check endpoint and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("data-dir", "", "Data directory for mirrors, caches, and settings")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)

	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)

	// A missing settings file means a fresh data directory; seed the
	// window defaults from the deploy configuration.
	_, statErr := os.Stat(cfg.Storage.SettingsPath())
	freshInstall := os.IsNotExist(statErr)

	settingsStore, err := storage.NewSettingsStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return fmt.Errorf("initializing settings store: %w", err)
	}
	if freshInstall {
		settings := settingsStore.Settings()
		settings.PastDays = cfg.Epg.PastDays
		settings.FutureDays = cfg.Epg.FutureDays
		if err := settingsStore.UpdateSettings(settings); err != nil {
			return fmt.Errorf("seeding settings: %w", err)
		}
	}

	sourceCache, err := storage.NewSourceCache(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing source cache: %w", err)
	}

	// The mirror client stores upstream bytes verbatim; decompression
	// happens at parse time so gzipped feeds stay gzipped on disk.
	mirrorClientCfg := fetchClientConfig(cfg.Fetch, logger)
	mirrorClientCfg.EnableDecompression = false
	mirror, err := storage.NewMirrorStore(cfg.Storage.DataDir, httpclient.New(mirrorClientCfg), logger)
	if err != nil {
		return fmt.Errorf("initializing mirror store: %w", err)
	}
	retentionDays := int(cfg.Mirror.Retention.Duration() / (24 * time.Hour))
	mirror.SetRetention(retentionDays, cfg.Mirror.KeepMax)
	mirror.SetRetryDelay(cfg.Fetch.RetryDelay)

	artifacts, err := storage.NewArtifactCache(cfg.Storage.DataDir, logger)
	if err != nil {
		return fmt.Errorf("initializing artifact cache: %w", err)
	}

	assembler := epg.NewAssembler(mirror, artifacts, logger).
		WithCacheTTL(cfg.Epg.CacheTTL.Duration())

	deps := &handlers.Deps{
		Settings:    settingsStore,
		SourceCache: sourceCache,
		Mirror:      mirror,
		Assembler:   assembler,
		Renderer:    export.NewRenderer(timeshift.New(), artifacts, logger),
		Prewarm:     prewarm.NewScheduler(logger),
		Fetcher:     urlutil.NewResourceFetcher(fetchClientConfig(cfg.Fetch, logger)),
		Logger:      logger,
	}

	server := internalhttp.NewServer(serverConfig(cfg.Server), logger, version.Version)
	handlers.RegisterAll(server.API(), server.Router(), deps, version.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs, err := registerJobs(cfg.Jobs, deps, logger)
	if err != nil {
		return fmt.Errorf("registering jobs: %w", err)
	}
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer jobs.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting epgviewer server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("data_dir", cfg.Storage.DataDir),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// applyFlagOverrides layers explicitly set CLI flags over the loaded
// config. Flags that were not passed keep the config/env values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
}

func serverConfig(sc config.ServerConfig) internalhttp.ServerConfig {
	out := internalhttp.DefaultServerConfig()
	out.Host = sc.Host
	out.Port = sc.Port
	if sc.ReadTimeout > 0 {
		out.ReadTimeout = sc.ReadTimeout
	}
	if sc.WriteTimeout > 0 {
		out.WriteTimeout = sc.WriteTimeout
	}
	if sc.ShutdownTimeout > 0 {
		out.ShutdownTimeout = sc.ShutdownTimeout
	}
	if len(sc.CORSOrigins) > 0 {
		out.CORSOrigins = sc.CORSOrigins
	}
	return out
}

func fetchClientConfig(fc config.FetchConfig, logger *slog.Logger) httpclient.Config {
	out := httpclient.DefaultConfig()
	out.Logger = logger
	if fc.Timeout > 0 {
		out.Timeout = fc.Timeout
	}
	if fc.RetryAttempts > 0 {
		out.RetryAttempts = fc.RetryAttempts
	}
	if fc.RetryDelay > 0 {
		out.RetryDelay = fc.RetryDelay
	}
	if fc.CircuitBreakerThreshold > 0 {
		out.CircuitThreshold = fc.CircuitBreakerThreshold
	}
	if fc.CircuitBreakerTimeout > 0 {
		out.CircuitTimeout = fc.CircuitBreakerTimeout
	}
	return out
}

// registerJobs wires the background jobs. An empty cron expression
// disables the corresponding job.
func registerJobs(jc config.JobsConfig, deps *handlers.Deps, logger *slog.Logger) (*scheduler.Scheduler, error) {
	jobs := scheduler.New(logger)

	err := jobs.Register("mirror-refresh", jc.RefreshCron, func(ctx context.Context) error {
		return refreshMirrors(ctx, deps)
	})
	if err != nil {
		return nil, err
	}

	err = jobs.Register("mirror-prune", jc.PruneCron, func(ctx context.Context) error {
		return deps.Mirror.PruneAll()
	})
	if err != nil {
		return nil, err
	}

	err = jobs.Register("export-prewarm", jc.PrewarmCron, func(ctx context.Context) error {
		return deps.BuildDefaultExport(ctx)
	})
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

// refreshMirrors revalidates every enabled source plus the default EPG
// feed. Individual failures are logged and counted, not fatal: a dead
// upstream must not starve the others.
func refreshMirrors(ctx context.Context, deps *handlers.Deps) error {
	urls := make(map[string]struct{})
	if epgURL := deps.Settings.Settings().EpgURL; epgURL != "" {
		urls[epgURL] = struct{}{}
	}
	for _, src := range deps.Settings.Sources() {
		if src.Enabled {
			urls[src.URL] = struct{}{}
		}
	}

	var failed int
	for u := range urls {
		if _, err := deps.Mirror.Fetch(ctx, u); err != nil {
			failed++
			deps.Logger.Warn("scheduled mirror refresh failed",
				slog.String("url", u),
				slog.String("error", err.Error()),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("refreshing mirrors: %d of %d upstreams failed", failed, len(urls))
	}
	return nil
}
