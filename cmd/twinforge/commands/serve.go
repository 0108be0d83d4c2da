package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/twinforge/twinforge/pkg/adapters"
	"github.com/twinforge/twinforge/pkg/adapters/fabric"
	"github.com/twinforge/twinforge/pkg/configstore"
	"github.com/twinforge/twinforge/pkg/dispatch"
	"github.com/twinforge/twinforge/pkg/health"
	"github.com/twinforge/twinforge/pkg/pipeline"
	"github.com/twinforge/twinforge/pkg/scenario"
	"github.com/twinforge/twinforge/pkg/server"
	"github.com/twinforge/twinforge/pkg/stores"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var (
		addr         string
		dbPath       string
		scenariosDir string
		dataDir      string
		corsOrigins  []string
		logLevel     string
		logFormat    string
		tracing      bool
		otlpEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning orchestrator server",
		Long: `Start the orchestrator: load scenario manifests, open the run
store, register the Fabric resource adapters and serve the HTTP API.

Azure credentials come from the environment: FABRIC_TENANT_ID,
FABRIC_CLIENT_ID and FABRIC_CLIENT_SECRET select a service principal;
without them the default Azure credential chain is used. Setting
COSMOS_URI (with COSMOS_DATABASE and COSMOS_COLLECTION) enables the
cosmosdb-nosql telemetry connector.`,
		Example: `  # Serve with defaults
  twinforge serve

  # Custom paths and debug logging
  twinforge serve --db /var/lib/twinforge/runs.db --scenarios ./scenarios --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := telemetry.DefaultConfig()
			cfg.Logging.Level = logLevel
			cfg.Logging.Format = logFormat
			cfg.Tracing.Enabled = tracing
			if otlpEndpoint != "" {
				cfg.Tracing.Exporter = "otlp"
				cfg.Tracing.Endpoint = otlpEndpoint
			}
			return runServe(cmd.Context(), serveOptions{
				addr:         addr,
				dbPath:       dbPath,
				scenariosDir: scenariosDir,
				dataDir:      dataDir,
				corsOrigins:  corsOrigins,
				telemetry:    cfg,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "twinforge.db", "run store database path")
	cmd.Flags().StringVar(&scenariosDir, "scenarios", "scenarios", "scenario manifest directory")
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "entity data directory for bulk upload")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", []string{"*"}, "allowed CORS origins")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "enable trace export")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP trace collector endpoint")

	return cmd
}

type serveOptions struct {
	addr         string
	dbPath       string
	scenariosDir string
	dataDir      string
	corsOrigins  []string
	telemetry    *telemetry.Config
}

func runServe(ctx context.Context, opts serveOptions) error {
	tel, err := telemetry.New(ctx, opts.telemetry)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	logger := tel.Logger

	store, err := stores.NewSQLiteStore(stores.Config{Path: opts.dbPath})
	if err != nil {
		return fmt.Errorf("create run store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	if swept, err := store.FailInterruptedRuns(ctx); err != nil {
		return fmt.Errorf("sweep interrupted runs: %w", err)
	} else if swept > 0 {
		logger.Warn("Marked interrupted runs as failed", "count", swept)
	}

	settings := configstore.NewStore(store, 30*time.Second,
		configstore.WithCacheObservers(tel.Metrics.CacheHits.Inc, tel.Metrics.CacheMisses.Inc))

	client, err := fabric.NewClient(fabric.ClientConfig{
		TenantID:     os.Getenv("FABRIC_TENANT_ID"),
		ClientID:     os.Getenv("FABRIC_CLIENT_ID"),
		ClientSecret: os.Getenv("FABRIC_CLIENT_SECRET"),
	}, logger)
	if err != nil {
		return fmt.Errorf("create fabric client: %w", err)
	}

	upload, err := fabric.NewUploadAdapter(os.Getenv("ONELAKE_ENDPOINT"), client.Credential(), opts.dataDir, logger)
	if err != nil {
		return fmt.Errorf("create upload adapter: %w", err)
	}

	registry := adapters.NewRegistry()
	fabric.RegisterAll(registry, client, upload)
	registry.Register(configstore.NewAdapter(settings))

	graph, err := pipeline.NewGraph(pipeline.Catalog())
	if err != nil {
		return fmt.Errorf("build step graph: %w", err)
	}
	guard := pipeline.NewGuard(registry)
	orch := pipeline.NewOrchestrator(graph, guard, store, pipeline.NewProgressBroker(64), tel)

	loader := scenario.NewLoader(opts.scenariosDir, logger)
	if _, err := loader.LoadAll(ctx); err != nil {
		return fmt.Errorf("load scenarios: %w", err)
	}
	if err := loader.Watch(ctx, nil); err != nil {
		logger.Warn("Scenario watching disabled", "error", err.Error())
	}
	defer func() { _ = loader.StopWatching() }()

	checker := health.NewChecker(settings, client, 30*time.Second, logger)

	graphReg := dispatch.NewRegistry(scenario.SourceGraph)
	graphReg.Register(dispatch.NewGraphQLBackend(client, settings))
	telemetryReg := dispatch.NewRegistry(scenario.SourceTelemetry)
	telemetryReg.Register(dispatch.NewKQLBackend(client, settings))
	if uri := os.Getenv("COSMOS_URI"); uri != "" {
		cosmos, err := dispatch.NewCosmosBackend(dispatch.CosmosConfig{
			URI:        uri,
			Database:   os.Getenv("COSMOS_DATABASE"),
			Collection: os.Getenv("COSMOS_COLLECTION"),
		}, logger)
		if err != nil {
			return fmt.Errorf("create cosmos backend: %w", err)
		}
		defer func() { _ = cosmos.Close(context.Background()) }()
		telemetryReg.Register(cosmos)
	}
	dispatcher := dispatch.NewDispatcher(graphReg, telemetryReg, tel)

	srv := server.New(server.Config{
		Addr:           opts.addr,
		AllowedOrigins: opts.corsOrigins,
	}, orch, loader, store, settings, checker, dispatcher, tel)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down")
		return srv.Shutdown(context.Background())
	}
}
