package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	catalogconfig "github.com/c360studio/semcatalog/config"
	subjectexploder "github.com/c360studio/semcatalog/processor/subject-exploder"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	"github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const (
	catalogStream    = "CATALOG"
	defaultNATSURL   = "nats://localhost:4222"
	exploderName     = "subject-exploder"
	shutdownTimeout  = 30 * time.Second
	metricsReadLimit = 5 * time.Second
)

func runCmd(logLevel *string) *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the subject exploder as a stream processor",
		Long: `Run connects to NATS, ensures the CATALOG stream and starts the
semstreams service manager with the subject-exploder component.

Documents published to catalog.document.index are prepared and
republished to catalog.document.prepared until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, *logLevel, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Service config file path (JSON)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func run(configPath, logLevel, metricsAddr string) error {
	// CLI settings (NATS URL, log level) come from the layered YAML config.
	cliCfg, err := catalogconfig.NewLoader(nil).Load("")
	if err != nil {
		return fmt.Errorf("load semcatalog config: %w", err)
	}

	logger, err := newLogger(logLevel, cliCfg.Log.Level)
	if err != nil {
		return err
	}

	// Load configuration
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, resolveNATSURL(cfg, cliCfg), logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, cfg, natsClient, logger); err != nil {
		return err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	platform := extractPlatformMeta(cfg)

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}
	if err := subjectexploder.Register(componentRegistry); err != nil {
		return fmt.Errorf("register %s: %w", exploderName, err)
	}
	logger.Info("Component factories registered", "count", len(componentRegistry.ListFactories()))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	ensureServiceManagerConfig(cfg)

	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	if err := configureAndCreateServices(cfg, manager, svcDeps, logger); err != nil {
		return err
	}

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if metricsAddr != "" {
		srv := startMetricsServer(metricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	logger.Info("Semcatalog ready", "version", Version, "stream", catalogStream)

	// Block until shutdown signal
	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		logger.Error("Error stopping services", "error", err)
	}

	logger.Info("Semcatalog shutdown complete")
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return loadConfigWithEnvSubstitution(configPath)
	}
	return buildDefaultConfig()
}

// loadConfigWithEnvSubstitution reads a config file and expands environment
// variables before parsing. Supports ${VAR} and ${VAR:-default} syntax.
func loadConfigWithEnvSubstitution(configPath string) (*config.Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := config.ExpandEnvWithDefaults(string(data))

	loader := config.NewLoader()
	return loader.LoadFromBytes([]byte(expanded))
}

func buildDefaultConfig() (*config.Config, error) {
	exploderJSON, err := json.Marshal(map[string]any{
		"consumer_name":  exploderName,
		"invalid_policy": "reject",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s config: %w", exploderName, err)
	}

	return &config.Config{
		Version: "1.0.0",
		Platform: config.PlatformConfig{
			Org:         "semcatalog",
			ID:          "semcatalog-local",
			Environment: "dev",
		},
		NATS: config.NATSConfig{
			URLs:          []string{defaultNATSURL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: config.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{},
		Components: config.ComponentConfigs{
			exploderName: types.ComponentConfig{
				Name:    exploderName,
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  exploderJSON,
			},
		},
		Streams: config.StreamConfigs{
			catalogStream: config.StreamConfig{
				Subjects: []string{
					"catalog.document.>",
				},
				MaxAge:   "168h",
				Storage:  "file",
				Replicas: 1,
			},
		},
	}, nil
}

// resolveNATSURL picks the NATS URL: environment, then service config,
// then the semcatalog YAML config.
func resolveNATSURL(cfg *config.Config, cliCfg *catalogconfig.Config) string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}
	if envURL := os.Getenv("SEMCATALOG_NATS_URL"); envURL != "" {
		return envURL
	}
	if cfg != nil && len(cfg.NATS.URLs) > 0 && !isDefaultURLs(cfg.NATS.URLs) {
		return strings.Join(cfg.NATS.URLs, ",")
	}
	if cliCfg != nil && cliCfg.NATS.URL != "" {
		return cliCfg.NATS.URL
	}
	return defaultNATSURL
}

func isDefaultURLs(urls []string) bool {
	return len(urls) == 1 && urls[0] == defaultNATSURL
}

func connectToNATS(ctx context.Context, natsURLs string, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", natsURLs)

	client, err := natsclient.NewClient(natsURLs,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	logger.Info("Connected to NATS", "url", natsURLs)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start a JetStream-enabled server (nats-server -js) or set NATS_URL
to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := config.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

func extractPlatformMeta(cfg *config.Config) types.PlatformMeta {
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	return types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *config.Config) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; exists {
		return
	}

	defaultConfig := map[string]any{
		"http_port":  8080,
		"swagger_ui": false,
		"server_info": map[string]string{
			"title":       "Semcatalog API",
			"description": "catalog document preparation",
			"version":     Version,
		},
	}
	defaultConfigJSON, _ := json.Marshal(defaultConfig)
	cfg.Services["service-manager"] = types.ServiceConfig{
		Name:    "service-manager",
		Enabled: true,
		Config:  defaultConfigJSON,
	}
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *config.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
	logger *slog.Logger,
) error {
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			continue
		}

		if !svcConfig.Enabled {
			logger.Info("Service disabled in config", "name", name)
			continue
		}

		if !manager.HasConstructor(name) {
			logger.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
			continue
		}

		if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
			return fmt.Errorf("create service %s: %w", name, err)
		}
		logger.Info("Created service", "name", name)
	}

	return nil
}

// startMetricsServer serves the default Prometheus registry, which the
// subject-exploder component registers its collectors with.
func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadLimit,
	}

	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return srv
}
