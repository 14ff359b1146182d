package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/provisioner"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - warm project pools for the PaaS",
	Long: `Burrow keeps pools of pre-provisioned, unowned projects topped up so
new users get a running project without waiting for a cold start.

A cluster of managers agrees on pool state through Raft; the leader runs the
reconciliation loop and relays project events to downstream listeners.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("manager", "localhost:8080", "Manager API address")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(statusCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a burrow manager",
	Long: `Run a burrow manager node.

Without --join the node bootstraps a new single-node cluster, or resumes the
cluster found in its data directory. With --join it asks an existing leader
to add it as a voter.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	serverCmd.Flags().String("node-id", "", "Unique node ID")
	serverCmd.Flags().String("bind-addr", "", "Address for Raft communication")
	serverCmd.Flags().String("api-addr", "", "Address for the HTTP API")
	serverCmd.Flags().String("health-addr", "", "Address for the gRPC health service")
	serverCmd.Flags().String("data-dir", "", "Data directory for cluster state")
	serverCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	serverCmd.Flags().String("join", "", "HTTP API address of the leader to join")
	serverCmd.Flags().String("token", "", "Join token from the leader")
}

// loadServerConfig reads the config file and applies flag overrides
func loadServerConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]*string{
		"node-id":     &cfg.NodeID,
		"bind-addr":   &cfg.BindAddr,
		"api-addr":    &cfg.APIAddr,
		"health-addr": &cfg.HealthAddr,
		"data-dir":    &cfg.DataDir,
		"log-level":   &cfg.Log.Level,
	}
	for name, field := range overrides {
		if cmd.Flags().Changed(name) {
			*field, _ = cmd.Flags().GetString(name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}
	joinAddr, _ := cmd.Flags().GetString("join")
	token, _ := cmd.Flags().GetString("token")
	if joinAddr != "" && token == "" {
		return fmt.Errorf("--token is required with --join")
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	logger := log.WithNodeID(cfg.NodeID)

	logger.Info().
		Str("bind_addr", cfg.BindAddr).
		Str("api_addr", cfg.APIAddr).
		Str("health_addr", cfg.HealthAddr).
		Str("data_dir", cfg.DataDir).
		Msg("Starting burrow manager")

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   cfg.NodeID,
		BindAddr: cfg.BindAddr,
		DataDir:  cfg.DataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	if joinAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = mgr.Join(ctx, joinAddr, token)
		cancel()
	} else {
		err = mgr.Bootstrap()
	}
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}

	broker := mgr.GetEventBroker()
	go events.LogEvents(broker.Subscribe())

	relay := events.NewRelay(mgr, broker, events.RelayConfig{
		Interval:  cfg.Events.PollInterval,
		BatchSize: cfg.Events.BatchSize,
		IsLeader:  mgr.IsLeader,
	})
	relay.Start()

	factory := provisioner.NewFactory(mgr, cfg.ProvisionerVariants()...)
	recon := reconciler.NewReconciler(mgr, factory, reconciler.Config{
		Interval:                cfg.Reconciler.Interval,
		LeaseTTL:                cfg.Reconciler.LeaseTTL,
		MaxConcurrentProvisions: cfg.Reconciler.MaxConcurrentProvisions,
		NodeID:                  cfg.NodeID,
		IsLeader:                mgr.IsLeader,
		Publisher:               broker,
	})
	go recon.TriggerOn(broker.Subscribe())
	recon.Start()

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()

	apiServer := api.NewServer(mgr, recon)
	apiServer.SetRateLimit(api.RateLimit{
		RequestsPerSecond: cfg.API.RateLimit,
		Burst:             cfg.API.RateBurst,
	})
	healthService := api.NewHealthService()

	errCh := make(chan error, 2)
	go func() {
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	go func() {
		if err := healthService.Start(cfg.HealthAddr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()
	healthService.SetServing(true)

	logger.Info().Msg("Manager is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after server error")
	}

	// Stop producers before the store closes
	healthService.SetServing(false)
	recon.Stop()
	relay.Stop()
	collector.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown")
	}
	healthService.Stop()

	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}
