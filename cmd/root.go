package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/artemis/internal/config"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/database"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/enum"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/logger"
	"github.com/CodeMonkeyCybersecurity/artemis/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/artemis/pkg/types"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "artemis <target>",
	Short: "Supervised two-stage service enumeration",
	Long: `Artemis - Supervised Service Enumeration Pipeline

Runs the configured primary port scans against a target, parses their XML
reports, and fans out per-service follow-up scans for everything found
listening. Every child process runs under a heartbeat supervisor that kills
and retries commands past their deadline and renders progress gauges while
they run.

Scan behaviour is declarative: port-scans.toml, service-scans.toml, and
universal-patterns.toml in the config directory define what runs, which
output lines count as findings, and which follow-ups are left to a human
in manual_steps.log.

Re-running against the same output directory is cheap: commands whose
output file already exists are skipped, but their existing output is still
parsed for services and patterns.

USAGE:
  artemis 10.10.10.10
  artemis --port-scan-type udp --ports 161 10.10.10.10
  artemis --sudo=false --output ./results scanme.example.com`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			if err := log.Sync(); err != nil {
				if err.Error() != "sync /dev/stdout: invalid argument" && err.Error() != "sync /dev/stderr: invalid argument" {
					fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
				}
			}
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runEnumeration(ctx, args[0])
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func runEnumeration(ctx context.Context, target string) error {
	scans, err := config.LoadScanConfig(cfg.Enum.ConfigDir)
	if err != nil {
		return err
	}

	paths := enum.Paths{
		ScanDir: filepath.Join(cfg.Enum.OutputDir, target, "scans"),
		XMLDir:  filepath.Join(cfg.Enum.OutputDir, target, "scans", "xml"),
		LogsDir: filepath.Join(cfg.Enum.OutputDir, target, "scans", "logs"),
	}
	for _, dir := range []string{
		paths.XMLDir,
		paths.LogsDir,
		filepath.Join(cfg.Enum.OutputDir, target, "exploit"),
		filepath.Join(cfg.Enum.OutputDir, target, "priv"),
		filepath.Join(cfg.Enum.OutputDir, target, "loot"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory %s: %w", dir, err)
		}
	}

	store, err := database.NewStore(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("Failed to close database", "error", err)
		}
	}()

	metrics, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Close(shutdownCtx); err != nil {
			log.Warnw("Failed to shut down telemetry", "error", err)
		}
	}()

	run := &types.Run{
		ID:           uuid.New().String(),
		Target:       target,
		PortScanType: cfg.Enum.PortScanType,
		OutputDir:    cfg.Enum.OutputDir,
		Status:       types.RunStatusRunning,
		StartedAt:    time.Now(),
	}
	if err := store.SaveRun(ctx, run); err != nil {
		log.Warnw("Failed to persist run", "error", err)
	}

	console := enum.NewConsole(os.Stdout)
	control := enum.NewRunControl(cfg.Enum.CommandTimeout)
	limiter := rate.NewLimiter(rate.Limit(cfg.Enum.SpawnsPerSecond), cfg.Enum.SpawnBurst)
	sup := enum.NewSupervisor(log, console, control, metrics, limiter, cfg.Enum.HeartbeatInterval, cfg.Enum.RetryMax)
	recorder := enum.NewPatternRecorder(log, store, metrics, scans.UniversalPatterns, paths.PatternsLog())
	pipeline := enum.NewPipeline(cfg.Enum, scans, log, console, sup, store, metrics, control, recorder, paths, run)

	runErr := pipeline.Run(ctx)

	now := time.Now()
	run.CompletedAt = &now
	run.Status = types.RunStatusCompleted
	if runErr != nil {
		run.Status = types.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	}
	if err := store.UpdateRun(ctx, run); err != nil {
		log.Warnw("Failed to persist run completion", "error", err)
	}

	return runErr
}

func init() {
	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "ARTEMIS_LOG_LEVEL")
	viper.BindEnv("logger.format", "ARTEMIS_LOG_FORMAT")

	// Database configuration (optional, findings persist only when a DSN is set)
	rootCmd.PersistentFlags().String("db-dsn", "", "PostgreSQL connection string (empty disables persistence)")
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "ARTEMIS_DATABASE_DSN", "DATABASE_URL")

	// Telemetry
	rootCmd.PersistentFlags().Bool("telemetry", false, "Enable OTLP telemetry export")
	viper.BindPFlag("telemetry.enabled", rootCmd.PersistentFlags().Lookup("telemetry"))
	viper.BindEnv("telemetry.endpoint", "ARTEMIS_TELEMETRY_ENDPOINT")

	// Enumeration configuration
	rootCmd.Flags().StringP("output", "o", "results", "Output directory root")
	rootCmd.Flags().String("config-dir", "config", "Directory holding the scan TOML documents")
	rootCmd.Flags().String("port-scan-type", "default", "Which port scan profile to run")
	rootCmd.Flags().String("nmap-extra", "-Pn", "Extra arguments passed to every nmap command")
	rootCmd.Flags().String("ports", "80", "Port list substituted into {ports}")
	rootCmd.Flags().Bool("parallel", true, "Run secondary scans concurrently")
	rootCmd.Flags().Bool("sudo", true, "Prefix executed commands with sudo")
	rootCmd.Flags().Duration("command-timeout", 30*time.Minute, "Deadline for each supervised command")
	rootCmd.Flags().Duration("heartbeat", 30*time.Second, "Supervisor heartbeat interval")
	rootCmd.Flags().Int("retries", 2, "Respawn budget for timed out commands")
	viper.BindPFlag("enum.output_dir", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("enum.config_dir", rootCmd.Flags().Lookup("config-dir"))
	viper.BindPFlag("enum.port_scan_type", rootCmd.Flags().Lookup("port-scan-type"))
	viper.BindPFlag("enum.nmap_extra", rootCmd.Flags().Lookup("nmap-extra"))
	viper.BindPFlag("enum.ports", rootCmd.Flags().Lookup("ports"))
	viper.BindPFlag("enum.parallel", rootCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("enum.sudo", rootCmd.Flags().Lookup("sudo"))
	viper.BindPFlag("enum.command_timeout", rootCmd.Flags().Lookup("command-timeout"))
	viper.BindPFlag("enum.heartbeat_interval", rootCmd.Flags().Lookup("heartbeat"))
	viper.BindPFlag("enum.retry_max", rootCmd.Flags().Lookup("retries"))
	viper.BindEnv("enum.output_dir", "ARTEMIS_OUTPUT_DIR")
	viper.BindEnv("enum.config_dir", "ARTEMIS_CONFIG_DIR")
	viper.BindEnv("enum.nmap_extra", "ARTEMIS_NMAP_EXTRA")

	viper.SetDefault("logger.output_paths", []string{"stdout"})
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("database.max_idle_conns", 2)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("telemetry.service_name", "artemis")
	viper.SetDefault("telemetry.exporter_type", "otlp")
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.sample_rate", 1.0)
	viper.SetDefault("enum.spawns_per_second", 5)
	viper.SetDefault("enum.spawn_burst", 10)
}

func initConfig() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARTEMIS")

	cfg = config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
