// habitd - the habit reminder daemon
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantumlife/habits/internal/api"
	"github.com/quantumlife/habits/internal/config"
	"github.com/quantumlife/habits/internal/habits"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/notifications"
	"github.com/quantumlife/habits/internal/parser"
	"github.com/quantumlife/habits/internal/progression"
	"github.com/quantumlife/habits/internal/reminders"
	"github.com/quantumlife/habits/internal/rewards"
	"github.com/quantumlife/habits/internal/scheduler"
	"github.com/quantumlife/habits/internal/storage"
	"github.com/quantumlife/habits/internal/telemetry"
	"github.com/quantumlife/habits/internal/templates"
)

var (
	configPath string
	dataDir    string
	port       int
	logLevel   string

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "habitd",
		Short: "Habit reminder daemon",
		Long: `habitd fires habit reminders on their schedules, turns ✅ reactions
into completions, and serves the habit API on HTTP and WebSocket.

Configuration comes from config.yaml in the data directory, overridden by
HABITS_* environment variables and then by flags.`,
		RunE:          runDaemon,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides
func loadConfig() (*config.Config, error) {
	if dataDir != "" {
		os.Setenv(config.EnvPrefix+"DATA_DIR", dataDir)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.SetLevel(level)
	logger := logging.Component("habitd")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Open database
	db, err := storage.Open(storage.Config{
		Path:          cfg.DatabasePath(),
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
		Logger:        logging.Component("storage"),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Domain services
	engine := progression.NewEngine(
		storage.NewProgressStore(db),
		rewards.NewRoller(cfg.Rewards, nil),
		cfg.Progression,
		logging.Component("progression"),
	)
	notifier := notifications.NewService(storage.NewDeliveryStore(db), cfg.Scheduler.DefaultChannel, logging.Component("notifications"))
	reminderSvc := reminders.NewService(
		storage.NewHabitStore(db),
		engine,
		notifier,
		logging.Component("reminders"),
		reminders.WithAnnouncements(cfg.Scheduler.Announce),
	)
	notifier.OnReactionAdded(reminderSvc.HandleReaction)

	sched := scheduler.NewScheduler(scheduler.Config{
		Timezone:    cfg.Scheduler.Timezone,
		FireTimeout: cfg.Scheduler.FireTimeout,
	}, reminderSvc.Fire, logging.Component("scheduler"))

	habitSvc := habits.NewService(
		parser.New(cfg.Parser),
		templates.NewResolver(cfg.Templates),
		db,
		sched,
		habits.Config{
			Timezone:       cfg.Scheduler.Timezone,
			DefaultChannel: cfg.Scheduler.DefaultChannel,
		},
		logging.Component("habits"),
	)

	if cfg.Storage.SeedDefaults {
		seeded, err := habitSvc.Seed(ctx)
		if err != nil {
			return fmt.Errorf("seed habits: %w", err)
		}
		if len(seeded) > 0 {
			logger.WithField("count", len(seeded)).Info("Seeded default habits")
		}
	}
	restored, err := habitSvc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore schedules: %w", err)
	}
	logger.WithField("habits", restored).Info("Schedules restored")

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	server := api.New(api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		AllowOrigins: cfg.Server.AllowOrigins,
		Timezone:     cfg.Scheduler.Timezone,
		DB:           db,
		Habits:       habitSvc,
		Engine:       engine,
		Notifier:     notifier,
		Scheduler:    sched,
		Announcer:    reminderSvc,
		Logger:       logging.Component("api"),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.WithError(err).Warn("API server did not stop cleanly")
	}
	return nil
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show habitd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("habitd %s\n", version)
		},
	}
}

// configCmd prints or writes the effective configuration
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration operations",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path := configPath
			if path == "" {
				path = cfg.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "⚠️  %s already exists\n", path)
				return nil
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(showCmd, initCmd)
	return cmd
}
