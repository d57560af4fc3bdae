package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/caststream/caststream/internal/config"
	"github.com/caststream/caststream/internal/database"
	"github.com/caststream/caststream/internal/observability"
	"github.com/caststream/caststream/internal/repository"
	"github.com/caststream/caststream/internal/server"
	"github.com/caststream/caststream/internal/session"
	"github.com/caststream/caststream/internal/startup"
	"github.com/caststream/caststream/internal/version"
)

// orphanMinAge keeps session dirs from a concurrently running instance.
const orphanMinAge = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the caststream daemon",
	Long: `Start the caststream HTTP daemon.

The daemon serves:
- POST /api/sessions to start a transcoding session for a source
- HLS playlist and segments under /hls/{session}/
- session status and the session journal`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", -1, "port to listen on (0 = ephemeral)")
	serveCmd.Flags().String("database", "", "session journal database path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	observability.SetDefault(logger)
	logger.Info("starting caststream",
		slog.String("version", version.Version),
		slog.String("instance_id", uuid.NewString()))

	cleanupBase := cfg.Storage.BaseDir
	if cleanupBase == "" {
		cleanupBase = os.TempDir()
	}
	if removed, err := startup.CleanupOrphanedSessionDirs(logger, cleanupBase, orphanMinAge); err != nil {
		logger.Warn("cleaning orphaned session dirs", slog.Any("error", err))
	} else if removed > 0 {
		logger.Info("cleaned orphaned session dirs", slog.Int("removed", removed))
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := repository.NewSessionRepository(db.DB)
	manager := session.NewManager(cfg, repo, nil, logger)
	defer manager.Shutdown()

	journal := &journalAdapter{repo: repo}
	srv := server.NewServer(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, manager, journal, manager, logger)

	sched := cron.New()
	if _, err := sched.AddFunc("@every 5m", func() {
		if n := manager.Sweep(); n > 0 {
			logger.Info("segment ttl sweep", slog.Int("expired", n))
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Port 0 resolves after bind; poll briefly before advertising URLs.
	for i := 0; i < 100 && srv.Port() == 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	manager.SetPort(srv.Port())
	logger.Info("ready", slog.Int("port", srv.Port()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	return nil
}

// journalAdapter narrows the repository to the server's read-only surface.
type journalAdapter struct {
	repo repository.SessionRepository
}

func (j *journalAdapter) ListRecent(ctx context.Context, limit int) (any, error) {
	records, err := j.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// loadConfig loads configuration and applies explicitly-set CLI flags on
// top, preserving flag > env > file > default precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.Path, _ = cmd.Flags().GetString("database")
	}
	return cfg, nil
}

// newLogger builds the process logger, letting explicitly-set CLI flags
// override the configured level and format.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logCfg := cfg.Logging
	if cmd.Root().PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = cmd.Root().PersistentFlags().GetString("log-level")
	}
	if cmd.Root().PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = cmd.Root().PersistentFlags().GetString("log-format")
	}
	return observability.NewLoggerWithWriter(logCfg, os.Stderr)
}
