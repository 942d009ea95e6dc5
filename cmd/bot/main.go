package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/mucstudio/let-monitor/internal/clock"
	"github.com/mucstudio/let-monitor/internal/config"
	"github.com/mucstudio/let-monitor/internal/database"
	"github.com/mucstudio/let-monitor/internal/dedup"
	"github.com/mucstudio/let-monitor/internal/engine"
	"github.com/mucstudio/let-monitor/internal/forum"
	"github.com/mucstudio/let-monitor/internal/formatter"
	"github.com/mucstudio/let-monitor/internal/notifier"
	"github.com/mucstudio/let-monitor/internal/scheduler"
	"github.com/mucstudio/let-monitor/internal/session"
	"github.com/mucstudio/let-monitor/internal/telegram"
)

func main() {
	app := &cli.Command{
		Name:  "let-monitor",
		Usage: "Relay new LowEndTalk posts of watched users to Telegram",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an optional TOML configuration file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
		},
		Action: runBot,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the monitor and the Telegram bot",
				Action: runBot,
			},
			{
				Name:   "migrate",
				Usage:  "Create or upgrade the database schema",
				Action: runMigrate,
			},
			{
				Name:  "cleanup",
				Usage: "Delete notification history and audit events older than the given age",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "days",
						Usage: "Keep this many days of history",
						Value: 30,
					},
				},
				Action: runCleanup,
			},
			{
				Name:  "audit",
				Usage: "Print the latest audit events",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of events to print",
						Value: 20,
					},
				},
				Action: runAudit,
			},
			{
				Name:  "backup",
				Usage: "Write a consistent copy of the database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "Destination file, must not exist",
						Required: true,
					},
				},
				Action: runBackup,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// setup loads the configuration, the logger and the migrated database
func setup(ctx context.Context, cmd *cli.Command) (*config.Config, *slog.Logger, *database.DB, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("database migrations completed", "path", cfg.DatabasePath)

	return cfg, logger, db, nil
}

func runMigrate(ctx context.Context, cmd *cli.Command) error {
	_, logger, db, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("database is up to date")
	return nil
}

func runCleanup(ctx context.Context, cmd *cli.Command) error {
	days := cmd.Int("days")
	if days < 1 {
		return errors.New("--days must be at least 1")
	}

	_, logger, db, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	before := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := db.Cleanup(ctx, before)
	if err != nil {
		return err
	}

	logger.Info("cleanup completed", "before", before.Format(time.DateTime), "notified_posts", res.NotifiedPosts, "audit_events", res.AuditEvents)
	return nil
}

func runAudit(ctx context.Context, cmd *cli.Command) error {
	_, _, db, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.RecentAudit(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	for _, ev := range events {
		target := "-"
		if ev.TargetID != nil {
			target = fmt.Sprintf("#%d", *ev.TargetID)
		}
		fmt.Printf("%s  %-16s  account=%d  target=%s  %s\n",
			ev.CreatedAt.Local().Format(time.DateTime), ev.Kind, ev.AccountID, target, ev.Message)
	}
	return nil
}

func runBackup(ctx context.Context, cmd *cli.Command) error {
	_, logger, db, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.String("out")
	if err := db.Backup(ctx, out); err != nil {
		return err
	}

	logger.Info("backup written", "path", out)
	return nil
}

func runBot(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, db, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := cfg.RequireToken(); err != nil {
		return err
	}

	logger.Info("starting forum monitor", "forum", cfg.ForumBaseURL)
	if !cfg.HasDefaultAccount() {
		logger.Warn("no default forum account configured, chats must use /account")
	}

	clk := clock.Real()
	tgFormatter := formatter.NewTelegramFormatter(cfg.PostPreviewLength, cfg.Location())

	forumClient, err := forum.NewClient(forum.ClientConfig{
		BaseURL:   cfg.ForumBaseURL,
		RateLimit: cfg.ForumRateLimit,
		RateBurst: cfg.ForumRateBurst,
	}, logger)
	if err != nil {
		return err
	}

	bot, err := telegram.NewBot(telegram.BotDeps{
		Config:    cfg,
		Formatter: tgFormatter,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	sessions := session.NewManager(db, forumClient, clk, session.Config{
		MaxAttempts:    cfg.LoginMaxAttempts,
		RetryDelay:     cfg.LoginRetryDelay,
		RequestTimeout: cfg.RequestTimeout,
		ExpireDays:     cfg.CookiesExpireDays,
	}, logger)

	notify := notifier.New(bot, tgFormatter, notifier.Config{
		AdminChatIDs: cfg.AdminChatIDs,
		AlertOnError: cfg.AlertOnError,
		Attempts:     cfg.NotifyAttempts,
		RetryDelay:   cfg.NotifyRetryDelay,
	}, logger)

	poller := scheduler.NewPoller(
		sessions,
		forum.NewFetcher(forumClient, cfg.RequestTimeout),
		dedup.New(db, logger),
		notify,
		logger,
	)

	monitor := engine.New(engine.Config{
		Scheduler: scheduler.Config{
			MinInterval:   cfg.MinInterval,
			MaxInterval:   cfg.MaxInterval,
			RetryInterval: cfg.RetryInterval,
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrentPolls,
		},
		DefaultInterval: cfg.DefaultInterval,
		DefaultUsername: cfg.ForumUsername,
		DefaultPassword: cfg.ForumPassword,
	}, db, sessions, poller, notify, clk, logger)
	bot.SetController(monitor)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		return err
	}

	if cfg.StatusInterval > 0 {
		go reportStatus(ctx, clk, cfg.StatusInterval, monitor, logger)
	}

	logger.Info("bot is running, press Ctrl+C to stop")
	bot.Start(ctx)

	logger.Info("shutting down, waiting for running polls")
	monitor.Wait()
	logger.Info("bot stopped")
	return nil
}

// reportStatus sends a status report to the admin chats every interval
func reportStatus(ctx context.Context, clk clock.Clock, interval time.Duration, monitor *engine.Engine, logger *slog.Logger) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := monitor.ReportStatus(ctx, nil); err != nil {
				logger.Warn("failed to send status report", "error", err)
			}
		}
	}
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
