package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/bootstrap"
	"github.com/sublead/sublead-api/internal/data"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"quota-get": {
			name:        "quota-get",
			description: "Show the quota ledger row for an owner",
			run:         runQuotaGet,
		},
		"quota-reset": {
			name:        "quota-reset",
			description: "Reset an owner's quota consumption for a new period",
			run:         runQuotaReset,
		},
		"reap": {
			name:        "reap",
			description: "Run one reaper pass: fail stale jobs and delete old terminal jobs",
			run:         runReap,
		},
		"session-create": {
			name:        "session-create",
			description: "Mint a session token for a user (development and support use)",
			run:         runSessionCreate,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: sublead-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	for _, c := range commands() {
		if err := writef(os.Stdout, "  %-16s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "maximum time to wait for migrations")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse migrate flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func runQuotaGet(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("quota-get", flag.ContinueOnError)
	ownerID := fs.String("owner", "", "owner ID to inspect (required)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse quota-get flags: %w", err)
	}
	if *ownerID == "" {
		return errors.New("--owner is required")
	}

	return withDatabase(cmdCtx, func(ctx context.Context, quotas *data.QuotaRepo) error {
		rec, err := quotas.Get(ctx, *ownerID)
		if err != nil {
			if errors.Is(err, data.ErrQuotaNotFound) {
				return writef(os.Stdout, "no quota row for owner %s (nothing consumed yet)\n", *ownerID)
			}
			return fmt.Errorf("get quota: %w", err)
		}

		if err := writef(os.Stdout, "owner:        %s\n", rec.OwnerID); err != nil {
			return err
		}
		if err := writef(os.Stdout, "tier:         %s\n", rec.Tier); err != nil {
			return err
		}
		if err := writef(os.Stdout, "used:         %d\n", rec.Used); err != nil {
			return err
		}
		if rec.Limit >= 0 {
			if err := writef(os.Stdout, "limit:        %d\n", rec.Limit); err != nil {
				return err
			}
		} else {
			if err := writeln(os.Stdout, "limit:        unlimited"); err != nil {
				return err
			}
		}
		return writef(os.Stdout, "period_start: %s\n", rec.PeriodStart.Format(time.RFC3339))
	})
}

func runQuotaReset(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("quota-reset", flag.ContinueOnError)
	ownerID := fs.String("owner", "", "owner ID to reset (required)")
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse quota-reset flags: %w", err)
	}
	if *ownerID == "" {
		return errors.New("--owner is required")
	}
	if !*yes {
		return errors.New("quota reset affects billing state; re-run with --yes to confirm")
	}

	return withDatabase(cmdCtx, func(ctx context.Context, quotas *data.QuotaRepo) error {
		if err := quotas.Reset(ctx, *ownerID); err != nil {
			if errors.Is(err, data.ErrQuotaNotFound) {
				return fmt.Errorf("no quota row for owner %s", *ownerID)
			}
			return fmt.Errorf("reset quota: %w", err)
		}
		cmdCtx.Logger.Info("quota reset", "owner_id", *ownerID)
		return nil
	})
}

func runReap(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("reap", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse reap flags: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	jobs := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger})
	reaperCfg := cmdCtx.Config.Reaper

	failed, err := jobs.FailStaleRunning(ctx, reaperCfg.StaleAfter, reaperCfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fail stale running jobs: %w", err)
	}

	var deleted int64
	for {
		n, delErr := jobs.DeleteOldTerminal(ctx, reaperCfg.Retention, reaperCfg.BatchSize)
		if delErr != nil {
			return fmt.Errorf("delete old terminal jobs: %w", delErr)
		}
		deleted += n
		if n == 0 {
			break
		}
	}

	cmdCtx.Logger.Info("reaper pass complete", "stale_failed", failed, "terminal_deleted", deleted)
	return nil
}

// withDatabase runs fn against a connected quota repo and closes the database
// afterwards.
func withDatabase(cmdCtx *commandContext, fn func(context.Context, *data.QuotaRepo) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	quotas := data.NewQuotaRepo(db, data.QuotaRepoConfig{
		TrialLimit: cmdCtx.Config.Quota.TrialLimit,
		Logger:     cmdCtx.Logger,
	})
	return fn(ctx, quotas)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeln(w io.Writer, args ...any) error {
	if _, err := fmt.Fprintln(w, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
