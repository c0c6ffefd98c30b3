package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sublead/sublead-api/internal/adapters/redisstore"
	"github.com/sublead/sublead-api/internal/bootstrap"
	"github.com/sublead/sublead-api/internal/domain/auth"
	"github.com/sublead/sublead-api/internal/domain/model"
)

type sessionCreateOptions struct {
	UserID string
	Tier   string
	TTL    time.Duration
}

func parseSessionCreateFlags(args []string) (sessionCreateOptions, error) {
	var opts sessionCreateOptions
	fs := flag.NewFlagSet("session-create", flag.ContinueOnError)
	fs.StringVar(&opts.UserID, "user", "", "user ID the session belongs to (required)")
	fs.StringVar(&opts.Tier, "tier", string(model.TierTrial), "billing tier carried on the session (trial, pro, expired)")
	fs.DurationVar(&opts.TTL, "ttl", 24*time.Hour, "session lifetime")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parse session-create flags: %w", err)
	}

	if opts.UserID == "" {
		return opts, errors.New("--user is required")
	}
	var tier model.Tier
	if err := tier.UnmarshalText([]byte(opts.Tier)); err != nil {
		return opts, err
	}
	opts.Tier = string(tier)
	if opts.TTL <= 0 {
		return opts, errors.New("--ttl must be positive")
	}
	return opts, nil
}

func runSessionCreate(cmdCtx *commandContext, args []string) error {
	opts, err := parseSessionCreateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	now := time.Now().UTC()
	sess := auth.Session{
		ID:        uuid.NewString(),
		UserID:    opts.UserID,
		Tier:      opts.Tier,
		CreatedAt: now,
		ExpiresAt: now.Add(opts.TTL),
	}

	store := redisstore.NewSessionStore(redisClient)
	if saveErr := store.Save(ctx, sess); saveErr != nil {
		return fmt.Errorf("save session: %w", saveErr)
	}

	cmdCtx.Logger.Info("session created",
		"user_id", sess.UserID,
		"tier", sess.Tier,
		"expires_at", sess.ExpiresAt.Format(time.RFC3339),
	)

	// The token goes to stdout alone so scripts can capture it.
	return writef(os.Stdout, "%s\n", sess.ID)
}
