package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/StricklySoft/authgate/pkg/auth"
	"github.com/StricklySoft/authgate/pkg/clients/minio"
	"github.com/StricklySoft/authgate/pkg/clients/postgres"
	"github.com/StricklySoft/authgate/pkg/clients/redis"
	"github.com/StricklySoft/authgate/pkg/keyset"
	"github.com/StricklySoft/authgate/pkg/lifecycle"
)

// keySetObjectName is the MinIO object holding the shared snapshot.
const keySetObjectName = "keyset/current.json"

// Open connects every configured collaborator and returns the gateway's
// dependencies. Snapshot stores are optional health checks because their
// failures never fail a request; Postgres is required when configured.
// On error, anything already opened is closed.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (_ Deps, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		deps    Deps
		closers []func() error
		tiers   []keyset.Store
	)
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	if cfg.Redis.Enabled() {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return Deps{}, err
		}
		closers = append(closers, rc.Close)
		tiers = append(tiers, keyset.NewRedisStore(rc, rc.Key("keyset"), cfg.Auth.KeySetTTL))
		deps.Checks = append(deps.Checks, lifecycle.Check{Name: "redis", Probe: rc.Health, Optional: true})
		logger.InfoContext(ctx, "redis key set tier enabled")
	}

	if cfg.MinIO.Enabled() {
		mc, err := minio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return Deps{}, err
		}
		closers = append(closers, mc.Close)
		tiers = append(tiers, keyset.NewObjectStore(mc, mc.Bucket(), keySetObjectName))
		deps.Checks = append(deps.Checks, lifecycle.Check{Name: "minio", Probe: mc.Health, Optional: true})
		logger.InfoContext(ctx, "object storage key set tier enabled", "bucket", mc.Bucket())
	}

	if cfg.Postgres.Enabled() {
		pc, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return Deps{}, err
		}
		closers = append(closers, pc.Close)
		deps.DB = pc
		deps.Checks = append(deps.Checks, lifecycle.Check{Name: "postgres", Probe: pc.Health})
		logger.InfoContext(ctx, "database sessions enabled")
	}

	cacheOpts := []keyset.CacheOption{keyset.WithLogger(logger)}
	if len(tiers) > 0 {
		cacheOpts = append(cacheOpts, keyset.WithStore(keyset.NewTieredStore(tiers...)))
	}
	cache := auth.NewKeyCache(cfg.Auth, cacheOpts...)

	authenticator, err := auth.NewAuthenticator(cfg.Auth, cache, auth.WithLogger(logger))
	if err != nil {
		return Deps{}, err
	}

	deps.Validator = authenticator
	deps.Keys = cache
	deps.OnStop = append(deps.OnStop, closeAll(closers))
	return deps, nil
}

// closeAll returns a stop hook closing every collaborator in reverse
// order.
func closeAll(closers []func() error) lifecycle.Hook {
	return func(context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
