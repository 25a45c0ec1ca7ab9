package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	authkernel "github.com/Mosleh92/exchange-platform-v3-sub012"
	"github.com/Mosleh92/exchange-platform-v3-sub012/httpapi"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/config"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/logger"
	"github.com/Mosleh92/exchange-platform-v3-sub012/internal/rate"
	"github.com/Mosleh92/exchange-platform-v3-sub012/metrics"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store/memory"
	"github.com/Mosleh92/exchange-platform-v3-sub012/store/postgres"
)

const auditPurgeInterval = time.Hour

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.settings()
			if err != nil {
				return err
			}
			log := newLogger(s)
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, s, log)
		},
	}
}

// backends holds the connections opened for one run.
type backends struct {
	redis redis.UniversalClient
	db    *sql.DB
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackends(ctx context.Context, s *config.Settings, log *zap.Logger) (*backends, error) {
	b := &backends{}
	if s.RedisURL != "" {
		opt, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: REDIS_URL: %v", authkernel.ErrConfigInvalid, err)
		}
		b.redis = redis.NewClient(opt)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			// The revocation store degrades to memory and recovers on its own.
			log.Warn("redis unreachable at startup", logger.Err(err))
		}
	} else {
		log.Warn("REDIS_URL not set; revocation, sessions and rate limits are process-local")
	}
	if s.DatabaseURL != "" {
		db, err := postgres.Open(ctx, s.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.db = db
	} else {
		log.Warn("DATABASE_URL not set; using the in-memory directory")
	}
	return b, nil
}

func buildEngine(s *config.Settings, b *backends, m *metrics.Metrics, log *zap.Logger) (*authkernel.Engine, error) {
	builder := authkernel.New().
		WithConfig(s.Engine).
		WithLogger(log).
		WithObserver(m)
	if b.redis != nil {
		builder = builder.WithRedis(b.redis)
	}
	if b.db != nil {
		builder = builder.
			WithDirectory(postgres.NewDirectory(b.db)).
			WithTwoFactorStore(postgres.NewTwoFactorStore(b.db)).
			WithAuditRepository(postgres.NewAuditRepository(b.db)).
			WithFraudStore(postgres.NewFraudStore(b.db))
	} else {
		builder = builder.WithDirectory(memory.New())
	}
	return builder.Build()
}

func serve(ctx context.Context, s *config.Settings, log *zap.Logger) error {
	b, err := openBackends(ctx, s, log)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New()
	engine, err := buildEngine(s, b, m, log)
	if err != nil {
		return err
	}
	m.Watch(engine)

	api := httpapi.NewServer(httpapi.Options{
		Engine:     engine,
		Limiter:    rate.New(b.redis, rate.Config{OpTimeout: s.Engine.Redis.OpTimeout}, log),
		Metrics:    m,
		TrustProxy: s.TrustProxy,
		Logger:     log,
	})
	srv := &http.Server{
		Addr:              s.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		log.Info("http server listening", zap.String("addr", s.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		purgeAudit(gctx, engine, log)
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		engine.Close()
		return err
	})
	return grp.Wait()
}

// purgeAudit deletes expired audit events until ctx ends.
func purgeAudit(ctx context.Context, engine *authkernel.Engine, log *zap.Logger) {
	t := time.NewTicker(auditPurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := engine.AuditRepository().PurgeExpired(ctx, now)
			if err != nil {
				log.Warn("audit purge failed", logger.Err(err))
				continue
			}
			if n > 0 {
				log.Info("audit events purged", zap.Int64("count", n))
			}
		}
	}
}
