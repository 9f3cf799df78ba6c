package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"guildcourt/auth"
	"guildcourt/bounty"
	"guildcourt/cache"
	"guildcourt/config"
	"guildcourt/db"
	"guildcourt/dispute"
	"guildcourt/escrow"
	"guildcourt/guild"
	"guildcourt/httpapi"
	"guildcourt/kvstore"
	"guildcourt/metrics"
	"guildcourt/milestone"
	"guildcourt/outbox"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired services for one process.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	store      kvstore.Store
	recorder   *metrics.Recorder
	tokens     *auth.Service
	guilds     *guild.Service
	bounties   *bounty.Service
	milestones *milestone.Service
	escrow     *escrow.Service
	disputes   *dispute.Service
	sweeper    *dispute.Sweeper
	nats       *outbox.NATSPublisher
	kafka      *outbox.KafkaPublisher
	redis      *redis.Client
	idem       httpapi.IdempotencyStore
	relay      *outbox.Relay
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, recorder: metrics.New()}

	switch cfg.Store {
	case config.StoreMemory:
		a.store = kvstore.NewMemory()
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("bootstrap database pool: %w", err)
		}
		a.pool = pool
		a.store = kvstore.NewPostgres(pool)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	tokens, err := auth.NewService(cfg.JWTSecret)
	if err != nil {
		a.close()
		return nil, err
	}
	a.tokens = tokens.WithTTL(cfg.TokenTTL)

	// Guild, bounty and project records are written by operators through
	// the seed command, so those services act without a bound caller.
	ledger := escrow.NewLedger()
	members := guild.NewRepository()
	a.guilds = guild.NewService(a.store, nil)
	a.escrow = escrow.NewService(a.store, ledger)
	a.bounties = bounty.NewService(a.store, ledger, members, nil)
	a.milestones = milestone.NewService(a.store, ledger, members, nil).
		WithDisputeLocks(dispute.NewRepository())

	svc, err := dispute.NewService(a.store, dispute.Collaborators{
		Guilds:     members,
		Bounties:   a.bounties.Repository(),
		Milestones: a.milestones.Repository(),
		Funds:      ledger,
		Authorizer: auth.ContextAuthorizer{},
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.disputes = svc.WithMetrics(a.recorder).WithLogger(logger)
	a.sweeper = dispute.NewSweeper(a.disputes, logger).WithObserver(a.recorder)

	var pubs outbox.Fanout
	if cfg.NATSURL != "" {
		nc, err := outbox.ConnectNATS(cfg.NATSURL, cfg.NATSPrefix)
		if err != nil {
			a.close()
			return nil, err
		}
		a.nats = nc
		if err := nc.EnsureStream(ctx); err != nil {
			a.close()
			return nil, err
		}
		pubs = append(pubs, nc)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPrefix)
		if err != nil {
			a.close()
			return nil, err
		}
		a.kafka = kp
		pubs = append(pubs, kp)
	}
	var pub outbox.Publisher
	switch len(pubs) {
	case 0:
		pub = logPublisher{logger: logger}
	case 1:
		pub = pubs[0]
	default:
		pub = pubs
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
		a.idem = cache.NewRedis(client, appName)
	} else {
		a.idem = cache.NewMemory()
	}

	a.relay = outbox.NewRelay(a.store, pub, outbox.RelayOptions{
		Batch:       cfg.RelayBatch,
		MaxAttempts: cfg.RelayMaxAttempts,
		Retention:   cfg.OutboxRetention,
	}, logger).WithObserver(a.recorder)

	return a, nil
}

func (a *app) handler() http.Handler {
	return httpapi.NewRouter(httpapi.NewHandler(a.disputes), httpapi.RouterOptions{
		Authenticator:  a.tokens,
		Metrics:        a.recorder.Handler(),
		Logger:         a.logger,
		Idempotency:    a.idem,
		IdempotencyTTL: a.cfg.IdempotencyTTL,
	})
}

// serve runs the HTTP API, the resolution sweeper and the outbox relay until
// ctx is cancelled or one of them fails.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.sweeper.Run(ctx, a.cfg.SweepInterval)
	})
	g.Go(func() error {
		return a.relay.Run(ctx, a.cfg.RelayInterval)
	})
	return g.Wait()
}

func (a *app) close() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("close kafka writer", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// logPublisher stands in for NATS when no URL is configured, so the outbox
// still drains.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, msg outbox.Message) error {
	p.logger.InfoContext(ctx, "event",
		"topic", msg.Topic,
		"id", msg.ID.String(),
		"seq", msg.Seq,
		"payload", string(msg.Payload),
	)
	return nil
}
