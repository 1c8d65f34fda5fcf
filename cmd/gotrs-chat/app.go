package main

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-chat/internal/api"
	"github.com/gotrs-io/gotrs-chat/internal/auth"
	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/config"
	"github.com/gotrs-io/gotrs-chat/internal/database"
	"github.com/gotrs-io/gotrs-chat/internal/realtime"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/repository/memory"
	"github.com/gotrs-io/gotrs-chat/internal/services/assignment"
	"github.com/gotrs-io/gotrs-chat/internal/services/priority"
	"github.com/gotrs-io/gotrs-chat/internal/services/queue"
	"github.com/gotrs-io/gotrs-chat/internal/services/recovery"
	"github.com/gotrs-io/gotrs-chat/internal/services/scheduler"
	"github.com/gotrs-io/gotrs-chat/internal/services/support"
	"github.com/gotrs-io/gotrs-chat/internal/services/transfer"
	"github.com/gotrs-io/gotrs-chat/internal/ticketnumber"
)

// app holds every wired component of one process.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	db        *sqlx.DB
	store     *repository.Store
	order     cache.OrderingStore
	hub       *realtime.Hub
	queue     *queue.Manager
	assigner  *assignment.Engine
	support   *support.Service
	jwt       *auth.JWTManager
	gateway   *realtime.Gateway
	recovery  *recovery.Service
	scheduler *scheduler.Service
	closers   []func() error
}

func loadConfig() (*config.Config, error) {
	if err := config.Load(configPathFlag); err != nil {
		return nil, err
	}
	if cfg := config.Get(); cfg != nil {
		return cfg, nil
	}
	return config.Default(), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if path := cfg.Priority.RulesFile; path != "" {
		n, err := priority.SeedFile(ctx, path, a.store.Rules)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Printf("priority: seeded %d rules from %s", n, path)
	}

	a.hub = realtime.NewHub(logger)
	a.queue = queue.NewManager(a.order, a.store.Sessions, queue.OptionsFromConfig(cfg.Queue),
		queue.WithLogger(logger), queue.WithEmitter(a.hub))
	a.assigner = assignment.NewEngine(a.store, a.queue,
		assignment.WithLogger(logger), assignment.WithEmitter(a.hub),
		assignment.WithAdminLoadPenalty(cfg.Assignment.AdminLoadPenalty))
	scorer := priority.NewScorer(a.store.Rules, logger)
	transfers := transfer.NewEngine(a.store, scorer, a.queue, a.assigner,
		transfer.WithLogger(logger), transfer.WithEmitter(a.hub),
		transfer.WithUrgentScoreFloor(cfg.Escalation.UrgentScoreFloor))

	a.support = support.NewService(a.store, support.Deps{
		Issuer:    a.ticketIssuer(),
		Scorer:    scorer,
		Queue:     a.queue,
		Assigner:  a.assigner,
		Transfers: transfers,
	}, support.WithLogger(logger), support.WithEmitter(a.hub), support.WithPresence(a.order, cfg.Presence.OnlineTTL))

	a.jwt = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authn := auth.NewAuthenticator(
		auth.NewStaffTokenProvider(a.jwt, a.store.Staff),
		auth.NewTicketTokenProvider(a.store.Tickets),
		auth.NewLegacyProvider(auth.NewLegacySigner(cfg.Auth.LegacySecret, cfg.Auth.LegacyMaxSkew)),
	)
	a.gateway = realtime.NewGateway(a.hub, authn, a.support, realtime.OptionsFromConfig(cfg),
		realtime.WithLogger(logger), realtime.WithMirror(a.order))

	a.recovery = recovery.NewService(a.order, a.store.Staff, a.queue, logger)

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		logger.Printf("scheduler: unknown timezone %q, using UTC", cfg.App.Timezone)
		loc = time.UTC
	}
	a.scheduler = scheduler.NewService(
		scheduler.WithLogger(logger),
		scheduler.WithQueue(a.queue),
		scheduler.WithStaleCloser(a.support),
		scheduler.WithDrainer(a.assigner),
		scheduler.WithJobs(scheduler.DefaultJobs(scheduler.ScheduleFromConfig(cfg.Maintenance))),
		scheduler.WithLocation(loc),
	)
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	if memoryStoreFlag {
		a.logger.Printf("database: using in-memory durable store")
		a.store = memory.NewStore()
	} else {
		db, err := database.Open(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if a.cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
		}
		a.store = repository.NewSQLStore(database.NewQueryBuilder(db))
	}

	if !a.cfg.Redis.Enabled {
		a.logger.Printf("cache: redis disabled, using process-local ordering store")
		a.order = cache.NewLocalOrderingStore()
		return nil
	}
	client := cache.NewRedisClient(a.cfg.Redis)
	a.closers = append(a.closers, client.Close)
	a.order = cache.NewRedisOrderingStore(client, a.cfg.Redis.KeyPrefix)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.order.Ping(pingCtx); err != nil {
		// the queue manager falls back to the durable store while redis is down
		a.logger.Printf("cache: redis at %s unreachable at startup: %v", a.cfg.Redis.Addr, err)
	}
	return nil
}

// ticketIssuer counts on the ordering store and falls back to the
// database counter table when one is configured.
func (a *app) ticketIssuer() *ticketnumber.Issuer {
	tn := a.cfg.TicketNumber
	var counters ticketnumber.CounterStore = ticketnumber.NewRedisStore(a.order, tn.SystemID)
	if a.db != nil {
		dbStore := ticketnumber.NewDBStore(database.NewQueryBuilder(a.db), tn.SystemID)
		if a.cfg.Redis.Enabled {
			counters = ticketnumber.NewFallbackStore(counters, dbStore)
		} else {
			counters = dbStore
		}
	}
	gen := ticketnumber.NewDate(ticketnumber.Config{SystemID: tn.SystemID, MinCounterSize: tn.MinCounterSize}, ticketnumber.RealClock())
	return ticketnumber.NewIssuer(gen, counters)
}

func (a *app) healthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{{Name: "ordering_store", Check: a.order.Ping}}
	if a.db != nil {
		checks = append(checks, api.HealthCheck{Name: "database", Check: a.db.PingContext})
	}
	return checks
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Printf("shutdown: close failed: %v", err)
		}
	}
}
