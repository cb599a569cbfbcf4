package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/audit"
	"github.com/baechuer/chatdesk-auth/internal/config"
	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/db/postgres"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/email"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/memory"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/messaging/rabbitmq"
	mongostore "github.com/baechuer/chatdesk-auth/internal/infrastructure/mongo"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/redis"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/security"
	"github.com/baechuer/chatdesk-auth/internal/logger"
	"github.com/baechuer/chatdesk-auth/internal/schedule"
	http_handlers "github.com/baechuer/chatdesk-auth/internal/transport/http/handlers"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/middleware"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/response"
	"github.com/baechuer/chatdesk-auth/internal/transport/http/router"
)

/*
========================
 Public entry (prod)
========================
*/

func NewServer() (*http.Server, func(), error) {
	return newServer(defaultDeps())
}

// NewServerWithDeps allows injecting dependencies for testing
func NewServerWithDeps(deps Deps) (*http.Server, func(), error) {
	return newServer(deps)
}

/*
========================
 Dependency injection
========================
*/

type Deps struct {
	LoadConfig func() (*config.Config, error)

	NewDB func(addr string, debug bool) (*sql.DB, error)

	NewRedis func(addr, password string, db int) RedisClient

	NewMongo func(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error)

	NewPublisher func(cfg rabbitmq.Config) (Publisher, error)

	NewRouter func(router.Deps) (http.Handler, error)
}

type RedisClient interface {
	Ping(ctx context.Context) error
	Close() error
}

// Publisher is a mail transport that also owns a broker connection.
type Publisher interface {
	auth.Mailer
	Ping(ctx context.Context) error
	Close() error
}

// stores is what the chosen STORE_DRIVER resolved to.
type stores struct {
	accounts auth.AccountRepo
	pending  auth.PendingStore
	grants   auth.ResetGrantStore
	locker   auth.EmailLocker
	seedRepo SeederRepo

	// reaper and grantReaper are set when the store does not expire
	// records itself.
	reaper      auth.PendingReaper
	grantReaper auth.PendingReaper
}

/*
========================
 Core bootstrap logic
========================
*/

func newServer(deps Deps) (*http.Server, func(), error) {
	// 0) config
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	lg := logger.Logger
	policies := domain.DefaultPolicies(cfg.OrgEmailDomain)

	var cleanupFns []func()
	fail := func(err error) (*http.Server, func(), error) {
		runCleanup(cleanupFns)
		return nil, nil, err
	}

	var checks []http_handlers.Check

	// 1) redis (required by postgres, best-effort otherwise)
	var redisCli *redis.Client
	if deps.NewRedis != nil && cfg.RedisAddr != "" {
		c := deps.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Ping(ctx)
		cancel()

		if err != nil {
			_ = c.Close()
			if cfg.StoreDriver == "postgres" {
				return fail(fmt.Errorf("bootstrap: redis: %w", err))
			}
			lg.Warn().Err(err).Msg("redis unavailable; using in-memory grants, locks and rate limits")
		} else {
			cleanupFns = append(cleanupFns, func() { _ = c.Close() })
			checks = append(checks, http_handlers.Check{Name: "redis", Ping: c.Ping})
			if rc, ok := c.(*redis.Client); ok {
				redisCli = rc
				lg.Info().Msg("redis connected")
			}
		}
	}

	// 2) account + pending stores
	st, storeChecks, closers, err := openStores(deps, cfg, policies, redisCli)
	cleanupFns = append(cleanupFns, closers...)
	if err != nil {
		return fail(err)
	}
	checks = append(checks, storeChecks...)

	// 3) mail transport
	mailer, pub, err := newMailer(deps, cfg)
	if err != nil {
		return fail(err)
	}
	if pub != nil {
		cleanupFns = append(cleanupFns, func() { _ = pub.Close() })
		checks = append(checks, http_handlers.Check{Name: "rabbitmq", Ping: pub.Ping})
	}

	// 4) security
	lg.Info().Str("issuer", cfg.JWTIssuer).Msg("initializing jwt signer")
	hasher := security.NewBcryptHasher(cfg.BcryptCost)
	signer := security.NewJWTSigner(cfg.JWTSecret, cfg.JWTIssuer)

	// seed (dev only)
	if cfg.IsDev() && cfg.SeedPassword != "" {
		SeedAccounts(context.Background(), st.seedRepo, hasher, cfg.SeedPassword, policies, lg)
	}

	// 5) service
	authSvc := auth.NewService(
		st.accounts,
		st.pending,
		st.grants,
		st.locker,
		hasher,
		security.NewNumericCodeGenerator(),
		mailer,
		auth.Config{
			Policies:       policies,
			OTPTTL:         cfg.OTPTTL,
			ResetGrantTTL:  cfg.ResetGrantTTL,
			LockTTL:        cfg.LockTTL,
			AccessTTL:      cfg.AccessTokenTTL,
			MaxOTPAttempts: cfg.OTPMaxAttempts,
		},
	).
		WithSigner(signer).
		WithAudit(audit.New(lg).Record)

	// 6) background jobs
	var jobs []schedule.Job
	if st.reaper != nil {
		jobs = append(jobs, schedule.NewPendingReaperJob(st.reaper, lg))
	}
	if st.grantReaper != nil {
		jobs = append(jobs, schedule.NewGrantReaperJob(st.grantReaper, lg))
	}
	if len(jobs) > 0 {
		sched := schedule.NewCronScheduler(lg)
		for _, job := range jobs {
			if err := sched.AddJob(job, cfg.ReaperSpec); err != nil {
				return fail(fmt.Errorf("bootstrap: %s: %w", job.Name(), err))
			}
		}
		jobsCtx, stopJobs := context.WithCancel(context.Background())
		sched.Start(jobsCtx)
		cleanupFns = append(cleanupFns, func() {
			stopJobs()
			sched.Stop()
		})
	}

	// 7) handlers + middleware
	authH := http_handlers.NewAuthHandler(authSvc)
	healthH := http_handlers.NewHealthHandler(checks...)

	authMW := middleware.Auth(signer, response.WriteError)
	roleMW := middleware.RequirePathRole(response.WriteError)

	// 8) router
	mux, err := deps.NewRouter(router.Deps{
		Health:    healthH,
		Auth:      authH,
		AuthMW:    authMW,
		RoleMW:    roleMW,
		RateLimit: newRateLimit(cfg, redisCli),
		Metrics:   promhttp.Handler(),
	})
	if err != nil {
		return fail(err)
	}

	// 9) server
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() { runCleanup(cleanupFns) })
	}

	return srv, cleanup, nil
}

func openStores(deps Deps, cfg *config.Config, policies domain.Policies, rc *redis.Client) (stores, []http_handlers.Check, []func(), error) {
	var (
		st      stores
		checks  []http_handlers.Check
		closers []func()
	)

	// grants and locks follow redis when it is there
	if rc != nil {
		st.grants = redis.NewResetGrantStore(rc)
		st.locker = redis.NewEmailLocker(rc, cfg.LockWait)
	} else {
		grants := memory.NewResetGrantStore()
		st.grants, st.grantReaper = grants, grants
		st.locker = memory.NewEmailLocker()
	}

	switch cfg.StoreDriver {
	case "postgres":
		if deps.NewDB == nil {
			return st, nil, nil, errors.New("bootstrap: postgres driver selected without a db constructor")
		}
		if rc == nil {
			return st, nil, nil, errors.New("bootstrap: postgres driver requires redis for pending verifications")
		}
		db, err := deps.NewDB(cfg.DBAddr, cfg.DBDebug)
		if err != nil {
			return st, nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		checks = append(checks, http_handlers.Check{Name: "postgres", Ping: db.PingContext})

		if cfg.IsDev() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := postgres.Migrate(ctx, db, policies)
			cancel()
			if err != nil {
				return st, checks, closers, err
			}
		}

		repo := postgres.NewAccountRepo(db, policies)
		st.accounts, st.seedRepo = repo, repo
		st.pending = redis.NewPendingStore(rc)

	case "mongo":
		if deps.NewMongo == nil {
			return st, nil, nil, errors.New("bootstrap: mongo driver selected without a mongo constructor")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, db, err := deps.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return st, nil, nil, err
		}
		closers = append(closers, func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dcancel()
			_ = client.Disconnect(dctx)
		})
		checks = append(checks, http_handlers.Check{Name: "mongo", Ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}})

		repo := mongostore.NewAccountRepo(db, policies)
		pending := mongostore.NewPendingStore(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return st, checks, closers, err
		}
		if err := pending.EnsureIndexes(ctx); err != nil {
			return st, checks, closers, err
		}
		st.accounts, st.seedRepo = repo, repo
		st.pending, st.reaper = pending, pending

	case "memory":
		logger.Logger.Warn().Msg("memory store selected; accounts are lost on restart")
		repo := memory.NewAccountRepo()
		pending := memory.NewPendingStore()
		st.accounts, st.seedRepo = repo, repo
		st.pending, st.reaper = pending, pending

	default:
		return st, nil, nil, fmt.Errorf("bootstrap: unknown store driver %q", cfg.StoreDriver)
	}

	return st, checks, closers, nil
}

// newMailer returns the OTP mail transport. pub is non-nil when the
// transport holds a broker connection that needs closing.
func newMailer(deps Deps, cfg *config.Config) (auth.Mailer, Publisher, error) {
	lg := logger.Logger

	switch cfg.MailTransport {
	case "smtp":
		return email.NewSMTPSender(smtpConfig(cfg), lg), nil, nil

	case "rabbitmq":
		if deps.NewPublisher == nil {
			return nil, nil, errors.New("bootstrap: rabbitmq transport selected without a publisher constructor")
		}
		pub, err := deps.NewPublisher(rabbitConfig(cfg, "chatdesk-auth"))
		if err != nil {
			if cfg.IsDev() {
				lg.Warn().Err(err).Msg("rabbitmq unavailable; logging OTP mail instead")
				return memory.NewLogMailer(lg), nil, nil
			}
			return nil, nil, err
		}
		return pub, pub, nil

	default:
		return memory.NewLogMailer(lg), nil, nil
	}
}

// routeLimit maps a router group to its own budget; unknown groups share the
// issuance budget.
func routeLimit(cfg *config.Config, routeKey string) (int, time.Duration) {
	switch routeKey {
	case "login":
		return cfg.RLLoginLimit, cfg.RLLoginWindow
	case "otp_verify":
		return cfg.RLVerifyLimit, cfg.RLVerifyWindow
	default:
		return cfg.RLIssueLimit, cfg.RLIssueWindow
	}
}

// newRateLimit picks the shared redis window when redis is up and falls back
// to a per-process limiter otherwise.
func newRateLimit(cfg *config.Config, rc *redis.Client) router.RateLimitFunc {
	if !cfg.RLEnabled {
		return nil
	}

	if rc != nil {
		limiter := redis.NewFixedWindowLimiter(rc)
		return func(routeKey string) func(http.Handler) http.Handler {
			limit, window := routeLimit(cfg, routeKey)
			return middleware.RateLimitFixedWindow(
				limiter,
				middleware.FixedWindowConfig{
					RouteKey: routeKey,
					Limit:    limit,
					Window:   window,
				},
				response.WriteError,
			)
		}
	}

	var mu sync.Mutex
	local := map[string]func(http.Handler) http.Handler{}
	return func(routeKey string) func(http.Handler) http.Handler {
		mu.Lock()
		defer mu.Unlock()

		if mw, ok := local[routeKey]; ok {
			return mw
		}
		limit, window := routeLimit(cfg, routeKey)
		mw := httprate.Limit(
			limit,
			window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				response.WriteError(w, r, domain.ErrRateLimited(routeKey))
			}),
		)
		local[routeKey] = mw
		return mw
	}
}

func smtpConfig(cfg *config.Config) email.SMTPConfig {
	return email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.SMTPTimeout,
		Insecure: cfg.SMTPInsecure,
	}
}

func rabbitConfig(cfg *config.Config, tag string) rabbitmq.Config {
	return rabbitmq.Config{
		URL:         cfg.RabbitURL,
		Exchange:    cfg.RabbitExchange,
		Queue:       cfg.RabbitQueue,
		Prefetch:    cfg.RabbitPrefetch,
		Tag:         tag,
		MaxAttempts: cfg.MailMaxAttempts,
		RetryDelay:  cfg.MailRetryDelay,
	}
}

/*
========================
 Default deps (prod)
========================
*/

func defaultDeps() Deps {
	return Deps{
		LoadConfig: config.Load,
		NewDB:      postgres.Open,
		NewRedis: func(addr, password string, db int) RedisClient {
			return redis.New(addr, password, db)
		},
		NewMongo: mongostore.Connect,
		NewPublisher: func(cfg rabbitmq.Config) (Publisher, error) {
			return rabbitmq.NewPublisher(cfg, logger.Logger)
		},
		NewRouter: router.New,
	}
}

/*
========================
 helpers
========================
*/

func runCleanup(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
