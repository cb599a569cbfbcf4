package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/baechuer/chatdesk-auth/internal/application/notify"
	"github.com/baechuer/chatdesk-auth/internal/config"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/email"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/messaging/rabbitmq"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/redis"
	"github.com/baechuer/chatdesk-auth/internal/logger"
)

var mailResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatdesk_auth",
		Name:      "mail_worker_results_total",
		Help:      "OTP mails handled by the worker by purpose and outcome.",
	},
	[]string{"purpose", "outcome"},
)

// Runner is a long-lived consumer loop.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}

type WorkerDeps struct {
	LoadConfig func() (*config.Config, error)

	NewRedis func(addr, password string, db int) RedisClient

	NewConsumer func(cfg rabbitmq.Config, h rabbitmq.Handler) Runner
}

func NewMailWorker() (Runner, func(), error) {
	return newMailWorker(defaultWorkerDeps())
}

// NewMailWorkerWithDeps allows injecting dependencies for testing
func NewMailWorkerWithDeps(deps WorkerDeps) (Runner, func(), error) {
	return newMailWorker(deps)
}

func newMailWorker(deps WorkerDeps) (Runner, func(), error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.RabbitURL == "" {
		return nil, nil, errors.New("missing required env var: RABBIT_URL")
	}
	lg := logger.Logger

	var cleanupFns []func()

	// idempotency is best-effort: without redis a redelivery may resend
	var idem notify.IdempotencyStore
	if deps.NewRedis != nil && cfg.RedisAddr != "" {
		c := deps.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.Ping(ctx)
		cancel()

		if err != nil {
			_ = c.Close()
			lg.Warn().Err(err).Msg("redis unavailable; idempotency disabled")
		} else {
			cleanupFns = append(cleanupFns, func() { _ = c.Close() })
			if rc, ok := c.(*redis.Client); ok {
				idem = redis.NewIdempotencyStore(rc)
			}
		}
	}

	var sender notify.Sender
	switch cfg.MailerSender {
	case "fake":
		sender = email.NewFakeSender(cfg.FakeFailMode, lg)
	default:
		sender = email.NewSMTPSender(smtpConfig(cfg), lg)
	}

	svc := notify.NewService(sender, idem, cfg.MailIdempotencyTTL, lg).
		WithResultHook(func(purpose, outcome string) {
			mailResults.WithLabelValues(purpose, outcome).Inc()
		})

	consumer := deps.NewConsumer(rabbitConfig(cfg, "chatdesk-mailer"), svc)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
			defer cancel()
			if err := consumer.Stop(ctx); err != nil {
				lg.Warn().Err(err).Msg("consumer stop timed out")
			}
			runCleanup(cleanupFns)
		})
	}

	return consumer, cleanup, nil
}

func defaultWorkerDeps() WorkerDeps {
	return WorkerDeps{
		LoadConfig: config.Load,
		NewRedis: func(addr, password string, db int) RedisClient {
			return redis.New(addr, password, db)
		},
		NewConsumer: func(cfg rabbitmq.Config, h rabbitmq.Handler) Runner {
			return rabbitmq.NewConsumer(cfg, h, logger.Logger)
		},
	}
}
