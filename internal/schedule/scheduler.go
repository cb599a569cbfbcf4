package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	lg      zerolog.Logger
}

// NewCronScheduler accepts five-field specs and descriptors such as
// "@every 1m".
func NewCronScheduler(lg zerolog.Logger) *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		lg:      lg.With().Str("component", "scheduler").Logger(),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	lg := c.lg.With().Str("job", name).Str("spec", spec).Logger()
	entryID, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		lg.Error().Err(err).Msg("schedule job failed")
		return err
	}
	c.entries[name] = entryID
	lg.Info().Msg("job scheduled")
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		lg := c.lg.With().Str("job", job.Name()).Str("spec", spec).Logger()
		if !running.CompareAndSwap(false, true) {
			lg.Info().Msg("job skipped: still running")
			return
		}
		defer running.Store(false)

		ctx := c.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		lg.Debug().Msg("job started")
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			lg.Error().Err(err).Dur("duration", elapsed).Msg("job finished")
			return
		}
		lg.Debug().Dur("duration", elapsed).Msg("job finished")
	}
}
