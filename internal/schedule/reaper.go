package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
)

// ReaperJob deletes expired records from stores that have no native expiry.
type ReaperJob struct {
	name  string
	what  string
	store auth.PendingReaper
	now   func() time.Time
	lg    zerolog.Logger
}

func newReaperJob(name, what string, store auth.PendingReaper, lg zerolog.Logger) *ReaperJob {
	return &ReaperJob{
		name:  name,
		what:  what,
		store: store,
		now:   time.Now,
		lg:    lg.With().Str("component", name).Logger(),
	}
}

func NewPendingReaperJob(store auth.PendingReaper, lg zerolog.Logger) *ReaperJob {
	return newReaperJob("pending_reaper", "pending verifications", store, lg)
}

// NewGrantReaperJob sweeps reset grants that were issued but never used.
func NewGrantReaperJob(store auth.PendingReaper, lg zerolog.Logger) *ReaperJob {
	return newReaperJob("reset_grant_reaper", "reset grants", store, lg)
}

func (j *ReaperJob) Name() string { return j.name }

func (j *ReaperJob) Run(ctx context.Context) error {
	n, err := j.store.PurgeExpired(ctx, j.now())
	if err != nil {
		return err
	}
	if n > 0 {
		j.lg.Info().Int("purged", n).Msg("expired " + j.what + " removed")
	}
	return nil
}
