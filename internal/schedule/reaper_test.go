package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/chatdesk-auth/internal/application/auth"
	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/memory"
)

type failingReaper struct{}

func (failingReaper) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, errors.New("store down")
}

func TestPendingReaperJob_PurgesExpired(t *testing.T) {
	store := memory.NewPendingStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Replace(ctx, domain.PendingVerification{Email: "old@gmail.com", OTP: "111111", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, store.Replace(ctx, domain.PendingVerification{Email: "new@gmail.com", OTP: "222222", ExpiresAt: now.Add(time.Minute)}))

	job := NewPendingReaperJob(store, zerolog.Nop())
	job.now = func() time.Time { return now }

	assert.Equal(t, "pending_reaper", job.Name())
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, store.Len())

	_, err := store.Find(ctx, "new@gmail.com", "222222")
	assert.NoError(t, err)
}

func TestPendingReaperJob_PropagatesError(t *testing.T) {
	job := NewPendingReaperJob(failingReaper{}, zerolog.Nop())
	assert.Error(t, job.Run(context.Background()))
}

func TestGrantReaperJob_PurgesUnusedGrants(t *testing.T) {
	store := memory.NewResetGrantStore()
	ctx := context.Background()
	g := auth.ResetGrant{Role: domain.RoleCustomer, AccountID: "c1", Email: "a@gmail.com"}
	require.NoError(t, store.Save(ctx, "stale", g, time.Minute))
	require.NoError(t, store.Save(ctx, "fresh", g, time.Hour))

	job := NewGrantReaperJob(store, zerolog.Nop())
	job.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	assert.Equal(t, "reset_grant_reaper", job.Name())
	require.NoError(t, job.Run(ctx))

	assert.Equal(t, 1, store.Len())
	_, err := store.Consume(ctx, "fresh")
	assert.NoError(t, err)
}
