package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type SeederHasher interface {
	Hash(password string) (string, error)
}

type SeederRepo interface {
	Create(ctx context.Context, a domain.Account) (domain.Account, error)
}

// SeedAccounts creates one account per role for local development, all
// sharing password. Existing accounts are left alone, so restarts are safe.
// Returns how many accounts were created.
func SeedAccounts(ctx context.Context, repo SeederRepo, hasher SeederHasher, password string, policies domain.Policies, lg zerolog.Logger) int {
	if password == "" {
		return 0
	}

	adminDomain := "gmail.com"
	if p, err := policies.Get(string(domain.RoleAdmin)); err == nil && len(p.AllowedDomains) > len(domain.PublicEmailDomains) {
		adminDomain = p.AllowedDomains[len(p.AllowedDomains)-1]
	}

	seeds := []domain.Account{
		{Role: domain.RoleCustomer, Email: "customer@gmail.com", Name: "Demo Customer"},
		{Role: domain.RoleEmployee, Email: "employee@gmail.com", Name: "Demo Employee", EmployeeID: "EMP-0001"},
		{Role: domain.RoleAdmin, Email: "admin@" + adminDomain, Name: "Demo Admin"},
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		lg.Error().Err(err).Msg("seed: hash failed")
		return 0
	}

	created := 0
	now := time.Now().UTC()
	for _, a := range seeds {
		a.ID = uuid.NewString()
		a.PasswordHash = hash
		a.CreatedAt = now
		a.UpdatedAt = now

		if _, err := repo.Create(ctx, a); err != nil {
			if !domain.Is(err, "account_already_exists") {
				lg.Warn().Err(err).Str("role", string(a.Role)).Msg("seed: create failed")
			}
			continue
		}
		created++
	}

	lg.Info().Int("created", created).Msg("dev accounts seeded")
	return created
}
