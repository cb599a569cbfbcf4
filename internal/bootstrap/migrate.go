package bootstrap

import (
	"context"
	"fmt"

	"github.com/baechuer/chatdesk-auth/internal/config"
	"github.com/baechuer/chatdesk-auth/internal/domain"
	"github.com/baechuer/chatdesk-auth/internal/infrastructure/db/postgres"
	mongostore "github.com/baechuer/chatdesk-auth/internal/infrastructure/mongo"
	"github.com/baechuer/chatdesk-auth/internal/logger"
)

// Migrate prepares the account store selected by cfg: tables for postgres,
// unique and TTL indexes for mongo.
func Migrate(ctx context.Context, cfg *config.Config) error {
	policies := domain.DefaultPolicies(cfg.OrgEmailDomain)
	lg := logger.Logger.With().Str("driver", cfg.StoreDriver).Logger()

	switch cfg.StoreDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DBAddr, cfg.DBDebug)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db, policies); err != nil {
			return err
		}

	case "mongo":
		client, db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()

		if err := mongostore.NewAccountRepo(db, policies).EnsureIndexes(ctx); err != nil {
			return err
		}
		if err := mongostore.NewPendingStore(db).EnsureIndexes(ctx); err != nil {
			return err
		}

	case "memory":
		lg.Info().Msg("nothing to migrate")
		return nil

	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	lg.Info().Msg("migration complete")
	return nil
}
