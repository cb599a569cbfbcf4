package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/baechuer/chatdesk-auth/internal/logger"
)

// Open connects through the pgx stdlib driver and pings before returning.
func Open(dsn string, debug bool) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DB DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(60 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if debug {
		var who, dbname, ver string
		_ = db.QueryRowContext(ctx, "SELECT current_user").Scan(&who)
		_ = db.QueryRowContext(ctx, "SELECT current_database()").Scan(&dbname)
		_ = db.QueryRowContext(ctx, "SHOW server_version").Scan(&ver)
		logger.Logger.Debug().Str("user", who).Str("db", dbname).Str("version", ver).Msg("postgres connected")
	}
	return db, nil
}
