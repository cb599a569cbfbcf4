package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

const accountTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id            UUID PRIMARY KEY,
    email         TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    employee_id   TEXT,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT %[1]s_email_key UNIQUE (email),
    CONSTRAINT %[1]s_employee_id_key UNIQUE (employee_id)
);
`

// Statements returns the DDL for every role table in a stable order.
func Statements(policies domain.Policies) []string {
	tables := make([]string, 0, len(policies))
	for _, p := range policies {
		tables = append(tables, p.Collection)
	}
	sort.Strings(tables)

	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		stmts = append(stmts, fmt.Sprintf(accountTableDDL, t))
	}
	return stmts
}

// Migrate creates missing role tables inside one transaction.
func Migrate(ctx context.Context, db *sql.DB, policies domain.Policies) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	for _, stmt := range Statements(policies) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return domain.ErrDBUnavailable(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrDBUnavailable(err)
	}
	return nil
}
