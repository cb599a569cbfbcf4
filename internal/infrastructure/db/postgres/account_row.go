package postgres

import (
	"database/sql"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

type accountRow struct {
	ID           string
	Email        string
	Name         string
	EmployeeID   sql.NullString
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const accountColumns = `id, email, name, employee_id, password_hash, created_at, updated_at`

func (ar accountRow) toDomain(role domain.Role) domain.Account {
	return domain.Account{
		ID:           ar.ID,
		Role:         role,
		Email:        ar.Email,
		Name:         ar.Name,
		EmployeeID:   ar.EmployeeID.String,
		PasswordHash: ar.PasswordHash,
		CreatedAt:    ar.CreatedAt,
		UpdatedAt:    ar.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (accountRow, error) {
	var ar accountRow
	err := row.Scan(
		&ar.ID,
		&ar.Email,
		&ar.Name,
		&ar.EmployeeID,
		&ar.PasswordHash,
		&ar.CreatedAt,
		&ar.UpdatedAt,
	)
	return ar, err
}
