package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// AccountRepo stores each role's accounts in its own table (customers,
// employees, admins), named by the role policy's collection.
type AccountRepo struct {
	db     *sql.DB
	tables map[domain.Role]string
}

func NewAccountRepo(db *sql.DB, policies domain.Policies) *AccountRepo {
	tables := make(map[domain.Role]string, len(policies))
	for role, p := range policies {
		tables[role] = p.Collection
	}
	return &AccountRepo{db: db, tables: tables}
}

func (r *AccountRepo) table(role domain.Role) (string, error) {
	t, ok := r.tables[role]
	if !ok || t == "" {
		return "", domain.ErrInvalidRole(string(role))
	}
	return t, nil
}

func (r *AccountRepo) getOne(ctx context.Context, role domain.Role, where string, arg any) (domain.Account, error) {
	t, err := r.table(role)
	if err != nil {
		return domain.Account{}, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 LIMIT 1;`, accountColumns, t, where)

	ar, err := scanAccount(r.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound()
		}
		return domain.Account{}, domain.ErrDBUnavailable(err)
	}
	return ar.toDomain(role), nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, role domain.Role, email string) (domain.Account, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return domain.Account{}, domain.ErrMissingField("email")
	}
	return r.getOne(ctx, role, "email", email)
}

func (r *AccountRepo) GetByID(ctx context.Context, role domain.Role, id string) (domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Account{}, domain.ErrMissingField("id")
	}
	return r.getOne(ctx, role, "id", id)
}

func (r *AccountRepo) GetByEmployeeID(ctx context.Context, employeeID string) (domain.Account, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return domain.Account{}, domain.ErrMissingField("employee_id")
	}
	return r.getOne(ctx, domain.RoleEmployee, "employee_id", employeeID)
}

func (r *AccountRepo) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	t, err := r.table(a.Role)
	if err != nil {
		return domain.Account{}, err
	}
	a.Email = domain.NormalizeEmail(a.Email)
	switch {
	case a.ID == "":
		return domain.Account{}, domain.ErrMissingField("id")
	case a.Email == "":
		return domain.Account{}, domain.ErrMissingField("email")
	case a.PasswordHash == "":
		return domain.Account{}, domain.ErrMissingField("password_hash")
	}

	var empID sql.NullString
	if a.Role == domain.RoleEmployee && a.EmployeeID != "" {
		empID = sql.NullString{String: a.EmployeeID, Valid: true}
	}

	q := fmt.Sprintf(`
INSERT INTO %s (id, email, name, employee_id, password_hash)
VALUES ($1,$2,$3,$4,$5)
RETURNING %s;
`, t, accountColumns)

	ar, err := scanAccount(r.db.QueryRowContext(ctx, q, a.ID, a.Email, a.Name, empID, a.PasswordHash))
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return domain.Account{}, domain.ErrAccountAlreadyExists(field)
		}
		return domain.Account{}, domain.ErrDBUnavailable(err)
	}
	return ar.toDomain(a.Role), nil
}

func (r *AccountRepo) UpdatePasswordHash(ctx context.Context, role domain.Role, accountID string, newHash string) error {
	t, err := r.table(role)
	if err != nil {
		return err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.ErrMissingField("account_id")
	}
	if newHash == "" {
		return domain.ErrMissingField("password_hash")
	}

	q := fmt.Sprintf(`UPDATE %s SET password_hash = $2, updated_at = NOW() WHERE id = $1;`, t)
	res, err := r.db.ExecContext(ctx, q, accountID, newHash)
	if err != nil {
		return domain.ErrDBUnavailable(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrAccountNotFound()
	}
	return nil
}

// uniqueViolation reports a 23505 and which identity column it hit.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		if strings.Contains(pgErr.ConstraintName, "employee_id") {
			return "employee_id", true
		}
		return "email", true
	}
	if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
		return "email", true
	}
	return "", false
}
