package memory

import (
	"context"
	"sync"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

// AccountRepo keeps one account set per role. Emails are unique within a
// role; employee ids are unique among employees.
type AccountRepo struct {
	mu      sync.RWMutex
	byID    map[domain.Role]map[string]domain.Account
	byEmail map[domain.Role]map[string]string // email -> id
	byEmpID map[string]string                 // employee id -> id
}

func NewAccountRepo() *AccountRepo {
	r := &AccountRepo{
		byID:    make(map[domain.Role]map[string]domain.Account),
		byEmail: make(map[domain.Role]map[string]string),
		byEmpID: make(map[string]string),
	}
	for _, role := range domain.AllRoles() {
		r.byID[role] = make(map[string]domain.Account)
		r.byEmail[role] = make(map[string]string)
	}
	return r
}

func (r *AccountRepo) GetByEmail(ctx context.Context, role domain.Role, email string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[role][email]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound()
	}
	return r.byID[role][id], nil
}

func (r *AccountRepo) GetByID(ctx context.Context, role domain.Role, id string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[role][id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound()
	}
	return a, nil
}

func (r *AccountRepo) GetByEmployeeID(ctx context.Context, employeeID string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmpID[employeeID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound()
	}
	return r.byID[domain.RoleEmployee][id], nil
}

func (r *AccountRepo) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ID == "" {
		return domain.Account{}, domain.ErrInternal(nil)
	}
	if _, ok := r.byID[a.Role]; !ok {
		return domain.Account{}, domain.ErrInvalidRole(string(a.Role))
	}
	if _, exists := r.byEmail[a.Role][a.Email]; exists {
		return domain.Account{}, domain.ErrAccountAlreadyExists("email")
	}
	if a.Role == domain.RoleEmployee && a.EmployeeID != "" {
		if _, exists := r.byEmpID[a.EmployeeID]; exists {
			return domain.Account{}, domain.ErrAccountAlreadyExists("employee_id")
		}
		r.byEmpID[a.EmployeeID] = a.ID
	}

	r.byID[a.Role][a.ID] = a
	r.byEmail[a.Role][a.Email] = a.ID
	return a, nil
}

func (r *AccountRepo) UpdatePasswordHash(ctx context.Context, role domain.Role, accountID string, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[role][accountID]
	if !ok {
		return domain.ErrAccountNotFound()
	}
	a.PasswordHash = newHash
	r.byID[role][accountID] = a
	return nil
}
