package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/chatdesk-auth/internal/domain"
)

/*
Shared audit capture
*/

type auditEntry struct {
	action string
	fields map[string]string
}

/*
Fakes for ports
*/

type fakeAccountRepo struct {
	mu sync.Mutex

	// role -> email -> account
	byEmail map[domain.Role]map[string]domain.Account

	getErr       error
	createErr    error
	updatePwdErr error

	updatedPwd []struct{ id, hash string }
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{byEmail: map[domain.Role]map[string]domain.Account{}}
}

func (f *fakeAccountRepo) put(a domain.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byEmail[a.Role] == nil {
		f.byEmail[a.Role] = map[string]domain.Account{}
	}
	f.byEmail[a.Role][a.Email] = a
}

func (f *fakeAccountRepo) count(role domain.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byEmail[role])
}

func (f *fakeAccountRepo) GetByEmail(ctx context.Context, role domain.Role, email string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Account{}, f.getErr
	}
	a, ok := f.byEmail[role][email]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound()
	}
	return a, nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, role domain.Role, id string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Account{}, f.getErr
	}
	for _, a := range f.byEmail[role] {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound()
}

func (f *fakeAccountRepo) GetByEmployeeID(ctx context.Context, employeeID string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Account{}, f.getErr
	}
	for _, a := range f.byEmail[domain.RoleEmployee] {
		if a.EmployeeID == employeeID {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound()
}

func (f *fakeAccountRepo) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Account{}, f.createErr
	}
	if _, ok := f.byEmail[a.Role][a.Email]; ok {
		return domain.Account{}, domain.ErrAccountAlreadyExists("email")
	}
	if f.byEmail[a.Role] == nil {
		f.byEmail[a.Role] = map[string]domain.Account{}
	}
	f.byEmail[a.Role][a.Email] = a
	return a, nil
}

func (f *fakeAccountRepo) UpdatePasswordHash(ctx context.Context, role domain.Role, accountID string, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updatePwdErr != nil {
		return f.updatePwdErr
	}
	for email, a := range f.byEmail[role] {
		if a.ID == accountID {
			a.PasswordHash = newHash
			f.byEmail[role][email] = a
			f.updatedPwd = append(f.updatedPwd, struct{ id, hash string }{accountID, newHash})
			return nil
		}
	}
	return domain.ErrAccountNotFound()
}

type fakePendingStore struct {
	mu sync.Mutex

	byEmail map[string]domain.PendingVerification

	replaceErr error
	findErr    error
	deleteErr  error
	missErr    error

	replaces int
	deletes  int
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{byEmail: map[string]domain.PendingVerification{}}
}

func (f *fakePendingStore) Replace(ctx context.Context, p domain.PendingVerification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaces++
	f.byEmail[p.Email] = p
	return nil
}

func (f *fakePendingStore) Find(ctx context.Context, email, otp string) (domain.PendingVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return domain.PendingVerification{}, f.findErr
	}
	p, ok := f.byEmail[email]
	if !ok || p.OTP != otp {
		return domain.PendingVerification{}, domain.ErrPendingNotFound()
	}
	return p, nil
}

func (f *fakePendingStore) Delete(ctx context.Context, email, otp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if p, ok := f.byEmail[email]; ok && p.OTP == otp {
		delete(f.byEmail, email)
		f.deletes++
	}
	return nil
}

func (f *fakePendingStore) RecordMiss(ctx context.Context, email string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missErr != nil {
		return 0, f.missErr
	}
	p, ok := f.byEmail[email]
	if !ok {
		return 0, domain.ErrPendingNotFound()
	}
	p.Attempts++
	f.byEmail[email] = p
	return p.Attempts, nil
}

func (f *fakePendingStore) get(email string) (domain.PendingVerification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byEmail[email]
	return p, ok
}

type fakeGrantStore struct {
	mu     sync.Mutex
	grants map[string]ResetGrant
	ttls   map[string]time.Duration

	saveErr error
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: map[string]ResetGrant{}, ttls: map[string]time.Duration{}}
}

func (f *fakeGrantStore) Save(ctx context.Context, token string, g ResetGrant, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.grants[token] = g
	f.ttls[token] = ttl
	return nil
}

func (f *fakeGrantStore) Consume(ctx context.Context, token string) (ResetGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[token]
	if !ok {
		return ResetGrant{}, domain.ErrResetTokenInvalid()
	}
	delete(f.grants, token)
	return g, nil
}

type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	locks  []string
	err    error
	active int
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (f *fakeLocker) Lock(ctx context.Context, email string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.held[email] {
		return nil, domain.ErrRequestInProgress()
	}
	f.held[email] = true
	f.locks = append(f.locks, email)
	f.active++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, email)
		f.active--
	}, nil
}

// fakeHasher stores "hash:<pw>" so tests can read hashes back.
type fakeHasher struct {
	hashErr error
}

func (h fakeHasher) Hash(pw string) (string, error) {
	if h.hashErr != nil {
		return "", h.hashErr
	}
	return "hash:" + pw, nil
}

func (h fakeHasher) Compare(hash, pw string) error {
	if hash != "hash:"+pw {
		return errors.New("mismatch")
	}
	return nil
}

type fakeCodes struct {
	mu    sync.Mutex
	codes []string
	n     int
	err   error
}

func (f *fakeCodes) NewCode() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.n < len(f.codes) {
		c := f.codes[f.n]
		f.n++
		return c, nil
	}
	f.n++
	return fmt.Sprintf("%06d", 100000+f.n), nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, m Mail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailer) last(t *testing.T) Mail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("expected a mail to be sent")
	}
	return f.sent[len(f.sent)-1]
}

// codeFrom extracts the code from an OTP mail body.
func codeFrom(t *testing.T, m Mail) string {
	t.Helper()
	const prefix = "Your OTP code is: "
	if !strings.HasPrefix(m.Body, prefix) {
		t.Fatalf("unexpected body %q", m.Body)
	}
	return strings.TrimPrefix(m.Body, prefix)
}

type fakeSigner struct {
	err error
}

func (f fakeSigner) SignAccessToken(accountID, role string, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tok:" + role + ":" + accountID, nil
}

func (f fakeSigner) VerifyAccessToken(token string) (TokenClaims, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] != "tok" {
		return TokenClaims{}, domain.ErrTokenInvalid()
	}
	return TokenClaims{Role: parts[1], AccountID: parts[2]}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

/*
Rig
*/

type testRig struct {
	svc      *Service
	accounts *fakeAccountRepo
	pending  *fakePendingStore
	grants   *fakeGrantStore
	locker   *fakeLocker
	codes    *fakeCodes
	mailer   *fakeMailer
	clock    *fakeClock

	auditMu sync.Mutex
	audits  []auditEntry
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	r := &testRig{
		accounts: newFakeAccountRepo(),
		pending:  newFakePendingStore(),
		grants:   newFakeGrantStore(),
		locker:   newFakeLocker(),
		codes:    &fakeCodes{},
		mailer:   &fakeMailer{},
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	r.svc = NewService(r.accounts, r.pending, r.grants, r.locker, fakeHasher{}, r.codes, r.mailer, Config{
		Policies: domain.DefaultPolicies("anurag.edu.in"),
	}).
		WithClock(r.clock.Now).
		WithSigner(fakeSigner{}).
		WithAudit(func(ctx context.Context, action string, fields map[string]string) {
			r.auditMu.Lock()
			defer r.auditMu.Unlock()
			cp := make(map[string]string, len(fields))
			for k, v := range fields {
				cp[k] = v
			}
			r.audits = append(r.audits, auditEntry{action: action, fields: cp})
		})
	return r
}

func (r *testRig) requireAudit(t *testing.T, action string) auditEntry {
	t.Helper()
	r.auditMu.Lock()
	defer r.auditMu.Unlock()
	for i := len(r.audits) - 1; i >= 0; i-- {
		if r.audits[i].action == action {
			return r.audits[i]
		}
	}
	t.Fatalf("expected audit action %q, got %+v", action, r.audits)
	return auditEntry{}
}

// register runs signup + verification and returns the created account.
func (r *testRig) register(t *testing.T, role, email, password string) domain.Account {
	t.Helper()
	ctx := context.Background()
	req := RegistrationRequest{Role: role, Email: email, Name: "Test", Password: password, ConfirmPassword: password}
	if role == string(domain.RoleEmployee) {
		req.EmployeeID = "EMP-" + strings.Split(email, "@")[0]
	}
	if _, err := r.svc.IssueRegistrationOTP(ctx, req); err != nil {
		t.Fatalf("issue: %v", err)
	}
	code := codeFrom(t, r.mailer.last(t))
	res, err := r.svc.VerifyOTP(ctx, "registration", role, email, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return *res.Account
}
