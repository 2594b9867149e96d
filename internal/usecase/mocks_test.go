// File: internal/usecase/mocks_test.go
package usecase_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
	"license-server/internal/infra/security"
)

// memLicenseRepo is a small in-memory implementation used by unit tests.
type memLicenseRepo struct {
	mu            sync.RWMutex
	store         map[string]*model.License // by ID
	SaveFunc      func(ctx context.Context, tx repository.Tx, lic *model.License) error
	FindByKeyFunc func(ctx context.Context, tx repository.Tx, key string) (*model.License, error)
}

func newMemLicenseRepo() *memLicenseRepo {
	return &memLicenseRepo{store: make(map[string]*model.License)}
}

func (m *memLicenseRepo) Save(ctx context.Context, tx repository.Tx, lic *model.License) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, lic)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, l := range m.store {
		if id != lic.ID && l.LicenseKey == lic.LicenseKey {
			return domain.ErrAlreadyExists
		}
	}
	cp := *lic
	m.store[lic.ID] = &cp
	return nil
}

func (m *memLicenseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memLicenseRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, tx, key)
	}
	return m.findByKey(key)
}

func (m *memLicenseRepo) findByKey(key string) (*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.store {
		if l.LicenseKey == key {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLicenseRepo) FindByKeyForUpdate(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	if tx == nil {
		return nil, domain.ErrInvalidExecContext
	}
	return m.findByKey(key)
}

func (m *memLicenseRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	if tx == nil {
		return nil, domain.ErrInvalidExecContext
	}
	return m.FindByID(ctx, tx, id)
}

func (m *memLicenseRepo) TouchValidation(ctx context.Context, tx repository.Tx, id string, at time.Time, heartbeat bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	ts := at
	l.LastValidatedAt = &ts
	if heartbeat {
		l.LastHeartbeatAt = &ts
	}
	return nil
}

func (m *memLicenseRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.License
	for _, l := range m.store {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLicenseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.LicenseStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.LicenseStatus]int)
	for _, l := range m.store {
		counts[l.Status]++
	}
	return counts, nil
}

// memRecordRepo captures audit appends in order.
type memRecordRepo struct {
	mu        sync.RWMutex
	recs      []*model.ValidationRecord
	appendErr error
}

func newMemRecordRepo() *memRecordRepo { return &memRecordRepo{} }

func (m *memRecordRepo) Append(ctx context.Context, tx repository.Tx, rec *model.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	cp := *rec
	m.recs = append(m.recs, &cp)
	return nil
}

func (m *memRecordRepo) ListByLicense(ctx context.Context, tx repository.Tx, licenseID string, limit int) ([]*model.ValidationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ValidationRecord
	for i := len(m.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.recs[i].LicenseID == licenseID {
			cp := *m.recs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRecordRepo) CountFailuresSince(ctx context.Context, tx repository.Tx, licenseID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cnt := 0
	for _, r := range m.recs {
		if r.LicenseID == licenseID && !r.Success && r.CreatedAt.After(since) {
			cnt++
		}
	}
	return cnt, nil
}

func (m *memRecordRepo) all(licenseID string) []*model.ValidationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.ValidationRecord
	for _, r := range m.recs {
		if r.LicenseID == licenseID {
			out = append(out, r)
		}
	}
	return out
}

// memClientRepo holds customer rows.
type memClientRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Client
}

func newMemClientRepo() *memClientRepo {
	return &memClientRepo{store: make(map[string]*model.Client)}
}

func (m *memClientRepo) Save(ctx context.Context, tx repository.Tx, c *model.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *memClientRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memClientRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Client
	for _, c := range m.store {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// mockTxManager hands a non-nil sentinel through so repos that demand a
// live transaction still work.
type mockTxManager struct{}

type fakeTx struct{}

func (mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, fakeTx{})
}

// failTxManager refuses to open a transaction.
type failTxManager struct{ err error }

func (m failTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return m.err
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

// newTestSigner builds a signer over a shared RSA key. 2048 bits keeps the
// suite fast; NewKeyManagerFromKey does not enforce the production minimum.
func newTestSigner(t *testing.T) *security.Signer {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate test key: %v", err)
		}
		testKey = k
	})
	km, err := security.NewKeyManagerFromKey(testKey)
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	return security.NewSigner(km)
}

// seedLicense inserts a client and a license in the given stored status.
func seedLicense(t *testing.T, licRepo *memLicenseRepo, cliRepo *memClientRepo, status model.LicenseStatus, hardwareID string, expiresAt *time.Time) *model.License {
	t.Helper()
	ctx := context.Background()

	cli, err := model.NewClient("client-1", "Acme Retail", "ops@acme.example", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := cliRepo.Save(ctx, repository.NoTX, cli); err != nil {
		t.Fatalf("save client: %v", err)
	}

	key, err := model.GenerateLicenseKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	lic, err := model.NewLicense("lic-1", key, cli.ID, model.PlanProfessional, expiresAt, false, "")
	if err != nil {
		t.Fatalf("new license: %v", err)
	}
	lic.Status = status
	if hardwareID != "" {
		hw := hardwareID
		lic.HardwareID = &hw
		now := time.Now().UTC()
		lic.ActivatedAt = &now
	}
	if err := licRepo.Save(ctx, repository.NoTX, lic); err != nil {
		t.Fatalf("save license: %v", err)
	}
	return lic
}
