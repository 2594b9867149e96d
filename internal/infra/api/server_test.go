package api_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"license-server/internal/config"
	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
	"license-server/internal/infra/api"
	"license-server/internal/infra/security"
	"license-server/internal/usecase"
)

// Small in-memory repos; behavior is covered by the usecase tests, this
// file cares about the HTTP contract.
type licStore struct {
	mu    sync.RWMutex
	store map[string]*model.License
}

func (s *licStore) Save(ctx context.Context, tx repository.Tx, lic *model.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lic
	s.store[lic.ID] = &cp
	return nil
}

func (s *licStore) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *licStore) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.store {
		if l.LicenseKey == key {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *licStore) FindByKeyForUpdate(ctx context.Context, tx repository.Tx, key string) (*model.License, error) {
	return s.FindByKey(ctx, tx, key)
}

func (s *licStore) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	return s.FindByID(ctx, tx, id)
}

func (s *licStore) TouchValidation(ctx context.Context, tx repository.Tx, id string, at time.Time, heartbeat bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.store[id]
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

func (s *licStore) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.License, error) {
	return nil, nil
}

func (s *licStore) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.LicenseStatus]int, error) {
	return map[model.LicenseStatus]int{}, nil
}

type recStore struct {
	mu   sync.Mutex
	recs []*model.ValidationRecord
}

func (s *recStore) Append(ctx context.Context, tx repository.Tx, rec *model.ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recStore) ListByLicense(ctx context.Context, tx repository.Tx, licenseID string, limit int) ([]*model.ValidationRecord, error) {
	return nil, nil
}

func (s *recStore) CountFailuresSince(ctx context.Context, tx repository.Tx, licenseID string, since time.Time) (int, error) {
	return 0, nil
}

type cliStore struct {
	store map[string]*model.Client
}

func (s *cliStore) Save(ctx context.Context, tx repository.Tx, c *model.Client) error {
	s.store[c.ID] = c
	return nil
}

func (s *cliStore) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Client, error) {
	c, ok := s.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (s *cliStore) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.Client, error) {
	return nil, nil
}

type passTxManager struct{}

func (passTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, struct{}{})
}

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

type fixture struct {
	router http.Handler
	lic    *model.License
	km     *security.KeyManager
}

func newFixture(t *testing.T, status model.LicenseStatus, hardwareID string) *fixture {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		testKey = k
	})
	km, err := security.NewKeyManagerFromKey(testKey)
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	signer := security.NewSigner(km)

	licRepo := &licStore{store: make(map[string]*model.License)}
	recRepo := &recStore{}
	cliRepo := &cliStore{store: make(map[string]*model.Client)}

	cli, _ := model.NewClient("client-1", "Acme Retail", "", "")
	_ = cliRepo.Save(context.Background(), repository.NoTX, cli)

	key, _ := model.GenerateLicenseKey()
	lic, err := model.NewLicense("lic-1", key, cli.ID, model.PlanProfessional, nil, false, "")
	if err != nil {
		t.Fatalf("license: %v", err)
	}
	lic.Status = status
	if hardwareID != "" {
		hw := hardwareID
		lic.HardwareID = &hw
	}
	_ = licRepo.Save(context.Background(), repository.NoTX, lic)

	logger := zerolog.Nop()
	actUC := usecase.NewActivationUseCase(licRepo, recRepo, cliRepo, signer, passTxManager{}, &logger)
	valUC := usecase.NewValidationUseCase(licRepo, recRepo, cliRepo, signer, &logger)

	srv := api.NewServer(actUC, valUC, km, nil, config.RateLimitConfig{Attempts: 30, Window: time.Minute}, &logger)
	return &fixture{router: srv.Router(5 * time.Second), lic: lic, km: km}
}

func (f *fixture) post(t *testing.T, path string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.1.2.3:54321"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestActivateEndpoint(t *testing.T) {
	t.Run("should activate and return a signed license", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusPending, "")

		rec := f.post(t, "/api/v1/activate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
			"hardware_id": "HW-001",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		out := decode(t, rec)
		if out["valid"] != true {
			t.Error("expected valid=true")
		}
		licObj, ok := out["license"].(map[string]interface{})
		if !ok {
			t.Fatalf("missing license object: %v", out)
		}
		if licObj["hardware_id"] != "HW-001" || licObj["signature"] == "" {
			t.Errorf("unexpected signed license: %v", licObj)
		}

		// The returned blob must verify against the advertised public key.
		var payload security.LicensePayload
		raw, _ := json.Marshal(licObj)
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("payload decode: %v", err)
		}
		pub, err := security.ParsePublicKeyPEM(f.km.PublicKeyPEM())
		if err != nil {
			t.Fatalf("parse key: %v", err)
		}
		if err := security.VerifyWithKey(payload, licObj["signature"].(string), pub); err != nil {
			t.Errorf("returned signature does not verify: %v", err)
		}
	})

	t.Run("should map already-activated-elsewhere to 409", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusActive, "HW-001")

		rec := f.post(t, "/api/v1/activate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
			"hardware_id": "HW-002",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		out := decode(t, rec)
		errObj := out["error"].(map[string]interface{})
		if errObj["code"] != "already_activated_elsewhere" {
			t.Errorf("error code = %v", errObj["code"])
		}
	})

	t.Run("should map unknown keys to 404 with a generic message", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusPending, "")

		rec := f.post(t, "/api/v1/activate", map[string]interface{}{
			"license_key": "AAAA-BBBB-CCCC-DDDD",
			"hardware_id": "HW-001",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		out := decode(t, rec)
		errObj := out["error"].(map[string]interface{})
		if errObj["code"] != "not_found" {
			t.Errorf("error code = %v", errObj["code"])
		}
	})

	t.Run("should reject a missing hardware id as a bad request", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusPending, "")

		rec := f.post(t, "/api/v1/activate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestValidateEndpoint(t *testing.T) {
	t.Run("should map hardware mismatch to 409", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusActive, "HW-001")

		rec := f.post(t, "/api/v1/validate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
			"hardware_id": "HW-COPY",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
		out := decode(t, rec)
		errObj := out["error"].(map[string]interface{})
		if errObj["code"] != "hardware_mismatch" {
			t.Errorf("error code = %v", errObj["code"])
		}
	})

	t.Run("should map suspended to 403", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusSuspended, "HW-001")

		rec := f.post(t, "/api/v1/validate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
			"hardware_id": "HW-001",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
		out := decode(t, rec)
		errObj := out["error"].(map[string]interface{})
		if errObj["code"] != "suspended" {
			t.Errorf("error code = %v", errObj["code"])
		}
	})

	t.Run("should validate a heartbeat from the bound machine", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusActive, "HW-001")

		rec := f.post(t, "/api/v1/validate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
			"hardware_id": "HW-001",
			"kind":        "heartbeat",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("should reject an unknown kind value", func(t *testing.T) {
		f := newFixture(t, model.LicenseStatusActive, "HW-001")

		rec := f.post(t, "/api/v1/validate", map[string]interface{}{
			"license_key": f.lic.LicenseKey,
			"hardware_id": "HW-001",
			"kind":        "telemetry",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestPublicKeyEndpoint(t *testing.T) {
	f := newFixture(t, model.LicenseStatusPending, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public-key", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["algorithm"] != "RSA-PSS" || out["hash"] != "SHA-256" {
		t.Errorf("algorithm advertisement wrong: %v", out)
	}
	if _, err := security.ParsePublicKeyPEM(out["public_key"].(string)); err != nil {
		t.Errorf("served public key does not parse: %v", err)
	}
	if out["key_id"] != f.km.KeyID() {
		t.Errorf("key_id = %v, want %s", out["key_id"], f.km.KeyID())
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, model.LicenseStatusPending, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decode(t, rec)
	if out["status"] != "healthy" {
		t.Errorf("health body: %v", out)
	}
}
