// File: internal/usecase/license_admin_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
	"license-server/internal/infra/metrics"
)

// keyGenRetries bounds collision retries on the 32^16 key space.
const keyGenRetries = 5

// failureWindow is the lookback for the per-license failure count the
// admin surface reports.
const failureWindow = 24 * time.Hour

// LicenseAdminUseCase exposes the explicit transitions the admin CRUD
// layer may trigger. It never touches hardware binding or signatures
// except through the audited reset hook.
type LicenseAdminUseCase struct {
	licRepo repository.LicenseRepository
	recRepo repository.ValidationRecordRepository
	cliRepo repository.ClientRepository
	tm      repository.TransactionManager
	log     *zerolog.Logger
}

func NewLicenseAdminUseCase(
	licRepo repository.LicenseRepository,
	recRepo repository.ValidationRecordRepository,
	cliRepo repository.ClientRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *LicenseAdminUseCase {
	return &LicenseAdminUseCase{licRepo: licRepo, recRepo: recRepo, cliRepo: cliRepo, tm: tm, log: logger}
}

// CreateLicense issues a pending license for an existing client. The key is
// generated server-side and never reused; a duplicate insert (astronomically
// rare) is retried with a fresh key.
func (uc *LicenseAdminUseCase) CreateLicense(ctx context.Context, clientID string, plan model.LicensePlan, expiresAt *time.Time, isTrial bool, notes string) (*model.License, error) {
	cli, err := uc.cliRepo.FindByID(ctx, repository.NoTX, clientID)
	if err != nil {
		return nil, err
	}
	if !cli.Active {
		return nil, fmt.Errorf("client %s is inactive: %w", clientID, domain.ErrInvalidArgument)
	}

	for i := 0; i < keyGenRetries; i++ {
		key, err := model.GenerateLicenseKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		lic, err := model.NewLicense(uuid.NewString(), key, clientID, plan, expiresAt, isTrial, notes)
		if err != nil {
			return nil, err
		}
		if err := uc.licRepo.Save(ctx, repository.NoTX, lic); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return nil, err
		}
		return lic, nil
	}
	return nil, fmt.Errorf("license key collision persisted after %d retries", keyGenRetries)
}

// Suspend moves an active license to suspended. Hardware binding is
// untouched; reactivation restores validation on the same machine.
func (uc *LicenseAdminUseCase) Suspend(ctx context.Context, id string) (*model.License, error) {
	return uc.transition(ctx, id, func(lic *model.License, eff model.LicenseStatus) error {
		if eff != model.LicenseStatusActive {
			return fmt.Errorf("cannot suspend a %s license: %w", eff, domain.ErrInvalidArgument)
		}
		lic.Status = model.LicenseStatusSuspended
		return nil
	})
}

// Reactivate reverses a suspension. An expired license cannot be
// reactivated this way: the effective status wins over the stored one.
func (uc *LicenseAdminUseCase) Reactivate(ctx context.Context, id string) (*model.License, error) {
	return uc.transition(ctx, id, func(lic *model.License, eff model.LicenseStatus) error {
		if eff != model.LicenseStatusSuspended {
			return fmt.Errorf("cannot reactivate a %s license: %w", eff, domain.ErrInvalidArgument)
		}
		lic.Status = model.LicenseStatusActive
		return nil
	})
}

// Revoke is the one truly terminal write. No path leads out, including
// admin override; this method is the last status change the row will see.
func (uc *LicenseAdminUseCase) Revoke(ctx context.Context, id string) (*model.License, error) {
	return uc.transition(ctx, id, func(lic *model.License, _ model.LicenseStatus) error {
		lic.Status = model.LicenseStatusRevoked
		return nil
	})
}

// ResetHardware is the explicit admin hook that clears the binding and
// returns the license to pending so it can be activated on a new machine.
// The reset itself is audited as a check record carrying the old binding.
func (uc *LicenseAdminUseCase) ResetHardware(ctx context.Context, id, adminIP string) (*model.License, error) {
	oldHW := ""
	lic, err := uc.transition(ctx, id, func(lic *model.License, _ model.LicenseStatus) error {
		if lic.HardwareID != nil {
			oldHW = *lic.HardwareID
		}
		lic.HardwareID = nil
		lic.ActivatedAt = nil
		lic.Status = model.LicenseStatusPending
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rec, recErr := model.NewValidationRecord(
		ulid.Make().String(), lic.ID, model.ValidationTypeCheck,
		true, "", adminIP, oldHW, "admin/hardware-reset",
	); recErr == nil {
		if err := uc.recRepo.Append(ctx, repository.NoTX, rec); err != nil {
			uc.log.Error().Err(err).
				Str("license_id", lic.ID).
				Str("validation_type", string(model.ValidationTypeCheck)).
				Msg("audit record append failed")
		}
	}
	return lic, nil
}

// transition runs the read-check-apply-save sequence under a row lock so
// it cannot interleave with activation or another admin write. The
// stored-revoked guard inside the lock is what makes revocation terminal.
func (uc *LicenseAdminUseCase) transition(ctx context.Context, id string, apply func(lic *model.License, eff model.LicenseStatus) error) (*model.License, error) {
	var (
		lic    *model.License
		bizErr error
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		l, err := uc.licRepo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if l.Status == model.LicenseStatusRevoked {
			bizErr = domain.ErrLicenseRevoked
			return nil
		}
		if err := apply(l, l.EffectiveStatus(time.Now().UTC())); err != nil {
			bizErr = err
			return nil
		}
		lic = l
		return uc.licRepo.Save(ctx, tx, l)
	})
	if err != nil {
		return nil, err
	}
	if bizErr != nil {
		return nil, bizErr
	}
	return lic, nil
}

func (uc *LicenseAdminUseCase) Get(ctx context.Context, id string) (*model.License, error) {
	return uc.licRepo.FindByID(ctx, repository.NoTX, id)
}

func (uc *LicenseAdminUseCase) List(ctx context.Context, offset, limit int) ([]*model.License, error) {
	return uc.licRepo.List(ctx, repository.NoTX, offset, limit)
}

// ListValidations returns the newest audit rows for one license.
func (uc *LicenseAdminUseCase) ListValidations(ctx context.Context, licenseID string, limit int) ([]*model.ValidationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return uc.recRepo.ListByLicense(ctx, repository.NoTX, licenseID, limit)
}

// CountRecentFailures reports failed attempts against one license in the
// last 24 hours. A spike here is the license-sharing / key-guessing signal
// the audit log exists for.
func (uc *LicenseAdminUseCase) CountRecentFailures(ctx context.Context, licenseID string) (int, error) {
	return uc.recRepo.CountFailuresSince(ctx, repository.NoTX, licenseID, time.Now().UTC().Add(-failureWindow))
}

// RefreshStatusMetrics pushes stored-status counts to the gauges; the admin
// stats endpoint calls it on read.
func (uc *LicenseAdminUseCase) RefreshStatusMetrics(ctx context.Context) (map[model.LicenseStatus]int, error) {
	counts, err := uc.licRepo.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	metrics.SetLicensesTotal(counts)
	return counts, nil
}
