// File: internal/usecase/activation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
	"license-server/internal/infra/metrics"
	"license-server/internal/infra/security"
)

// ActivationUseCase performs the one-time binding of a license key to a
// hardware identity.
type ActivationUseCase struct {
	licRepo repository.LicenseRepository
	recRepo repository.ValidationRecordRepository
	cliRepo repository.ClientRepository
	signer  *security.Signer
	tm      repository.TransactionManager
	log     *zerolog.Logger
}

func NewActivationUseCase(
	licRepo repository.LicenseRepository,
	recRepo repository.ValidationRecordRepository,
	cliRepo repository.ClientRepository,
	signer *security.Signer,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *ActivationUseCase {
	return &ActivationUseCase{licRepo: licRepo, recRepo: recRepo, cliRepo: cliRepo, signer: signer, tm: tm, log: logger}
}

// Activate resolves the key and transitions pending -> active, binding the
// supplied hardware id. Retried activations from the SAME hardware succeed
// again (clients retry on network failure without knowing whether the
// first attempt landed); a different hardware id is rejected and never
// re-binds. The read-modify-write runs under a row lock so two concurrent
// activations cannot both win.
//
// Every attempt that resolves a license appends exactly one audit record.
// An unknown key returns the generic ErrLicenseNotFound with no record:
// there is no license row to attribute it to, and a specific error would
// hand an enumeration oracle to key-guessing attackers.
func (uc *ActivationUseCase) Activate(ctx context.Context, key, hardwareID, clientIP, userAgent string) (*security.SignedLicense, error) {
	key = model.NormalizeLicenseKey(key)
	if !model.ValidLicenseKey(key) || hardwareID == "" {
		return nil, domain.ErrLicenseNotFound
	}

	var (
		lic    *model.License
		bizErr error
	)
	now := time.Now().UTC()
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		l, err := uc.licRepo.FindByKeyForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		lic = l

		switch l.EffectiveStatus(now) {
		case model.LicenseStatusRevoked:
			bizErr = domain.ErrLicenseRevoked
		case model.LicenseStatusExpired:
			bizErr = domain.ErrLicenseExpired
		case model.LicenseStatusSuspended:
			bizErr = domain.ErrLicenseSuspended
		case model.LicenseStatusActive:
			if l.HardwareID != nil && *l.HardwareID == hardwareID {
				// Idempotent retry from the bound machine: no mutation,
				// the caller gets a freshly signed payload below.
				return nil
			}
			bizErr = domain.ErrAlreadyActivatedElsewhere
		case model.LicenseStatusPending:
			l.HardwareID = &hardwareID
			l.ActivatedAt = &now
			l.LastValidatedAt = &now
			l.Status = model.LicenseStatusActive
			return uc.licRepo.Save(ctx, tx, l)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncActivation("not_found")
			return nil, domain.ErrLicenseNotFound
		}
		metrics.IncActivation("internal")
		return nil, fmt.Errorf("%w: activate %s: %v", domain.ErrInternal, key, err)
	}

	if bizErr != nil {
		uc.audit(ctx, lic.ID, false, bizErr.Error(), clientIP, hardwareID, userAgent)
		metrics.IncActivation(outcomeLabel(bizErr))
		return nil, bizErr
	}

	signed, err := signCurrentState(ctx, uc.cliRepo, uc.signer, lic, now)
	if err != nil {
		metrics.IncActivation("internal")
		return nil, err
	}

	uc.audit(ctx, lic.ID, true, "", clientIP, hardwareID, userAgent)
	metrics.IncActivation("success")
	return signed, nil
}

func (uc *ActivationUseCase) audit(ctx context.Context, licenseID string, success bool, errMsg, ip, hardwareID, userAgent string) {
	rec, err := model.NewValidationRecord(
		ulid.Make().String(), licenseID, model.ValidationTypeActivation,
		success, errMsg, ip, hardwareID, userAgent,
	)
	if err != nil {
		return
	}
	// The append has no cross-record coordination, but a lost row must
	// still be visible to operators.
	if err := uc.recRepo.Append(ctx, repository.NoTX, rec); err != nil {
		uc.log.Error().Err(err).
			Str("license_id", licenseID).
			Str("validation_type", string(model.ValidationTypeActivation)).
			Msg("audit record append failed")
	}
}

// signCurrentState builds and signs the payload from the CURRENT license
// row (plan, limits, expiry may have changed since activation).
func signCurrentState(ctx context.Context, cliRepo repository.ClientRepository, signer *security.Signer, lic *model.License, now time.Time) (*security.SignedLicense, error) {
	clientName := ""
	if c, err := cliRepo.FindByID(ctx, repository.NoTX, lic.ClientID); err == nil {
		clientName = c.Name
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: resolve client %s: %v", domain.ErrInternal, lic.ClientID, err)
	}

	payload := security.BuildPayload(lic, clientName, signer.KeyID(), now)
	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: sign license %s: %v", domain.ErrInternal, lic.LicenseKey, err)
	}
	return signed, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrLicenseRevoked):
		return "revoked"
	case errors.Is(err, domain.ErrLicenseExpired):
		return "expired"
	case errors.Is(err, domain.ErrLicenseSuspended):
		return "suspended"
	case errors.Is(err, domain.ErrAlreadyActivatedElsewhere):
		return "already_activated"
	case errors.Is(err, domain.ErrHardwareMismatch):
		return "hardware_mismatch"
	case errors.Is(err, domain.ErrNotYetActivated):
		return "not_yet_activated"
	case errors.Is(err, domain.ErrLicenseNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
