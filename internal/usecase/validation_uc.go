// File: internal/usecase/validation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"license-server/internal/domain"
	"license-server/internal/domain/model"
	"license-server/internal/domain/ports/repository"
	"license-server/internal/infra/metrics"
	"license-server/internal/infra/security"
)

// ValidationUseCase handles the periodic heartbeat/check calls installed
// clients make after activation. It is read-mostly: the only license write
// is the targeted last-seen timestamp update, which cannot race an admin
// status change; the audit append needs no coordination.
type ValidationUseCase struct {
	licRepo repository.LicenseRepository
	recRepo repository.ValidationRecordRepository
	cliRepo repository.ClientRepository
	signer  *security.Signer
	log     *zerolog.Logger
}

func NewValidationUseCase(
	licRepo repository.LicenseRepository,
	recRepo repository.ValidationRecordRepository,
	cliRepo repository.ClientRepository,
	signer *security.Signer,
	logger *zerolog.Logger,
) *ValidationUseCase {
	return &ValidationUseCase{licRepo: licRepo, recRepo: recRepo, cliRepo: cliRepo, signer: signer, log: logger}
}

// Validate re-checks hardware binding, expiry and status, then re-signs the
// CURRENT state. The hardware comparison here is the core anti-piracy
// check: a key copied to a second machine passes activation's idempotent
// path on the legitimate machine but is rejected on every heartbeat from
// the copy. The server enforces no grace window; clients derive theirs from
// the signed_at timestamp inside the payload.
func (uc *ValidationUseCase) Validate(ctx context.Context, key, hardwareID, clientIP, userAgent string, kind model.ValidationType) (*security.SignedLicense, error) {
	if kind != model.ValidationTypeHeartbeat && kind != model.ValidationTypeCheck {
		kind = model.ValidationTypeCheck
	}
	key = model.NormalizeLicenseKey(key)

	lic, err := uc.licRepo.FindByKey(ctx, repository.NoTX, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Deliberately generic, and no audit row: nothing to attribute
			// it to, and "unknown key" must be indistinguishable from other
			// causes to a key-guessing caller.
			metrics.IncValidation(string(kind), "not_found")
			return nil, domain.ErrLicenseNotFound
		}
		metrics.IncValidation(string(kind), "internal")
		return nil, fmt.Errorf("%w: validate %s: %v", domain.ErrInternal, key, err)
	}

	now := time.Now().UTC()
	if bizErr := uc.check(lic, hardwareID, now); bizErr != nil {
		uc.audit(ctx, lic.ID, kind, false, bizErr.Error(), clientIP, hardwareID, userAgent)
		metrics.IncValidation(string(kind), outcomeLabel(bizErr))
		return nil, bizErr
	}

	// Timestamps only. A full-row write here would carry this stale copy's
	// status back to the store and could undo a revoke committed since the
	// read above.
	if err := uc.licRepo.TouchValidation(ctx, repository.NoTX, lic.ID, now, kind == model.ValidationTypeHeartbeat); err != nil {
		metrics.IncValidation(string(kind), "internal")
		return nil, fmt.Errorf("%w: touch license %s: %v", domain.ErrInternal, key, err)
	}
	lic.LastValidatedAt = &now
	if kind == model.ValidationTypeHeartbeat {
		lic.LastHeartbeatAt = &now
	}

	signed, err := signCurrentState(ctx, uc.cliRepo, uc.signer, lic, now)
	if err != nil {
		metrics.IncValidation(string(kind), "internal")
		return nil, err
	}

	uc.audit(ctx, lic.ID, kind, true, "", clientIP, hardwareID, userAgent)
	metrics.IncValidation(string(kind), "success")
	return signed, nil
}

// check applies the guards in a fixed order: status first (a revoked
// license fails "revoked" even from the right machine), then the
// hardware binding comparison.
func (uc *ValidationUseCase) check(lic *model.License, hardwareID string, now time.Time) error {
	switch lic.EffectiveStatus(now) {
	case model.LicenseStatusRevoked:
		return domain.ErrLicenseRevoked
	case model.LicenseStatusExpired:
		return domain.ErrLicenseExpired
	case model.LicenseStatusSuspended:
		return domain.ErrLicenseSuspended
	case model.LicenseStatusPending:
		return domain.ErrNotYetActivated
	}
	if lic.HardwareID == nil || *lic.HardwareID != hardwareID {
		return domain.ErrHardwareMismatch
	}
	return nil
}

func (uc *ValidationUseCase) audit(ctx context.Context, licenseID string, typ model.ValidationType, success bool, errMsg, ip, hardwareID, userAgent string) {
	rec, err := model.NewValidationRecord(
		ulid.Make().String(), licenseID, typ,
		success, errMsg, ip, hardwareID, userAgent,
	)
	if err != nil {
		return
	}
	// The business outcome already decided the response; a lost audit row
	// must still be visible to operators.
	if err := uc.recRepo.Append(ctx, repository.NoTX, rec); err != nil {
		uc.log.Error().Err(err).
			Str("license_id", licenseID).
			Str("validation_type", string(typ)).
			Msg("audit record append failed")
	}
}
