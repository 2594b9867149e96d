package model

import (
	"time"

	"license-server/internal/domain"
)

// ValidationType classifies audit entries.
type ValidationType string

const (
	ValidationTypeActivation ValidationType = "activation"
	ValidationTypeHeartbeat  ValidationType = "heartbeat"
	ValidationTypeCheck      ValidationType = "check"
)

// ValidationRecord is one append-only audit row. Every activation or
// validation attempt that resolves to a known license writes exactly one.
// Rows are never updated or deleted; they are the forensic trail for
// detecting license sharing and key guessing.
type ValidationRecord struct {
	ID           string // ULID, sortable by creation time
	LicenseID    string
	Type         ValidationType
	Success      bool
	ErrorMessage *string // set only when Success is false
	IPAddress    string
	HardwareID   string // the value presented by the caller, not the bound one
	UserAgent    string
	CreatedAt    time.Time
}

// NewValidationRecord builds an audit row. errMsg must be empty for a
// successful attempt and non-empty for a failed one.
func NewValidationRecord(id, licenseID string, typ ValidationType, success bool, errMsg, ip, hardwareID, userAgent string) (*ValidationRecord, error) {
	if id == "" || licenseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if success == (errMsg != "") {
		return nil, domain.ErrInvalidArgument
	}
	r := &ValidationRecord{
		ID:         id,
		LicenseID:  licenseID,
		Type:       typ,
		Success:    success,
		IPAddress:  ip,
		HardwareID: hardwareID,
		UserAgent:  truncate(userAgent, 500),
		CreatedAt:  time.Now().UTC(),
	}
	if errMsg != "" {
		r.ErrorMessage = &errMsg
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
