package model

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"time"

	"license-server/internal/domain"
)

type LicenseStatus string

const (
	LicenseStatusPending   LicenseStatus = "pending"
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
	LicenseStatusExpired   LicenseStatus = "expired"
)

// License is the durable record of an issued license.
//
// Status holds the *stored* status; "expired" is derived on read via
// EffectiveStatus and is only persisted when an explicit write touches the
// row. Revoked is terminal: no transition out exists, by any path.
type License struct {
	ID         string
	LicenseKey string // XXXX-XXXX-XXXX-XXXX, unique
	ClientID   string

	Plan     LicensePlan
	Features []string
	Limits   PlanLimits

	Status     LicenseStatus
	HardwareID *string // nil until activation; cleared only by admin reset
	IsTrial    bool

	IssuedAt        time.Time
	ActivatedAt     *time.Time
	ExpiresAt       *time.Time // nil means non-expiring
	LastValidatedAt *time.Time
	LastHeartbeatAt *time.Time

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewLicense constructs a pending license with plan-derived limits and
// features. expiresAt may be nil for a non-expiring license.
func NewLicense(id, key, clientID string, plan LicensePlan, expiresAt *time.Time, isTrial bool, notes string) (*License, error) {
	if id == "" || clientID == "" || !plan.IsValid() || !ValidLicenseKey(key) {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &License{
		ID:         id,
		LicenseKey: key,
		ClientID:   clientID,
		Plan:       plan,
		Features:   plan.Features(),
		Limits:     plan.Limits(),
		Status:     LicenseStatusPending,
		IsTrial:    isTrial,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// EffectiveStatus computes the status visible to every read path. A license
// whose expiry has passed reads as expired no matter what the stored status
// says (a pending license past its expiry can never be activated); the row
// is not rewritten here. Revoked stays revoked.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	if l.Status == LicenseStatusRevoked {
		return LicenseStatusRevoked
	}
	if l.ExpiresAt != nil && now.After(*l.ExpiresAt) {
		return LicenseStatusExpired
	}
	return l.Status
}

// DaysUntilExpiry returns the whole days remaining, 0 if already expired
// and a large sentinel for non-expiring licenses (original behavior).
func (l *License) DaysUntilExpiry(now time.Time) int {
	if l.ExpiresAt == nil {
		return 999
	}
	d := int(l.ExpiresAt.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Alphabet for license keys: no I, O, 0 or 1 to avoid transcription errors.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var keyPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{4}(-[A-HJ-NP-Z2-9]{4}){3}$`)

// GenerateLicenseKey returns a fresh XXXX-XXXX-XXXX-XXXX key. Uniqueness is
// enforced by the store; callers retry on collision.
func GenerateLicenseKey() (string, error) {
	segs := make([]string, 4)
	var sb strings.Builder
	for i := range segs {
		sb.Reset()
		for j := 0; j < 4; j++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyAlphabet))))
			if err != nil {
				return "", err
			}
			sb.WriteByte(keyAlphabet[n.Int64()])
		}
		segs[i] = sb.String()
	}
	return strings.Join(segs, "-"), nil
}

// ValidLicenseKey reports whether s matches the canonical key format.
func ValidLicenseKey(s string) bool { return keyPattern.MatchString(s) }

// NormalizeLicenseKey upper-cases and re-hyphenates user input so that keys
// pasted without dashes still resolve.
func NormalizeLicenseKey(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	bare := strings.ReplaceAll(s, "-", "")
	if len(bare) != 16 {
		return s
	}
	return bare[0:4] + "-" + bare[4:8] + "-" + bare[8:12] + "-" + bare[12:16]
}
