// File: internal/infra/security/signer.go
package security

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"license-server/internal/domain/model"
	"license-server/internal/infra/metrics"
)

const payloadVersion = "1.0"

const cryptoHash = crypto.SHA256

// PSS with the maximum salt length: two signatures over the same payload
// are never bit-identical, so comparing old vs new signed blobs carries no
// signal.
func pssOptions() *rsa.PSSOptions {
	return &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: cryptoHash}
}

// LicensePayload is the set of license facts a client may trust offline.
// SignedAt is the server-side timestamp clients anchor their local grace
// window to.
type LicensePayload struct {
	LicenseKey string           `json:"license_key"`
	ClientID   string           `json:"client_id"`
	ClientName string           `json:"client_name"`
	HardwareID string           `json:"hardware_id"`
	Plan       string           `json:"plan"`
	Features   []string         `json:"features"`
	Limits     model.PlanLimits `json:"limits"`
	IssuedAt   string           `json:"issued_at"`  // RFC 3339, empty never
	ExpiresAt  string           `json:"expires_at"` // RFC 3339 or "" for non-expiring
	SignedAt   string           `json:"signed_at"`  // RFC 3339
	KeyID      string           `json:"key_id"`
	Version    string           `json:"version"`
}

// SignedLicense is what the activate/validate endpoints return.
type SignedLicense struct {
	LicensePayload
	Signature string `json:"signature"` // base64(RSA-PSS over SHA-256 of canonical payload)
}

// BuildPayload assembles the payload from the CURRENT license state. Plan,
// limits or expiry may have changed since activation, so callers re-sign on
// every successful validation rather than replaying the activation blob.
func BuildPayload(lic *model.License, clientName, keyID string, now time.Time) LicensePayload {
	hw := ""
	if lic.HardwareID != nil {
		hw = *lic.HardwareID
	}
	exp := ""
	if lic.ExpiresAt != nil {
		exp = lic.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return LicensePayload{
		LicenseKey: lic.LicenseKey,
		ClientID:   lic.ClientID,
		ClientName: clientName,
		HardwareID: hw,
		Plan:       string(lic.Plan),
		Features:   lic.Features,
		Limits:     lic.Limits,
		IssuedAt:   lic.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:  exp,
		SignedAt:   now.UTC().Format(time.RFC3339),
		KeyID:      keyID,
		Version:    payloadVersion,
	}
}

// CanonicalBytes serializes the payload as compact JSON with
// lexicographically sorted keys at every level, so verification does not
// depend on the client's serializer ordering or whitespace choices.
func CanonicalBytes(p LicensePayload) ([]byte, error) {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	m := map[string]interface{}{
		"license_key": p.LicenseKey,
		"client_id":   p.ClientID,
		"client_name": p.ClientName,
		"hardware_id": p.HardwareID,
		"plan":        p.Plan,
		"features":    features,
		"limits": map[string]interface{}{
			"max_users":                p.Limits.MaxUsers,
			"max_customers":            p.Limits.MaxCustomers,
			"max_products":             p.Limits.MaxProducts,
			"max_monthly_transactions": p.Limits.MaxMonthlyTransactions,
		},
		"issued_at":  p.IssuedAt,
		"expires_at": p.ExpiresAt,
		"signed_at":  p.SignedAt,
		"key_id":     p.KeyID,
		"version":    p.Version,
	}
	// encoding/json marshals map keys in sorted order with no whitespace.
	return json.Marshal(m)
}

// Signer produces verifiable signatures over canonical license payloads.
// It is the only consumer of the KeyManager's private half.
type Signer struct {
	km *KeyManager
}

func NewSigner(km *KeyManager) *Signer { return &Signer{km: km} }

// KeyID exposes the active key's fingerprint for payload construction.
func (s *Signer) KeyID() string { return s.km.KeyID() }

// Sign digests the canonical payload with SHA-256 and signs with RSA-PSS.
func (s *Signer) Sign(p LicensePayload) (*SignedLicense, error) {
	start := time.Now()
	data, err := CanonicalBytes(p)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	digest := sha256.Sum256(data)
	sig, err := s.km.sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	metrics.ObserveSignLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	return &SignedLicense{
		LicensePayload: p,
		Signature:      base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Verify checks sig against the manager's own public key. Offline clients
// run the same algorithm with the PEM key from /public-key.
func (s *Signer) Verify(p LicensePayload, sigB64 string) error {
	pub, err := ParsePublicKeyPEM(s.km.PublicKeyPEM())
	if err != nil {
		return err
	}
	return VerifyWithKey(p, sigB64, pub)
}

// VerifyWithKey is the documented client-side verification: rebuild the
// canonical payload, digest with SHA-256, verify RSA-PSS. Expiry checking
// against the payload's expires_at stays the caller's responsibility since
// only the caller knows its clock tolerance.
func VerifyWithKey(p LicensePayload, sigB64 string, pub *rsa.PublicKey) error {
	data, err := CanonicalBytes(p)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub, cryptoHash, digest[:], sig, pssOptions()); err != nil {
		return fmt.Errorf("signature mismatch: %w", err)
	}
	return nil
}
