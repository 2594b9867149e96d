// File: internal/infra/security/keys.go
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"license-server/internal/config"
)

const minKeyBits = 4096

// KeyManager owns the process-wide signing key pair. The private half never
// leaves this package: only the Signer (same package) can produce
// signatures. A failure to obtain key material is a deployment problem and
// is fatal at startup, distinct from per-request errors.
type KeyManager struct {
	priv   *rsa.PrivateKey
	pubPEM string
	keyID  string
}

// NewKeyManager loads the PEM key pair from the configured paths. When the
// files are absent and cfg.Generate is set, a fresh RSA-4096 pair is
// generated and written (private key 0600).
func NewKeyManager(cfg config.KeysConfig) (*KeyManager, error) {
	_, privErr := os.Stat(cfg.PrivateKeyPath)
	_, pubErr := os.Stat(cfg.PublicKeyPath)

	if os.IsNotExist(privErr) || os.IsNotExist(pubErr) {
		if !cfg.Generate {
			return nil, fmt.Errorf("key pair not found at %s / %s and keys.generate is off", cfg.PrivateKeyPath, cfg.PublicKeyPath)
		}
		if err := generateKeyPair(cfg.PrivateKeyPath, cfg.PublicKeyPath); err != nil {
			return nil, fmt.Errorf("generate key pair: %w", err)
		}
	}

	priv, err := loadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	if priv.N.BitLen() < minKeyBits {
		return nil, fmt.Errorf("private key is %d bits; minimum is %d", priv.N.BitLen(), minKeyBits)
	}

	pubPEM, err := encodePublicPEM(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	return &KeyManager{
		priv:   priv,
		pubPEM: pubPEM,
		keyID:  fingerprint(pubPEM),
	}, nil
}

// NewKeyManagerFromKey wraps an in-memory key, used by tests and the keygen
// tool.
func NewKeyManagerFromKey(priv *rsa.PrivateKey) (*KeyManager, error) {
	pubPEM, err := encodePublicPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyManager{priv: priv, pubPEM: pubPEM, keyID: fingerprint(pubPEM)}, nil
}

// PublicKeyPEM returns the public half in SubjectPublicKeyInfo PEM, the
// exchangeable encoding clients verify against offline.
func (m *KeyManager) PublicKeyPEM() string { return m.pubPEM }

// KeyID identifies the active key inside signed payloads so signatures
// remain attributable to a specific key if rotation is ever introduced.
func (m *KeyManager) KeyID() string { return m.keyID }

// sign is package-private: only the Signer may produce signatures.
func (m *KeyManager) sign(digest []byte) ([]byte, error) {
	return rsa.SignPSS(rand.Reader, m.priv, cryptoHash, digest, pssOptions())
}

func fingerprint(pubPEM string) string {
	sum := sha256.Sum256([]byte(pubPEM))
	return hex.EncodeToString(sum[:])[:16]
}

func generateKeyPair(privPath, pubPath string) error {
	priv, err := rsa.GenerateKey(rand.Reader, minKeyBits)
	if err != nil {
		return err
	}
	return WriteKeyPair(priv, privPath, pubPath)
}

// WriteKeyPair persists a key pair as PEM files, private key readable by
// owner only.
func WriteKeyPair(priv *rsa.PrivateKey, privPath, pubPath string) error {
	if err := os.MkdirAll(filepath.Dir(privPath), 0o755); err != nil {
		return err
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return err
	}

	pubPEM, err := encodePublicPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	return os.WriteFile(pubPath, []byte(pubPEM), 0o644)
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Older deployments used PKCS#1.
		if k1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			return k1, nil
		}
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an RSA key", path)
	}
	return priv, nil
}

func encodePublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKeyPEM decodes a SubjectPublicKeyInfo PEM public key. Clients
// use this with the /public-key endpoint's response.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}
