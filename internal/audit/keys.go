package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// GenerateKeyPair creates a fresh ed25519 signing key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	return pub, priv, nil
}

// SaveKeyPair writes both keys as hex files. The private key file is
// created owner-readable only.
func SaveKeyPair(pub ed25519.PublicKey, priv ed25519.PrivateKey, pubPath, privPath string) error {
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	return nil
}

// LoadPrivateKey reads a hex-encoded ed25519 private key file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := loadHexKey(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.PrivateKey(raw), nil
}

// LoadPublicKey reads a hex-encoded ed25519 public key file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := loadHexKey(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return ed25519.PublicKey(raw), nil
}

func loadHexKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return raw, nil
}

// EnsureKeyPair loads the key pair at the given paths, generating and
// saving a new pair when the files do not exist yet.
func EnsureKeyPair(pubPath, privPath string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if _, err := os.Stat(privPath); errors.Is(err, os.ErrNotExist) {
		pub, priv, err := GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		if err := SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
			return nil, nil, err
		}
		return pub, priv, nil
	}
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		return nil, nil, err
	}
	priv, err := LoadPrivateKey(privPath)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
