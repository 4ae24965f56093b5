package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeySource says where a key may come from. Inline wins over File.
type KeySource struct {
	Inline string // base64
	File   string
	// CreateIfMissing allows generating File on first use. Only development sets it.
	CreateIfMissing bool
}

// LoadKey resolves a 32-byte key from src.
func LoadKey(src KeySource) ([]byte, error) {
	if s := strings.TrimSpace(src.Inline); s != "" {
		key, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode vault key: %w", ErrInvalidKey)
		}
		if len(key) != KeySize {
			return nil, ErrInvalidKey
		}
		return key, nil
	}
	if src.File == "" {
		return nil, fmt.Errorf("no vault key configured: %w", ErrInvalidKey)
	}
	return ensureKey(src.File, src.CreateIfMissing)
}

// ensureKey reads a key from path, either exactly KeySize raw bytes or base64
// of exactly KeySize bytes, generating one when allowed.
func ensureKey(path string, create bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if key, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data))); derr == nil && len(key) == KeySize {
			return key, nil
		}
		if len(data) == KeySize {
			return data, nil
		}
		return nil, fmt.Errorf("key file %s: want %d raw bytes or base64 of %d: %w", path, KeySize, KeySize, ErrInvalidKey)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if !create {
		return nil, fmt.Errorf("key file %s missing: %w", path, ErrInvalidKey)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("key dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return key, nil
}
