package vault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyConfig selects where the vault key comes from.
type KeyConfig struct {
	// Backend is "env", "file", "1password", or "auto".
	// "auto" (default) uses 1Password if configured, then the inline key,
	// then the key file.
	Backend string `yaml:"backend" toml:"backend"`

	// Key is the inline key (ROUTERWATCH_VAULT_KEY), base64 or hex.
	Key string `yaml:"key" toml:"key"`

	// KeyFile holds the key in the same encoding.
	KeyFile string `yaml:"key_file" toml:"key_file"`

	// AllowDerivedKey stretches a key of the wrong shape with SHA-256
	// instead of failing. Development only.
	AllowDerivedKey bool `yaml:"allow_derived_key" toml:"allow_derived_key"`

	OnePassword OnePasswordConfig `yaml:"onepassword" toml:"onepassword"`
}

// KeyConfigFromEnv overlays the ROUTERWATCH_VAULT_* and OP_* variables on
// base. Unset variables leave base untouched.
func KeyConfigFromEnv(base KeyConfig) KeyConfig {
	cfg := base
	if v := os.Getenv("ROUTERWATCH_VAULT_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("ROUTERWATCH_VAULT_KEY"); v != "" {
		cfg.Key = v
	}
	if v := os.Getenv("ROUTERWATCH_VAULT_KEY_FILE"); v != "" {
		cfg.KeyFile = v
	}
	if v := os.Getenv("ROUTERWATCH_VAULT_ALLOW_DERIVED_KEY"); v != "" {
		cfg.AllowDerivedKey = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OP_CONNECT_HOST"); v != "" {
		cfg.OnePassword.Host = v
	}
	if v := os.Getenv("OP_CONNECT_TOKEN"); v != "" {
		cfg.OnePassword.Token = v
	}
	if v := os.Getenv("OP_VAULT_ID"); v != "" {
		cfg.OnePassword.VaultID = v
	}
	return cfg
}

// LoadKey resolves the vault key according to cfg.
func LoadKey(ctx context.Context, cfg KeyConfig, logger *slog.Logger) ([]byte, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		return loadOnePasswordKey(ctx, cfg, logger)

	case "env":
		if cfg.Key == "" {
			return nil, fmt.Errorf("env key backend requested but ROUTERWATCH_VAULT_KEY not set")
		}
		return decodeKey(cfg.Key, cfg.AllowDerivedKey, logger)

	case "file":
		return loadKeyFile(cfg, logger)

	case "auto":
		if cfg.OnePassword.configured() {
			key, err := loadOnePasswordKey(ctx, cfg, logger)
			if err == nil {
				return key, nil
			}
			logger.Warn("failed to load vault key from 1Password, falling back", "error", err)
		}
		if cfg.Key != "" {
			return decodeKey(cfg.Key, cfg.AllowDerivedKey, logger)
		}
		if cfg.KeyFile != "" {
			return loadKeyFile(cfg, logger)
		}
		return nil, fmt.Errorf("no vault key configured")

	default:
		return nil, fmt.Errorf("unknown vault key backend: %s", backend)
	}
}

// NewFromConfig loads the key and builds a Vault.
func NewFromConfig(ctx context.Context, cfg KeyConfig, logger *slog.Logger) (*Vault, error) {
	key, err := LoadKey(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(key)
}

// DeriveKey stretches an arbitrary secret into a 32-byte key.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func loadOnePasswordKey(ctx context.Context, cfg KeyConfig, logger *slog.Logger) ([]byte, error) {
	src, err := NewOnePasswordKeySource(cfg.OnePassword, logger)
	if err != nil {
		return nil, err
	}
	value, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return decodeKey(value, cfg.AllowDerivedKey, logger)
}

func loadKeyFile(cfg KeyConfig, logger *slog.Logger) ([]byte, error) {
	info, err := os.Stat(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		logger.Warn("vault key file is readable by group or others", "path", cfg.KeyFile, "mode", info.Mode().Perm().String())
	}
	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return decodeKey(strings.TrimSpace(string(data)), cfg.AllowDerivedKey, logger)
}

// decodeKey accepts base64 (any alphabet, padded or not) or hex.
func decodeKey(s string, allowDerived bool, logger *slog.Logger) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if key, err := enc.DecodeString(s); err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}
	if key, err := hex.DecodeString(s); err == nil && len(key) == chacha20poly1305.KeySize {
		return key, nil
	}

	if !allowDerived {
		return nil, &CredentialError{Op: "key", Reason: "vault key must decode to 32 bytes (base64 or hex)"}
	}
	logger.Warn("vault key has the wrong shape, deriving one with SHA-256; do not use in production")
	return DeriveKey(s), nil
}
