package vault

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/1Password/connect-sdk-go/onepassword"

	"github.com/pilot-net/routerwatch/collector/internal/testutil"
	"github.com/pilot-net/routerwatch/pkg/types"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testutil.TestVaultKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	creds := types.Credentials{Username: "admin", Password: "s3cret"}
	blob, err := v.EncryptCredentials(creds)
	if err != nil {
		t.Fatalf("EncryptCredentials: %v", err)
	}
	if !strings.HasPrefix(blob, "v1:") {
		t.Errorf("blob = %q, want v1: prefix", blob)
	}
	if strings.Contains(blob, "s3cret") {
		t.Error("blob contains plaintext password")
	}

	got, err := v.DecryptCredentials(blob)
	if err != nil {
		t.Fatalf("DecryptCredentials: %v", err)
	}
	if got != creds {
		t.Errorf("got %+v, want %+v", got, creds)
	}
}

func TestVault_NonceIsRandom(t *testing.T) {
	v := newTestVault(t)
	a, _ := v.Encrypt([]byte("same"))
	b, _ := v.Encrypt([]byte("same"))
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestVault_DecryptFailures(t *testing.T) {
	v := newTestVault(t)
	good, err := v.Encrypt([]byte(`{"username":"admin","password":"x"}`))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	other, err := New([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tampered := []byte(good)
	tampered[len(tampered)-2] ^= 0x01

	tests := []struct {
		name  string
		vault *Vault
		blob  string
	}{
		{"no prefix", v, "abc"},
		{"bad base64", v, "v1:***"},
		{"too short", v, "v1:AAAA"},
		{"wrong key", other, good},
		{"tampered", v, string(tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.vault.Decrypt(tt.blob)
			var credErr *CredentialError
			if !errors.As(err, &credErr) {
				t.Fatalf("expected CredentialError, got %v", err)
			}
			if credErr.Op != "decrypt" {
				t.Errorf("Op = %q, want decrypt", credErr.Op)
			}
		})
	}
}

func TestVault_DecryptCredentials_MalformedDocument(t *testing.T) {
	v := newTestVault(t)

	for _, doc := range []string{"not json", `{"password":"only"}`} {
		blob, err := v.Encrypt([]byte(doc))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		_, err = v.DecryptCredentials(blob)
		var credErr *CredentialError
		if !errors.As(err, &credErr) {
			t.Fatalf("doc %q: expected CredentialError, got %v", doc, err)
		}
		if strings.Contains(err.Error(), "only") {
			t.Errorf("error leaks document content: %v", err)
		}
	}
}

func TestNew_RejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"))
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
}

func TestLoadKey(t *testing.T) {
	logger := testutil.NewTestLogger()
	key := testutil.TestVaultKey

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "vault.key")
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     KeyConfig
		wantErr bool
		want    []byte
	}{
		{"env std base64", KeyConfig{Backend: "env", Key: base64.StdEncoding.EncodeToString(key)}, false, key},
		{"env raw url base64", KeyConfig{Backend: "env", Key: base64.RawURLEncoding.EncodeToString(key)}, false, key},
		{"env missing", KeyConfig{Backend: "env"}, true, nil},
		{"file hex", KeyConfig{Backend: "file", KeyFile: keyFile}, false, key},
		{"auto prefers inline", KeyConfig{Key: base64.StdEncoding.EncodeToString(key), KeyFile: "/nonexistent"}, false, key},
		{"auto uses file", KeyConfig{KeyFile: keyFile}, false, key},
		{"auto nothing", KeyConfig{}, true, nil},
		{"wrong shape rejected", KeyConfig{Backend: "env", Key: "dev-secret"}, true, nil},
		{"wrong shape derived", KeyConfig{Backend: "env", Key: "dev-secret", AllowDerivedKey: true}, false, DeriveKey("dev-secret")},
		{"unknown backend", KeyConfig{Backend: "kms"}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadKey(context.Background(), tt.cfg, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadKey: %v", err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("key mismatch")
			}
		})
	}
}

type mockItemReader struct {
	GetItemsByTitleFunc func(title, vault string) ([]onepassword.Item, error)
	GetItemFunc         func(id, vault string) (*onepassword.Item, error)
}

func (m *mockItemReader) GetItemsByTitle(title, vault string) ([]onepassword.Item, error) {
	return m.GetItemsByTitleFunc(title, vault)
}

func (m *mockItemReader) GetItem(id, vault string) (*onepassword.Item, error) {
	return m.GetItemFunc(id, vault)
}

func TestOnePasswordKeySource_Fetch(t *testing.T) {
	logger := testutil.NewTestLogger()
	cfg := OnePasswordConfig{VaultID: "vault-1"}

	t.Run("found", func(t *testing.T) {
		client := &mockItemReader{
			GetItemsByTitleFunc: func(title, vault string) ([]onepassword.Item, error) {
				if title != "routerwatch vault key" || vault != "vault-1" {
					t.Errorf("unexpected lookup %q in %q", title, vault)
				}
				return []onepassword.Item{{ID: "item-1"}}, nil
			},
			GetItemFunc: func(id, vault string) (*onepassword.Item, error) {
				return &onepassword.Item{ID: id, Fields: []*onepassword.ItemField{
					{ID: "notes", Label: "notesPlain", Value: "ignored"},
					{ID: "abc", Label: "Key", Value: "secret-value"},
				}}, nil
			},
		}
		src := newOnePasswordKeySource(client, cfg, logger)
		got, err := src.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if got != "secret-value" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing item", func(t *testing.T) {
		client := &mockItemReader{
			GetItemsByTitleFunc: func(string, string) ([]onepassword.Item, error) { return nil, nil },
		}
		if _, err := newOnePasswordKeySource(client, cfg, logger).Fetch(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("api error", func(t *testing.T) {
		client := &mockItemReader{
			GetItemsByTitleFunc: func(string, string) ([]onepassword.Item, error) { return nil, fmt.Errorf("503") },
		}
		if _, err := newOnePasswordKeySource(client, cfg, logger).Fetch(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestKeyConfigFromEnv(t *testing.T) {
	base := KeyConfig{Backend: "file", KeyFile: "/etc/routerwatch/key", OnePassword: OnePasswordConfig{Item: "vault key"}}

	t.Run("unset keeps base", func(t *testing.T) {
		for _, k := range []string{"ROUTERWATCH_VAULT_BACKEND", "ROUTERWATCH_VAULT_KEY", "ROUTERWATCH_VAULT_KEY_FILE", "OP_CONNECT_HOST", "OP_CONNECT_TOKEN", "OP_VAULT_ID"} {
			t.Setenv(k, "")
		}
		got := KeyConfigFromEnv(base)
		if got != base {
			t.Errorf("got %+v, want %+v", got, base)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("ROUTERWATCH_VAULT_BACKEND", "auto")
		t.Setenv("ROUTERWATCH_VAULT_KEY", "inline")
		t.Setenv("ROUTERWATCH_VAULT_ALLOW_DERIVED_KEY", "true")
		t.Setenv("OP_CONNECT_HOST", "http://op.local:8080")
		t.Setenv("OP_CONNECT_TOKEN", "op-token")
		t.Setenv("OP_VAULT_ID", "vault-1")

		got := KeyConfigFromEnv(base)
		if got.Backend != "auto" || got.Key != "inline" || !got.AllowDerivedKey {
			t.Errorf("key settings = %+v", got)
		}
		if got.KeyFile != base.KeyFile {
			t.Errorf("KeyFile = %q, want %q", got.KeyFile, base.KeyFile)
		}
		op := got.OnePassword
		if op.Host != "http://op.local:8080" || op.Token != "op-token" || op.VaultID != "vault-1" || op.Item != "vault key" {
			t.Errorf("1password = %+v", op)
		}
	})
}
