package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// OnePasswordConfig points at the 1Password item holding the vault key.
type OnePasswordConfig struct {
	Host    string `yaml:"host" toml:"host"`         // OP_CONNECT_HOST
	Token   string `yaml:"token" toml:"token"`       // OP_CONNECT_TOKEN
	VaultID string `yaml:"vault_id" toml:"vault_id"` // OP_VAULT_ID
	Item    string `yaml:"item" toml:"item"`         // item title, default "routerwatch vault key"
	Field   string `yaml:"field" toml:"field"`       // field label, default "key"
}

func (c OnePasswordConfig) configured() bool {
	return c.Host != "" && c.Token != "" && c.VaultID != ""
}

// itemReader is the subset of connect.Client used here.
type itemReader interface {
	GetItemsByTitle(title string, vaultQuery string) ([]onepassword.Item, error)
	GetItem(itemQuery string, vaultQuery string) (*onepassword.Item, error)
}

// OnePasswordKeySource reads the vault key from 1Password Connect.
type OnePasswordKeySource struct {
	client  itemReader
	vaultID string
	item    string
	field   string
	logger  *slog.Logger
}

// NewOnePasswordKeySource creates a key source backed by a Connect server.
func NewOnePasswordKeySource(cfg OnePasswordConfig, logger *slog.Logger) (*OnePasswordKeySource, error) {
	if !cfg.configured() {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}
	client := connect.NewClientWithUserAgent(cfg.Host, cfg.Token, "routerwatch-collector")
	return newOnePasswordKeySource(client, cfg, logger), nil
}

func newOnePasswordKeySource(client itemReader, cfg OnePasswordConfig, logger *slog.Logger) *OnePasswordKeySource {
	item := cfg.Item
	if item == "" {
		item = "routerwatch vault key"
	}
	field := cfg.Field
	if field == "" {
		field = "key"
	}
	return &OnePasswordKeySource{
		client:  client,
		vaultID: cfg.VaultID,
		item:    item,
		field:   field,
		logger:  logger,
	}
}

// Fetch returns the raw key field value.
func (s *OnePasswordKeySource) Fetch(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	items, err := s.client.GetItemsByTitle(s.item, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("1Password item %q not found", s.item)
	}

	item, err := s.client.GetItem(items[0].ID, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("getting item: %w", err)
	}

	for _, f := range item.Fields {
		if strings.EqualFold(f.Label, s.field) || f.ID == s.field {
			if f.Value == "" {
				return "", fmt.Errorf("1Password field %q is empty", s.field)
			}
			s.logger.Debug("loaded vault key from 1Password", "item", s.item)
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("1Password item %q has no field %q", s.item, s.field)
}
