// Package connector opens sessions to routers over one of several transport
// providers, with ordered fallback and bounded retries per provider.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Provider opens connections using one transport and query dialect.
type Provider interface {
	Name() string
	Dial(ctx context.Context, target types.DeviceTarget, creds types.Credentials) (Conn, error)
}

// Conn is an open provider connection.
type Conn interface {
	Query(ctx context.Context, path string, args ...string) ([]types.RawRecord, error)
	Close() error
}

// CredentialDecrypter opens a DeviceTarget's credential blob.
type CredentialDecrypter interface {
	DecryptCredentials(blob string) (types.Credentials, error)
}

// Config holds connector settings.
type Config struct {
	// Providers is the fallback order. A single entry forces one provider.
	Providers []string `yaml:"providers" toml:"providers"`

	// Ports overrides the default port per provider. Per-device ports win.
	Ports map[string]int `yaml:"ports" toml:"ports"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout" toml:"query_timeout"`

	// MaxAttempts is the number of tries per provider before falling back.
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max" toml:"backoff_max"`
	Jitter      bool          `yaml:"jitter" toml:"jitter"`

	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify" toml:"tls_insecure_skip_verify"`
	SSHKnownHosts         string `yaml:"ssh_known_hosts" toml:"ssh_known_hosts"`
}

// DefaultConfig returns the default connector configuration.
func DefaultConfig() Config {
	return Config{
		Providers:             []string{types.ProviderAPI, types.ProviderAPITLS, types.ProviderSSH},
		Ports:                 map[string]int{},
		ConnectTimeout:        5 * time.Second,
		QueryTimeout:          15 * time.Second,
		MaxAttempts:           3,
		BackoffBase:           500 * time.Millisecond,
		BackoffMax:            10 * time.Second,
		Jitter:                true,
		TLSInsecureSkipVerify: true,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ProviderFailure is the outcome of exhausting one provider.
type ProviderFailure struct {
	Provider string
	Attempts int
	Err      error
}

// ConnectionError means every provider was exhausted. It carries the last
// error per provider and never the credentials.
type ConnectionError struct {
	DeviceID string
	Host     string
	Failures []ProviderFailure
}

func (e *ConnectionError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("device %s (%s) unreachable: no providers configured", e.DeviceID, e.Host)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s after %d attempts: %v", f.Provider, f.Attempts, f.Err))
	}
	return fmt.Sprintf("device %s (%s) unreachable: %s", e.DeviceID, e.Host, strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider errors to errors.Is and errors.As.
func (e *ConnectionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// =============================================================================
// CONNECTOR
// =============================================================================

// Connector opens sessions with provider fallback.
type Connector struct {
	cfg       Config
	providers []Provider
	creds     CredentialDecrypter
	logger    *slog.Logger
}

// New creates a Connector trying providers in the given order.
func New(cfg Config, providers []Provider, creds CredentialDecrypter, logger *slog.Logger) *Connector {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Connector{
		cfg:       cfg,
		providers: providers,
		creds:     creds,
		logger:    logger.With("component", "connector"),
	}
}

// Connect opens a session to target. Credential failures are returned as
// is and no provider is tried; exhausting all providers returns a
// *ConnectionError.
func (c *Connector) Connect(ctx context.Context, target types.DeviceTarget) (*Session, error) {
	creds, err := c.creds.DecryptCredentials(target.CredentialBlob)
	if err != nil {
		return nil, err
	}

	connErr := &ConnectionError{DeviceID: target.ID, Host: target.Host}
	for _, p := range c.providers {
		conn, attempts, err := c.dialWithRetry(ctx, p, target, creds)
		if err == nil {
			c.logger.Debug("session opened",
				"device_id", target.ID,
				"provider", p.Name(),
				"attempts", attempts)
			return newSession(p.Name(), conn, target.ID, c.cfg.QueryTimeout, c.logger), nil
		}

		err = redact(err, creds)
		connErr.Failures = append(connErr.Failures, ProviderFailure{
			Provider: p.Name(),
			Attempts: attempts,
			Err:      err,
		})
		c.logger.Warn("provider exhausted",
			"device_id", target.ID,
			"provider", p.Name(),
			"attempts", attempts,
			"error", err)

		if ctx.Err() != nil {
			break
		}
	}
	return nil, connErr
}

// dialWithRetry makes up to MaxAttempts sequential attempts on one provider.
func (c *Connector) dialWithRetry(ctx context.Context, p Provider, target types.DeviceTarget, creds types.Credentials) (Conn, int, error) {
	var (
		conn     Conn
		attempts int
		lastErr  error
	)

	op := func() error {
		attempts++
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()

		cn, err := p.Dial(dialCtx, target, creds)
		if err != nil {
			lastErr = err
			return err
		}
		conn = cn
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Debug("connect attempt failed",
			"device_id", target.ID,
			"provider", p.Name(),
			"attempt", attempts,
			"retry_in", next,
			"error", redact(err, creds))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	if err != nil {
		if lastErr != nil && !errors.Is(err, lastErr) {
			err = fmt.Errorf("%w: %w", err, lastErr)
		}
		return nil, attempts, err
	}
	return conn, attempts, nil
}

// newBackOff yields base * 2^attempt, capped at BackoffMax.
func (c *Connector) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffBase
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	if c.cfg.BackoffMax > 0 {
		b.MaxInterval = c.cfg.BackoffMax
	}
	if c.cfg.Jitter {
		b.RandomizationFactor = 0.5
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return b
}

// redact strips credential values that a transport echoed into an error.
func redact(err error, creds types.Credentials) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	replaced := msg
	for _, secret := range []string{creds.Password, creds.PrivateKey} {
		if len(secret) >= 3 {
			replaced = strings.ReplaceAll(replaced, secret, "[redacted]")
		}
	}
	if replaced == msg {
		return err
	}
	return errors.New(replaced)
}
