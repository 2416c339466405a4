package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Session is an open connection to one device through one provider.
// Individual query failures never abort the session; callers get
// (nil, false) and a warning is logged. Close must always be called.
type Session struct {
	provider     string
	conn         Conn
	deviceID     string
	queryTimeout time.Duration
	logger       *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

func newSession(provider string, conn Conn, deviceID string, queryTimeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		provider:     provider,
		conn:         conn,
		deviceID:     deviceID,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Provider returns the name of the provider the session is bound to.
func (s *Session) Provider() string {
	return s.provider
}

// Query runs a resource query. A failure is logged at warn level.
func (s *Session) Query(ctx context.Context, path string, args ...string) ([]types.RawRecord, bool) {
	recs, err := s.query(ctx, path, args...)
	if err != nil {
		s.logger.Warn("query failed",
			"device_id", s.deviceID,
			"provider", s.provider,
			"path", path,
			"error", err)
		return nil, false
	}
	return recs, true
}

// Probe is Query for paths that may legitimately not exist on the device,
// such as firmware-specific menus. Failures are logged at debug level.
func (s *Session) Probe(ctx context.Context, path string, args ...string) ([]types.RawRecord, bool) {
	recs, err := s.query(ctx, path, args...)
	if err != nil {
		s.logger.Debug("probe failed",
			"device_id", s.deviceID,
			"provider", s.provider,
			"path", path,
			"error", err)
		return nil, false
	}
	return recs, true
}

func (s *Session) query(ctx context.Context, path string, args ...string) (recs []types.RawRecord, err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("session closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			recs, err = nil, fmt.Errorf("provider panic: %v", r)
		}
	}()
	return s.conn.Query(ctx, path, args...)
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
