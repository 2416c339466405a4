// Package logs turns raw device log records into canonical LogRecords and
// drops the ones already persisted for a device.
//
// Deduplication is two-tier: records older than the newest persisted event
// time are dropped outright, and records at exactly that time are dropped
// when a persisted row at the same time already contains their message.
// Device clocks report whole seconds, so two distinct events with the same
// text in the same second collapse into one. This is a known precision
// limit; no uniqueness constraint backs the rule.
package logs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Lookup reads persisted log state for one device.
type Lookup interface {
	LastLogTime(ctx context.Context, tenantID, deviceID string) (*time.Time, error)
	LogTextsAt(ctx context.Context, tenantID, deviceID string, at time.Time) ([]string, error)
}

// Store is Lookup plus the append operation used by Ingest.
type Store interface {
	Lookup
	InsertLogs(ctx context.Context, records []types.LogRecord) error
}

// Config holds normalizer settings.
type Config struct {
	// DeviceTimezone is the IANA zone device wall clocks are set to.
	DeviceTimezone string `yaml:"device_timezone" toml:"device_timezone"`
}

// DefaultConfig returns the default normalizer configuration.
func DefaultConfig() Config {
	return Config{DeviceTimezone: "UTC"}
}

// Normalizer converts and deduplicates log batches.
type Normalizer struct {
	lookup     Lookup
	strategies []Strategy
	loc        *time.Location
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Normalizer with the default strategies.
func New(cfg Config, lookup Lookup, logger *slog.Logger) (*Normalizer, error) {
	loc := time.UTC
	if cfg.DeviceTimezone != "" {
		l, err := time.LoadLocation(cfg.DeviceTimezone)
		if err != nil {
			return nil, fmt.Errorf("loading device timezone: %w", err)
		}
		loc = l
	}
	return &Normalizer{
		lookup:     lookup,
		strategies: DefaultStrategies,
		loc:        loc,
		logger:     logger.With("component", "log_normalizer"),
		now:        time.Now,
	}, nil
}

// Normalize converts raw into LogRecords newer than last. A nil last keeps
// everything.
func (n *Normalizer) Normalize(ctx context.Context, target types.DeviceTarget, raw []types.RawRecord, last *time.Time) ([]types.LogRecord, error) {
	ingested := n.now().UTC()
	ref := ingested.In(n.loc)

	var (
		out       []types.LogRecord
		atLast    []string
		atLastSet bool
	)

	for _, rec := range raw {
		msg := strings.TrimSpace(rec.Get("message", "msg"))
		if msg == "" {
			continue
		}

		ts, source := n.resolve(rec, ref)

		if last != nil {
			if ts.Before(*last) {
				continue
			}
			if ts.Equal(*last) {
				if !atLastSet {
					texts, err := n.persistedAt(ctx, target, *last)
					if err != nil {
						return nil, err
					}
					atLast, atLastSet = texts, true
				}
				if containsMessage(atLast, msg) {
					continue
				}
			}
		}

		topics := strings.TrimSpace(rec["topics"])
		out = append(out, types.LogRecord{
			TenantID:        target.TenantID,
			DeviceID:        target.ID,
			RawLog:          rawText(topics, msg),
			Level:           parseLevel(topics),
			EventTime:       ts,
			TimestampSource: source,
			IngestedAt:      ingested,
		})
	}
	return out, nil
}

// Ingest normalizes raw against the device's persisted state and appends
// the new records. It returns the number of records written.
func (n *Normalizer) Ingest(ctx context.Context, store Store, target types.DeviceTarget, raw []types.RawRecord) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	last, err := store.LastLogTime(ctx, target.TenantID, target.ID)
	if err != nil {
		return 0, fmt.Errorf("reading last log time: %w", err)
	}

	records, err := n.Normalize(ctx, target, raw, last)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := store.InsertLogs(ctx, records); err != nil {
		return 0, fmt.Errorf("inserting logs: %w", err)
	}

	n.logger.Debug("logs ingested",
		"device_id", target.ID,
		"received", len(raw),
		"new", len(records))
	return len(records), nil
}

func (n *Normalizer) resolve(rec types.RawRecord, ref time.Time) (time.Time, string) {
	for _, s := range n.strategies {
		if t, ok := s.Parse(rec, ref); ok {
			return t.UTC(), s.Name
		}
	}
	return ref.UTC(), SourceCollection
}

func (n *Normalizer) persistedAt(ctx context.Context, target types.DeviceTarget, at time.Time) ([]string, error) {
	if n.lookup == nil {
		return nil, nil
	}
	texts, err := n.lookup.LogTextsAt(ctx, target.TenantID, target.ID, at)
	if err != nil {
		return nil, fmt.Errorf("reading logs at %s: %w", at.Format(time.RFC3339), err)
	}
	return texts, nil
}

// containsMessage is a substring check: providers truncate long messages,
// so exact equality misses real duplicates.
func containsMessage(persisted []string, msg string) bool {
	for _, p := range persisted {
		if strings.Contains(p, msg) {
			return true
		}
	}
	return false
}

func rawText(topics, msg string) string {
	if topics == "" {
		return msg
	}
	return "[" + topics + "] " + msg
}

// levelOrder ranks RouterOS topic tags from most to least severe.
var levelOrder = []string{"critical", "error", "warning", "info", "debug"}

// parseLevel picks the most severe level tag in a comma-separated topic
// list, "info" if topics exist but carry none, nil without topics.
func parseLevel(topics string) *string {
	if topics == "" {
		return nil
	}
	tags := strings.Split(strings.ToLower(topics), ",")
	for _, lvl := range levelOrder {
		for _, tag := range tags {
			if strings.TrimSpace(tag) == lvl {
				l := lvl
				return &l
			}
		}
	}
	info := "info"
	return &info
}
