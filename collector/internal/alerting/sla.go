package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// SampleStore reads resolution samples for SLA reporting.
type SampleStore interface {
	// ResolutionSamples returns alerts of the given severities created at
	// or after since, each with its first transition to Resuelta if any.
	ResolutionSamples(ctx context.Context, tenantID string, since time.Time, severities []types.AlertSeverity) ([]types.ResolutionSample, error)
}

// SLACalculator computes resolution metrics from the alert history.
type SLACalculator struct {
	store SampleStore
}

// NewSLACalculator creates a calculator over store.
func NewSLACalculator(store SampleStore) *SLACalculator {
	return &SLACalculator{store: store}
}

// MeanResolutionMinutes is the mean time from creation to first resolution
// of Severa and Crítica alerts created since. Unresolved alerts are
// excluded; with no resolved alerts the result is 0.
func (c *SLACalculator) MeanResolutionMinutes(ctx context.Context, tenantID string, since time.Time) (float64, error) {
	samples, err := c.store.ResolutionSamples(ctx, tenantID, since, types.HighSeverities)
	if err != nil {
		return 0, fmt.Errorf("reading resolution samples: %w", err)
	}
	return MeanMinutes(samples), nil
}

// MeanMinutes averages the resolved samples.
func MeanMinutes(samples []types.ResolutionSample) float64 {
	var total time.Duration
	n := 0
	for _, s := range samples {
		if s.ResolvedAt == nil {
			continue
		}
		d := s.ResolvedAt.Sub(s.CreatedAt)
		if d < 0 {
			d = 0
		}
		total += d
		n++
	}
	if n == 0 {
		return 0
	}
	return total.Minutes() / float64(n)
}

// MonthStart is midnight on the first day of now's month, in now's location.
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}
