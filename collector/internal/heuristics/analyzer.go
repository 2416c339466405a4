// Package heuristics applies fixed rule-based checks to a forensic snapshot.
// Everything here is pure: no I/O, no clocks, no shared state.
package heuristics

import (
	"fmt"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Thresholds are the fixed limits the rules compare against.
type Thresholds struct {
	RxDropMax      uint64  // congestion above this
	LowVoltage     float64 // power finding below this
	HighCPU        float64 // critical above this
	AuthFailureMin int     // brute force at or above this
	ReconnectMin   int     // link instability at or above this
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RxDropMax:      100,
		LowVoltage:     10,
		HighCPU:        90,
		AuthFailureMin: 3,
		ReconnectMin:   5,
	}
}

// Analyzer evaluates the heuristic rules.
type Analyzer struct {
	th         Thresholds
	classifier *LogClassifier
}

// New creates an Analyzer. A nil classifier disables the log rules.
func New(th Thresholds, classifier *LogClassifier) *Analyzer {
	return &Analyzer{th: th, classifier: classifier}
}

// NewDefault creates an Analyzer with default thresholds and the embedded
// log rules.
func NewDefault() (*Analyzer, error) {
	c, err := NewDefaultLogClassifier()
	if err != nil {
		return nil, fmt.Errorf("loading log rules: %w", err)
	}
	return New(DefaultThresholds(), c), nil
}

// Analyze runs every rule against snap. All rules are independent and may
// fire together.
func (a *Analyzer) Analyze(snap *types.ForensicSnapshot) []types.Finding {
	var findings []types.Finding

	for _, iface := range snap.Interfaces {
		if iface.FCSErrors > 0 {
			findings = append(findings, types.Finding{
				Kind:        types.FindingPhysical,
				Subject:     iface.Name,
				Description: fmt.Sprintf("Interface %s has %d FCS errors. Suggests physical cable/connector damage.", iface.Name, iface.FCSErrors),
			})
		}
		if iface.RxDrops > a.th.RxDropMax {
			findings = append(findings, types.Finding{
				Kind:        types.FindingCongestion,
				Subject:     iface.Name,
				Description: fmt.Sprintf("Interface %s dropped %d received packets. Suggests congestion or buffer exhaustion.", iface.Name, iface.RxDrops),
			})
		}
	}

	if v := snap.Health.Voltage; v != nil && *v < a.th.LowVoltage {
		findings = append(findings, types.Finding{
			Kind:        types.FindingPower,
			Subject:     "voltage",
			Description: fmt.Sprintf("Input voltage is low (%.1fV, below %.0fV). Check the power supply.", *v, a.th.LowVoltage),
		})
	}

	if cpu := snap.Context.CPULoad; cpu != nil && *cpu > a.th.HighCPU {
		findings = append(findings, types.Finding{
			Kind:        types.FindingCPU,
			Subject:     "cpu",
			Description: fmt.Sprintf("CPU is critical (>%.0f%%): %.0f%% load.", a.th.HighCPU, *cpu),
			Critical:    true,
		})
	}

	return append(findings, a.AnalyzeLogs(snap.Logs)...)
}

// AnalyzeLogs runs the log-pattern rules over a batch.
func (a *Analyzer) AnalyzeLogs(records []types.RawRecord) []types.Finding {
	if a.classifier == nil || len(records) == 0 {
		return nil
	}

	counts := map[string]int{}
	for _, rec := range records {
		for _, id := range a.classifier.Classify(rec) {
			counts[id]++
		}
	}

	var findings []types.Finding
	if n := counts[RuleAuthFailure]; n >= a.th.AuthFailureMin {
		findings = append(findings, types.Finding{
			Kind:        types.FindingBruteForce,
			Subject:     "login",
			Description: fmt.Sprintf("%d authentication failures in the log buffer. Possible brute-force attempt.", n),
		})
	}
	if n := counts[RuleLinkReconnect]; n >= a.th.ReconnectMin {
		findings = append(findings, types.Finding{
			Kind:        types.FindingLinkInstability,
			Subject:     "wan",
			Description: fmt.Sprintf("%d WAN reconnection events in the log buffer. The uplink is unstable.", n),
		})
	}
	return findings
}
