package types

import "strings"

// FindingKind classifies a heuristic finding.
type FindingKind string

const (
	FindingPhysical        FindingKind = "physical"
	FindingCongestion      FindingKind = "congestion"
	FindingPower           FindingKind = "power"
	FindingCPU             FindingKind = "cpu"
	FindingBruteForce      FindingKind = "brute_force"
	FindingLinkInstability FindingKind = "link_instability"
)

// Finding is one rule-based observation about a snapshot or log batch.
type Finding struct {
	Kind        FindingKind `json:"kind"`
	Subject     string      `json:"subject,omitempty"`
	Description string      `json:"description"`
	Critical    bool        `json:"critical,omitempty"`
}

// Descriptions returns the finding texts in order.
func Descriptions(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Description)
	}
	return out
}

// VerdictStatus is the coarse health judgment of a verdict.
type VerdictStatus string

const (
	VerdictCritical VerdictStatus = "CRITICAL"
	VerdictWarning  VerdictStatus = "WARNING"
	VerdictHealthy  VerdictStatus = "HEALTHY"
)

// ParseVerdictStatus maps free-form backend output to a status.
func ParseVerdictStatus(s string) (VerdictStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRITICO", "CRÍTICO":
		return VerdictCritical, true
	case "WARNING", "WARN", "ADVERTENCIA":
		return VerdictWarning, true
	case "HEALTHY", "OK", "SANO":
		return VerdictHealthy, true
	}
	return "", false
}

// LocalBackend names verdicts built from heuristic findings alone.
const LocalBackend = "heuristics"

// AnalysisVerdict is the structured output of an analysis backend.
type AnalysisVerdict struct {
	Status          VerdictStatus `json:"status"`
	Summary         string        `json:"summary"`
	Narrative       string        `json:"narrative"`
	Recommendations []string      `json:"recommendations"`
	Confidence      float64       `json:"confidence"`

	// Backend names the implementation that produced the verdict.
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded,omitempty"`
}

// Local reports whether the verdict came from local heuristics.
func (v AnalysisVerdict) Local() bool {
	return v.Backend == LocalBackend
}
