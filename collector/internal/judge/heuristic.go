package judge

import (
	"context"
	"fmt"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Heuristic builds verdicts from findings alone.
type Heuristic struct {
	rec Recorder
}

// NewHeuristic returns the local-only judge. A nil recorder counts nothing.
func NewHeuristic(rec Recorder) *Heuristic {
	return &Heuristic{rec: rec}
}

func (*Heuristic) Name() string { return BackendHeuristics }

func (h *Heuristic) Judge(_ context.Context, _ *types.ForensicSnapshot, findings []types.Finding) (types.AnalysisVerdict, error) {
	if h.rec != nil {
		h.rec.IncAIRequest(BackendHeuristics, OutcomeSuccess)
	}
	return HeuristicVerdict(findings), nil
}

// HeuristicVerdict derives a verdict from findings: CRITICAL when any
// finding is critical, WARNING when there are findings, HEALTHY otherwise.
func HeuristicVerdict(findings []types.Finding) types.AnalysisVerdict {
	v := types.AnalysisVerdict{
		Status:     types.VerdictHealthy,
		Summary:    "No anomalies detected by local heuristics.",
		Confidence: 1,
		Backend:    BackendHeuristics,
	}
	if len(findings) == 0 {
		return v
	}

	v.Status = types.VerdictWarning
	for _, f := range findings {
		if f.Critical {
			v.Status = types.VerdictCritical
		}
	}

	v.Summary = fmt.Sprintf("Local heuristics found %d issue(s).", len(findings))
	for i, d := range types.Descriptions(findings) {
		if i > 0 {
			v.Narrative += " "
		}
		v.Narrative += d
	}

	seen := map[types.FindingKind]bool{}
	for _, f := range findings {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		if r, ok := recommendations[f.Kind]; ok {
			v.Recommendations = append(v.Recommendations, r)
		}
	}
	return v
}

var recommendations = map[types.FindingKind]string{
	types.FindingPhysical:        "Inspeccionar cableado y conectores",
	types.FindingCongestion:      "Revisar colas y uso de ancho de banda",
	types.FindingPower:           "Verificar fuente de alimentación",
	types.FindingCPU:             "Revisar procesos y reglas que consumen CPU",
	types.FindingBruteForce:      "Restringir acceso de administración por IP",
	types.FindingLinkInstability: "Contactar al proveedor del enlace WAN",
}
