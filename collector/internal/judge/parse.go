package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// verdictDoc is the JSON document backends are asked to return. Narrative
// is accepted under either key.
type verdictDoc struct {
	Status            string   `json:"status"`
	Summary           string   `json:"summary"`
	Narrative         string   `json:"narrative"`
	TechnicalAnalysis string   `json:"technical_analysis"`
	Recommendations   []string `json:"recommendations"`
	Confidence        *float64 `json:"confidence"`
	ConfidenceScore   *float64 `json:"confidence_score"`
}

// ParseVerdict extracts a verdict from a backend reply. It strips markdown
// fences, then falls back to the outermost brace pair.
func ParseVerdict(content string) (types.AnalysisVerdict, error) {
	doc, err := decodeDoc(content)
	if err != nil {
		return types.AnalysisVerdict{}, err
	}

	narrative := doc.Narrative
	if narrative == "" {
		narrative = doc.TechnicalAnalysis
	}

	status, ok := types.ParseVerdictStatus(doc.Status)
	if !ok {
		status = inferStatus(doc.Status + " " + doc.Summary + " " + narrative)
	}

	conf := 0.0
	switch {
	case doc.Confidence != nil:
		conf = *doc.Confidence
	case doc.ConfidenceScore != nil:
		conf = *doc.ConfidenceScore
	}

	return types.AnalysisVerdict{
		Status:          status,
		Summary:         doc.Summary,
		Narrative:       narrative,
		Recommendations: doc.Recommendations,
		Confidence:      clamp(conf),
	}, nil
}

func decodeDoc(content string) (verdictDoc, error) {
	var doc verdictDoc

	cleaned := stripFences(content)
	if err := json.Unmarshal([]byte(cleaned), &doc); err == nil {
		return doc, nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return doc, errUnparseable
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", errUnparseable, err)
	}
	return doc, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func inferStatus(text string) types.VerdictStatus {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "critical"), strings.Contains(t, "crítico"), strings.Contains(t, "critico"):
		return types.VerdictCritical
	case strings.Contains(t, "healthy"), strings.Contains(t, "no issues"), strings.Contains(t, "sin problemas"):
		return types.VerdictHealthy
	}
	return types.VerdictWarning
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// DegradedVerdict is returned in place of a failed remote verdict.
func DegradedVerdict(backend, reason, raw string) types.AnalysisVerdict {
	narrative := "AI analysis could not be completed: " + reason
	if raw != "" {
		narrative += ". Raw output: " + truncate(raw, 200)
	}
	return types.AnalysisVerdict{
		Status:          types.VerdictWarning,
		Summary:         "AI analysis unavailable",
		Narrative:       narrative,
		Recommendations: []string{"Revisar configuración del backend de análisis"},
		Confidence:      0,
		Backend:         backend,
		Degraded:        true,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
