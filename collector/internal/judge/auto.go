package judge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// autoJudge uses the first remote backend in AutoOrder that has a
// credential. Any failure falls back to the heuristic verdict. Fallback
// verdicts are counted as fallbacks, not as heuristic requests.
type autoJudge struct {
	primary  Judge
	local    *Heuristic
	fallback *Heuristic
	rec      Recorder
	logger   *slog.Logger
}

func newAutoJudge(cfg Config, client *http.Client, rec Recorder, logger *slog.Logger) *autoJudge {
	a := &autoJudge{
		local:    NewHeuristic(rec),
		fallback: NewHeuristic(nil),
		rec:      rec,
		logger:   logger.With("component", "judge", "backend", BackendAuto),
	}

	for _, name := range cfg.AutoOrder {
		bc, ok := cfg.backend(name)
		f, known := remoteFactories[name]
		if !ok || !known || !bc.Configured() {
			continue
		}
		a.primary = f(name, bc, client, rec, logger)
		break
	}

	if a.primary == nil {
		a.logger.Info("no remote backend configured, using heuristics")
	} else {
		a.logger.Info("auto selected backend", "selected", a.primary.Name())
	}
	return a
}

func (a *autoJudge) Name() string {
	if a.primary == nil {
		return BackendAuto + "(" + BackendHeuristics + ")"
	}
	return BackendAuto + "(" + a.primary.Name() + ")"
}

func (a *autoJudge) Judge(ctx context.Context, snap *types.ForensicSnapshot, findings []types.Finding) (types.AnalysisVerdict, error) {
	if a.primary == nil {
		return a.local.Judge(ctx, snap, findings)
	}

	v, err := a.primary.Judge(ctx, snap, findings)
	if err == nil {
		return v, nil
	}

	a.rec.IncAIFallback(a.primary.Name())
	a.logger.Warn("falling back to heuristics",
		"device_id", snap.DeviceID,
		"error", err)
	return a.fallback.Judge(ctx, snap, findings)
}
