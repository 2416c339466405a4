package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// SystemPrompt instructs remote backends on the reply format.
const SystemPrompt = `You are a senior network engineer auditing a MikroTik RouterOS device.
You receive a forensic snapshot as JSON: device context, health sensors, interface counters,
wireless clients, layer 3 state, firewall drops, recent log lines and local heuristic findings.

Reply with ONLY a JSON object:
{"status": "CRITICAL" | "WARNING" | "HEALTHY",
 "summary": "one sentence",
 "technical_analysis": "root cause analysis",
 "recommendations": ["action", ...],
 "confidence_score": 0.0-1.0}`

// maxPayloadLogs bounds the log lines sent to a backend.
const maxPayloadLogs = 50

type payload struct {
	Device     string                 `json:"device"`
	Context    types.DeviceContext    `json:"context"`
	Health     types.Health           `json:"health"`
	Interfaces []types.InterfaceStats `json:"interfaces"`
	Wireless   []types.WirelessClient `json:"wireless,omitempty"`
	Layer3     types.Layer3           `json:"layer3"`
	Security   types.Security         `json:"security"`
	Logs       []string               `json:"logs"`
	Heuristics []string               `json:"heuristics"`
	Missing    []string               `json:"missing_sections,omitempty"`
}

// RenderPayload serializes a snapshot into the backend-agnostic prompt body.
func RenderPayload(snap *types.ForensicSnapshot, findings []types.Finding) (string, error) {
	p := payload{
		Device:     snap.Context.Identity,
		Context:    snap.Context,
		Health:     snap.Health,
		Interfaces: snap.Interfaces,
		Wireless:   snap.Wireless,
		Layer3:     snap.Layer3,
		Security:   snap.Security,
		Heuristics: types.Descriptions(findings),
		Missing:    snap.Partial,
	}

	logs := snap.Logs
	if len(logs) > maxPayloadLogs {
		logs = logs[len(logs)-maxPayloadLogs:]
	}
	for _, rec := range logs {
		line := rec.Get("message", "msg")
		if t := rec["time"]; t != "" {
			line = t + " " + line
		}
		if topics := rec["topics"]; topics != "" {
			line = "[" + topics + "] " + line
		}
		p.Logs = append(p.Logs, line)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return "Analyze this MikroTik forensic data:\n" + string(data), nil
}

// callFunc performs one backend round trip and returns the reply text.
type callFunc func(ctx context.Context, system, user string) (string, error)

// remoteJudge wraps a backend call with rate limiting, a timeout, reply
// parsing and counters.
type remoteJudge struct {
	name    string
	cfg     BackendConfig
	call    callFunc
	limiter *rate.Limiter
	rec     Recorder
	logger  *slog.Logger
}

func newRemoteJudge(name string, cfg BackendConfig, call callFunc, rec Recorder, logger *slog.Logger) *remoteJudge {
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
	}
	return &remoteJudge{
		name:    name,
		cfg:     cfg,
		call:    call,
		limiter: rate.NewLimiter(limit, 1),
		rec:     rec,
		logger:  logger.With("component", "judge", "backend", name),
	}
}

func (r *remoteJudge) Name() string { return r.name }

func (r *remoteJudge) Judge(ctx context.Context, snap *types.ForensicSnapshot, findings []types.Finding) (types.AnalysisVerdict, error) {
	if !r.cfg.Configured() {
		return r.fail("request", errNotConfigured, "")
	}

	user, err := RenderPayload(snap, findings)
	if err != nil {
		return r.fail("request", err, "")
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return r.fail("request", err, "")
	}

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	content, err := r.call(callCtx, SystemPrompt, user)
	if err != nil {
		return r.fail("request", err, "")
	}

	v, err := ParseVerdict(content)
	if err != nil {
		return r.fail("parse", err, content)
	}
	v.Backend = r.name

	r.rec.IncAIRequest(r.name, OutcomeSuccess)
	r.logger.Debug("analysis completed",
		"device_id", snap.DeviceID,
		"status", v.Status,
		"duration_ms", time.Since(start).Milliseconds())
	return v, nil
}

func (r *remoteJudge) fail(op string, err error, raw string) (types.AnalysisVerdict, error) {
	r.rec.IncAIRequest(r.name, OutcomeFailure)
	aerr := &AIBackendError{Backend: r.name, Op: op, Err: err}
	r.logger.Warn("analysis backend failed", "op", op, "error", err)
	return DegradedVerdict(r.name, aerr.Error(), raw), aerr
}

// postJSON sends body and decodes a 200 reply into out.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
