// Package judge turns a forensic snapshot and its heuristic findings into an
// AnalysisVerdict.
//
// Backends are resolved by name:
//
//	none, heuristics   local verdict from findings only
//	deepseek, openai   OpenAI-compatible chat completions
//	gemini             Google generateContent
//	auto               first configured remote backend, heuristics on failure
//
// Remote backends never abort a cycle. A failed or unparseable call returns a
// degraded WARNING verdict together with an *AIBackendError.
package judge

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// Judge produces a verdict for one snapshot.
type Judge interface {
	Name() string
	Judge(ctx context.Context, snap *types.ForensicSnapshot, findings []types.Finding) (types.AnalysisVerdict, error)
}

// Recorder receives per-call counters. metrics.Registry implements it.
type Recorder interface {
	IncAIRequest(provider, outcome string)
	IncAIFallback(provider string)
}

// Request outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Backend names.
const (
	BackendNone       = "none"
	BackendHeuristics = types.LocalBackend
	BackendDeepSeek   = "deepseek"
	BackendOpenAI     = "openai"
	BackendGemini     = "gemini"
	BackendAuto       = "auto"
)

// BackendConfig configures one remote backend.
type BackendConfig struct {
	APIKey        string        `yaml:"api_key" toml:"api_key"`
	Endpoint      string        `yaml:"endpoint" toml:"endpoint"`
	Model         string        `yaml:"model" toml:"model"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
	MaxTokens     int           `yaml:"max_tokens" toml:"max_tokens"`
	RatePerMinute float64       `yaml:"rate_per_minute" toml:"rate_per_minute"`
}

// Configured reports whether the backend has a credential.
func (c BackendConfig) Configured() bool {
	return c.APIKey != ""
}

// Config selects and configures the analysis backend.
type Config struct {
	Backend   string        `yaml:"backend" toml:"backend"`
	AutoOrder []string      `yaml:"auto_order" toml:"auto_order"`
	DeepSeek  BackendConfig `yaml:"deepseek" toml:"deepseek"`
	OpenAI    BackendConfig `yaml:"openai" toml:"openai"`
	Gemini    BackendConfig `yaml:"gemini" toml:"gemini"`
}

// DefaultConfig returns the default analysis configuration.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendHeuristics,
		AutoOrder: []string{BackendDeepSeek, BackendOpenAI, BackendGemini},
		DeepSeek: BackendConfig{
			Endpoint:      "https://api.deepseek.com/v1/chat/completions",
			Model:         "deepseek-chat",
			Timeout:       30 * time.Second,
			MaxTokens:     1024,
			RatePerMinute: 30,
		},
		OpenAI: BackendConfig{
			Endpoint:      "https://api.openai.com/v1/chat/completions",
			Model:         "gpt-4o-mini",
			Timeout:       30 * time.Second,
			MaxTokens:     1024,
			RatePerMinute: 30,
		},
		Gemini: BackendConfig{
			Endpoint:      "https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent",
			Model:         "gemini-pro",
			Timeout:       30 * time.Second,
			MaxTokens:     1024,
			RatePerMinute: 30,
		},
	}
}

func (c Config) backend(name string) (BackendConfig, bool) {
	switch name {
	case BackendDeepSeek:
		return c.DeepSeek, true
	case BackendOpenAI:
		return c.OpenAI, true
	case BackendGemini:
		return c.Gemini, true
	}
	return BackendConfig{}, false
}

// =============================================================================
// REGISTRY
// =============================================================================

type factory func(name string, cfg BackendConfig, client *http.Client, rec Recorder, logger *slog.Logger) Judge

var remoteFactories = map[string]factory{
	BackendDeepSeek: newChatJudge,
	BackendOpenAI:   newChatJudge,
	BackendGemini:   newGeminiJudge,
}

// Known reports whether name is a valid backend.
func Known(name string) bool {
	switch name {
	case BackendNone, BackendHeuristics, BackendAuto:
		return true
	}
	_, ok := remoteFactories[name]
	return ok
}

// RemoteNames lists the remote backends, sorted.
func RemoteNames() []string {
	names := make([]string, 0, len(remoteFactories))
	for name := range remoteFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves cfg.Backend to a Judge. It never fails: an unknown name
// yields a judge that always returns a degraded verdict.
func Select(cfg Config, client *http.Client, rec Recorder, logger *slog.Logger) Judge {
	if client == nil {
		client = &http.Client{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}

	switch cfg.Backend {
	case BackendNone, BackendHeuristics, "":
		return NewHeuristic(rec)
	case BackendAuto:
		return newAutoJudge(cfg, client, rec, logger)
	}

	f, ok := remoteFactories[cfg.Backend]
	if !ok {
		logger.Warn("unknown analysis backend", "backend", cfg.Backend)
		return &unknownJudge{name: cfg.Backend, rec: rec}
	}
	bc, _ := cfg.backend(cfg.Backend)
	return f(cfg.Backend, bc, client, rec, logger)
}

type nopRecorder struct{}

func (nopRecorder) IncAIRequest(string, string) {}
func (nopRecorder) IncAIFallback(string)        {}

// unknownJudge stands in for a misconfigured backend name.
type unknownJudge struct {
	name string
	rec  Recorder
}

func (u *unknownJudge) Name() string { return u.name }

func (u *unknownJudge) Judge(context.Context, *types.ForensicSnapshot, []types.Finding) (types.AnalysisVerdict, error) {
	u.rec.IncAIRequest(u.name, OutcomeFailure)
	err := &AIBackendError{Backend: u.name, Op: "select", Err: errUnknownBackend}
	return DegradedVerdict(u.name, err.Error(), ""), err
}
