package heuristics

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"

	"github.com/pilot-net/routerwatch/pkg/types"
)

//go:embed rules
var embeddedRules embed.FS

// Rule IDs the analyzer counts.
const (
	RuleAuthFailure   = "rw-auth-failure"
	RuleLinkReconnect = "rw-link-reconnect"
)

// LogCategory is the logsource category of rules that apply to device logs.
const LogCategory = "router_log"

// LogClassifier tags log records with the IDs of the Sigma rules they match.
type LogClassifier struct {
	rules []evaluator.RuleEvaluator
}

// NewDefaultLogClassifier loads the embedded rules.
func NewDefaultLogClassifier() (*LogClassifier, error) {
	sub, err := fs.Sub(embeddedRules, "rules")
	if err != nil {
		return nil, err
	}
	return NewLogClassifier(sub)
}

// NewLogClassifier parses every .yml/.yaml file in rulesFS.
func NewLogClassifier(rulesFS fs.FS) (*LogClassifier, error) {
	var rules []evaluator.RuleEvaluator

	err := fs.WalkDir(rulesFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		data, err := fs.ReadFile(rulesFS, path)
		if err != nil {
			return err
		}
		rule, err := sigmalib.ParseRule(data)
		if err != nil {
			return fmt.Errorf("parsing rule %s: %w", path, err)
		}
		rules = append(rules, *evaluator.ForRule(rule))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &LogClassifier{rules: rules}, nil
}

// Classify returns the IDs of the rules matching rec. Matching is pure
// in-memory evaluation.
func (c *LogClassifier) Classify(rec types.RawRecord) []string {
	event := map[string]interface{}{
		"message": strings.ToLower(rec.Get("message", "msg")),
		"topics":  strings.ToLower(rec["topics"]),
	}

	var ids []string
	for _, ev := range c.rules {
		if cat := ev.Rule.Logsource.Category; cat != "" && cat != LogCategory {
			continue
		}
		res, err := ev.Matches(context.Background(), event)
		if err != nil || !res.Match {
			continue
		}
		ids = append(ids, ev.Rule.ID)
	}
	return ids
}
