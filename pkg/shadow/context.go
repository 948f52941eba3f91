// Package shadow implements the seven-domain risk engine: probe-based
// domain evaluators over a shared corpus, risk-ranked coverage selection,
// threshold findings, stage mapping, and exception filtering.
package shadow

import (
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// EvaluationContext is the shared input of all domain evaluators.
type EvaluationContext struct {
	Payload       map[string]any
	Targets       []contracts.ReviewTarget
	GuardFindings []contracts.GuardFinding

	// Corpus concatenates target bodies and the event's review-visible
	// text, newline-joined. Probes match against the lowercased form.
	Corpus      string
	corpusLower string

	ChangedFiles int
	LinesChanged int
}

// BuildContext assembles the evaluation context from the event payload,
// the extracted targets, and the guard stage output.
func BuildContext(payload map[string]any, targets []contracts.ReviewTarget, guardFindings []contracts.GuardFinding) *EvaluationContext {
	var parts []string
	for _, t := range targets {
		if t.Body != "" {
			parts = append(parts, t.Body)
		}
	}

	pr, _ := payload["pull_request"].(map[string]any)
	for _, key := range []string{"title", "body"} {
		if s, _ := pr[key].(string); s != "" {
			parts = append(parts, s)
		}
	}
	if review, _ := payload["review"].(map[string]any); review != nil {
		if s, _ := review["body"].(string); s != "" {
			parts = append(parts, s)
		}
	}
	if comment, _ := payload["comment"].(map[string]any); comment != nil {
		if s, _ := comment["body"].(string); s != "" {
			parts = append(parts, s)
		}
	}

	corpus := strings.Join(parts, "\n")
	return &EvaluationContext{
		Payload:       payload,
		Targets:       targets,
		GuardFindings: guardFindings,
		Corpus:        corpus,
		corpusLower:   strings.ToLower(corpus),
		ChangedFiles:  nonNegativeInt(pr, "changed_files"),
		LinesChanged:  nonNegativeInt(pr, "additions") + nonNegativeInt(pr, "deletions"),
	}
}

func nonNegativeInt(obj map[string]any, key string) int {
	var n int
	switch v := obj[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	}
	if n < 0 {
		return 0
	}
	return n
}

// guardCount counts guard findings matching the predicate.
func (c *EvaluationContext) guardCount(match func(contracts.GuardFinding) bool) int {
	n := 0
	for _, f := range c.GuardFindings {
		if match(f) {
			n++
		}
	}
	return n
}

// hasGuard reports whether any guard finding carries the code.
func (c *EvaluationContext) hasGuard(code string) bool {
	for _, f := range c.GuardFindings {
		if f.Code == code {
			return true
		}
	}
	return false
}
