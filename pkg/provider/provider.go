// Package provider abstracts the three hosted source-control platforms
// behind one contract: event parsing into review targets, pull-context
// extraction, and a networked human-approval count with uniform
// retry/rate-limit behavior.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

// ExtractResult carries the targets found in an event plus the reasons
// any required payload object was missing.
type ExtractResult struct {
	Targets          []contracts.ReviewTarget
	MalformedReasons []string
}

// ApprovalOptions parameterize one approval fetch.
type ApprovalOptions struct {
	Token          string
	BaseURL        string // API root; empty selects the provider default
	FetchTimeoutMs int
	MaxPages       int
	Retry          policy.Retry
	AllowedAuthors []string
	HTTPClient     *http.Client
}

// ErrorKind classifies approval-fetch failures.
type ErrorKind string

// Approval error kinds.
const (
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindRateLimited    ErrorKind = "rate_limited"
	ErrKindRetryExhausted ErrorKind = "retry_exhausted"
	ErrKindFetchError     ErrorKind = "fetch_error"
	ErrKindHTTPError      ErrorKind = "http_error"
)

// AttemptLog is one diagnostic entry of the retry loop. Free text is
// truncated to the detail budget.
type AttemptLog struct {
	Attempt int    `json:"attempt"`
	Status  int    `json:"status,omitempty"`
	DelayMs int64  `json:"delayMs,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// ApprovalError is the classified failure of an approval fetch.
type ApprovalError struct {
	Kind     ErrorKind
	Message  string
	Attempts []AttemptLog
}

// Error implements error.
func (e *ApprovalError) Error() string {
	return fmt.Sprintf("approval fetch %s: %s", e.Kind, e.Message)
}

// Adapter is the uniform provider contract.
type Adapter interface {
	// Name returns the provider's stable name ("github", "gitlab", "bitbucket").
	Name() string

	// SupportedEvents is the closed set of event names this provider parses.
	SupportedEvents() []string

	// ExtractTargets parses the payload into review targets, honoring the
	// policy's scan toggles. Missing required objects are enumerated in
	// MalformedReasons rather than failing.
	ExtractTargets(eventName string, payload map[string]any, pol *policy.Policy) ExtractResult

	// ExtractPullContext locates the pull/merge request, or nil when the
	// event does not identify one.
	ExtractPullContext(eventName string, payload map[string]any) *contracts.PullContext

	// FetchHumanApprovalCount counts distinct non-bot, non-allowlisted
	// reviewers whose latest review approves the pull request. Failures are
	// returned as *ApprovalError.
	FetchHumanApprovalCount(ctx context.Context, pull contracts.PullContext, opts ApprovalOptions) (int, error)

	// ApprovalTokenEnvVar names the credential env var this provider consumes.
	ApprovalTokenEnvVar() string
}

// ForName resolves a provider by name.
func ForName(name string) (Adapter, error) {
	switch name {
	case "", "github":
		return &GitHub{}, nil
	case "gitlab":
		return &GitLab{}, nil
	case "bitbucket":
		return &Bitbucket{}, nil
	default:
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"unknown provider").WithDetail("provider", name)
	}
}

// Supports reports whether eventName is in the adapter's closed event set.
func Supports(a Adapter, eventName string) bool {
	for _, e := range a.SupportedEvents() {
		if e == eventName {
			return true
		}
	}
	return false
}

// classifyAuthor normalizes a login plus an optional explicit type into
// the target author fields. Logins ending in "[bot]" are promoted to Bot.
func classifyAuthor(login, explicitType string) (string, contracts.AuthorType) {
	t := contracts.AuthorUnknown
	switch explicitType {
	case "User", "user":
		t = contracts.AuthorUser
	case "Bot", "bot":
		t = contracts.AuthorBot
	}
	if len(login) > 5 && login[len(login)-5:] == "[bot]" {
		t = contracts.AuthorBot
	}
	return login, t
}

// str digs a string out of a generic JSON object.
func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// obj digs a nested object out of a generic JSON object.
func obj(parent map[string]any, key string) map[string]any {
	m, _ := parent[key].(map[string]any)
	return m
}

// num digs a numeric value out of a generic JSON object, flooring floats.
func num(parent map[string]any, key string) (int, bool) {
	switch v := parent[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
