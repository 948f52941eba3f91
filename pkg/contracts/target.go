package contracts

// TargetSource identifies where a review target's text came from.
type TargetSource string

// Target sources.
const (
	SourcePRBody  TargetSource = "pr_body"
	SourceReview  TargetSource = "review"
	SourceComment TargetSource = "comment"
)

// AuthorType classifies the author of a review target.
type AuthorType string

// Author types.
const (
	AuthorUser    AuthorType = "User"
	AuthorBot     AuthorType = "Bot"
	AuthorUnknown AuthorType = "Unknown"
)

// ReviewTarget is one review-visible text artifact extracted from an event.
type ReviewTarget struct {
	Source      TargetSource `json:"source"`
	ReferenceID string       `json:"referenceId"`
	AuthorLogin string       `json:"authorLogin"`
	AuthorType  AuthorType   `json:"authorType"`
	Body        string       `json:"body"`
}

// PullContext locates the pull/merge request behind an event.
type PullContext struct {
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	PullNumber int    `json:"pullNumber"`
}
