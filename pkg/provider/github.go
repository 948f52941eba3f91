package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

const githubDefaultBaseURL = "https://api.github.com"

const githubReviewsPerPage = 100

// GitHub parses GitHub-style webhook events.
type GitHub struct{}

// Name implements Adapter.
func (g *GitHub) Name() string { return "github" }

// SupportedEvents implements Adapter.
func (g *GitHub) SupportedEvents() []string {
	return []string{"pull_request", "pull_request_review", "pull_request_review_comment", "issue_comment"}
}

// ApprovalTokenEnvVar implements Adapter.
func (g *GitHub) ApprovalTokenEnvVar() string { return "GITHUB_TOKEN" }

// ExtractTargets implements Adapter. Any source object present in the
// payload contributes a target when its scan toggle permits; objects the
// event type requires are reported as malformed reasons when absent.
func (g *GitHub) ExtractTargets(eventName string, payload map[string]any, pol *policy.Policy) ExtractResult {
	var res ExtractResult

	repo := obj(payload, "repository")
	if str(repo, "full_name") == "" {
		res.MalformedReasons = append(res.MalformedReasons, "missing repository.full_name")
	}

	pr := obj(payload, "pull_request")
	review := obj(payload, "review")
	comment := obj(payload, "comment")
	issue := obj(payload, "issue")

	switch eventName {
	case "pull_request":
		if pr == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing pull_request")
		}
	case "pull_request_review":
		if review == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing review")
		}
	case "pull_request_review_comment":
		if comment == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing comment")
		}
	case "issue_comment":
		if comment == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing comment")
		}
		if issue == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing issue")
		} else if obj(issue, "pull_request") == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing issue.pull_request")
		}
	}

	if pr != nil && pol.Scan.PullRequestBody {
		number, _ := num(pr, "number")
		res.Targets = append(res.Targets, githubTarget(contracts.SourcePRBody,
			fmt.Sprintf("pr:%d", number), obj(pr, "user"), str(pr, "body")))
	}
	if review != nil && pol.Scan.Reviews {
		id, _ := num(review, "id")
		res.Targets = append(res.Targets, githubTarget(contracts.SourceReview,
			fmt.Sprintf("review:%d", id), obj(review, "user"), str(review, "body")))
	}
	if comment != nil {
		scan := pol.Scan.ReviewComments
		if eventName == "issue_comment" {
			scan = pol.Scan.IssueComments
		}
		if scan {
			id, _ := num(comment, "id")
			res.Targets = append(res.Targets, githubTarget(contracts.SourceComment,
				fmt.Sprintf("comment:%d", id), obj(comment, "user"), str(comment, "body")))
		}
	}
	return res
}

func githubTarget(source contracts.TargetSource, ref string, user map[string]any, body string) contracts.ReviewTarget {
	login, authorType := classifyAuthor(str(user, "login"), str(user, "type"))
	return contracts.ReviewTarget{
		Source:      source,
		ReferenceID: ref,
		AuthorLogin: login,
		AuthorType:  authorType,
		Body:        body,
	}
}

// ExtractPullContext implements Adapter.
func (g *GitHub) ExtractPullContext(eventName string, payload map[string]any) *contracts.PullContext {
	fullName := str(obj(payload, "repository"), "full_name")
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return nil
	}

	if pr := obj(payload, "pull_request"); pr != nil {
		if number, found := num(pr, "number"); found {
			return &contracts.PullContext{Owner: owner, Repo: repo, PullNumber: number}
		}
	}
	if eventName == "issue_comment" {
		issue := obj(payload, "issue")
		if issue != nil && obj(issue, "pull_request") != nil {
			if number, found := num(issue, "number"); found {
				return &contracts.PullContext{Owner: owner, Repo: repo, PullNumber: number}
			}
		}
	}
	return nil
}

// FetchHumanApprovalCount implements Adapter. Reviews are walked in page
// order so a reviewer's latest state wins; only distinct non-bot,
// non-allowlisted logins whose latest state is APPROVED count.
func (g *GitHub) FetchHumanApprovalCount(ctx context.Context, pull contracts.PullContext, opts ApprovalOptions) (int, error) {
	base := opts.BaseURL
	if base == "" {
		base = githubDefaultBaseURL
	}
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if opts.Token != "" {
		headers["Authorization"] = "Bearer " + opts.Token
	}

	client := newFetchClient(g.Name(), opts)
	reviews, ferr := client.getJSONPages(ctx, func(page, perPage int) string {
		return fmt.Sprintf("%s/repos/%s/%s/pulls/%d/reviews?per_page=%d&page=%d",
			base, pull.Owner, pull.Repo, pull.PullNumber, perPage, page)
	}, headers, githubReviewsPerPage)
	if ferr != nil {
		return 0, ferr
	}

	latestState := map[string]string{}
	latestType := map[string]contracts.AuthorType{}
	for _, review := range reviews {
		user := obj(review, "user")
		login, authorType := classifyAuthor(str(user, "login"), str(user, "type"))
		normalized := policy.NormalizeLogin(login)
		if normalized == "" {
			continue
		}
		latestState[normalized] = str(review, "state")
		latestType[normalized] = authorType
	}

	count := 0
	for login, state := range latestState {
		if state != "APPROVED" {
			continue
		}
		if latestType[login] == contracts.AuthorBot {
			continue
		}
		if policy.ContainsLogin(opts.AllowedAuthors, login) {
			continue
		}
		count++
	}
	return count, nil
}

var _ Adapter = (*GitHub)(nil)
