package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

const bitbucketDefaultBaseURL = "https://api.bitbucket.org/2.0"

// Bitbucket parses Bitbucket Cloud-style webhook events.
type Bitbucket struct{}

// Name implements Adapter.
func (b *Bitbucket) Name() string { return "bitbucket" }

// SupportedEvents implements Adapter.
func (b *Bitbucket) SupportedEvents() []string {
	return []string{
		"pullrequest:created",
		"pullrequest:updated",
		"pullrequest:comment_created",
		"pullrequest:comment_updated",
	}
}

// ApprovalTokenEnvVar implements Adapter.
func (b *Bitbucket) ApprovalTokenEnvVar() string { return "BITBUCKET_TOKEN" }

// bitbucketLogin resolves an account object to a login, preferring the
// stable handles over the display name.
func bitbucketLogin(user map[string]any) string {
	for _, key := range []string{"nickname", "username", "display_name", "account_id"} {
		if v := str(user, key); v != "" {
			return v
		}
	}
	return ""
}

func bitbucketAuthor(user map[string]any) (string, contracts.AuthorType) {
	login := bitbucketLogin(user)
	accountType := str(user, "type")
	switch accountType {
	case "user":
		accountType = "User"
	case "app", "bot":
		accountType = "Bot"
	default:
		accountType = ""
	}
	return classifyAuthor(login, accountType)
}

// ExtractTargets implements Adapter. PR events contribute the pull-request
// description; comment events contribute comment.content.raw.
func (b *Bitbucket) ExtractTargets(eventName string, payload map[string]any, pol *policy.Policy) ExtractResult {
	var res ExtractResult

	repo := obj(payload, "repository")
	if str(repo, "full_name") == "" {
		res.MalformedReasons = append(res.MalformedReasons, "missing repository.full_name")
	}

	pr := obj(payload, "pullrequest")
	if pr == nil {
		res.MalformedReasons = append(res.MalformedReasons, "missing pullrequest")
	}

	isComment := strings.HasPrefix(eventName, "pullrequest:comment_")
	if isComment {
		comment := obj(payload, "comment")
		if comment == nil {
			res.MalformedReasons = append(res.MalformedReasons, "missing comment")
		} else if pol.Scan.ReviewComments {
			id, _ := num(comment, "id")
			login, authorType := bitbucketAuthor(obj(comment, "user"))
			res.Targets = append(res.Targets, contracts.ReviewTarget{
				Source:      contracts.SourceComment,
				ReferenceID: fmt.Sprintf("comment:%d", id),
				AuthorLogin: login,
				AuthorType:  authorType,
				Body:        str(obj(comment, "content"), "raw"),
			})
		}
		return res
	}

	if pr != nil && pol.Scan.PullRequestBody {
		id, _ := num(pr, "id")
		login, authorType := bitbucketAuthor(obj(pr, "author"))
		res.Targets = append(res.Targets, contracts.ReviewTarget{
			Source:      contracts.SourcePRBody,
			ReferenceID: fmt.Sprintf("pr:%d", id),
			AuthorLogin: login,
			AuthorType:  authorType,
			Body:        str(pr, "description"),
		})
	}
	return res
}

// ExtractPullContext implements Adapter.
func (b *Bitbucket) ExtractPullContext(eventName string, payload map[string]any) *contracts.PullContext {
	fullName := str(obj(payload, "repository"), "full_name")
	owner, repo, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return nil
	}
	if id, found := num(obj(payload, "pullrequest"), "id"); found {
		return &contracts.PullContext{Owner: owner, Repo: repo, PullNumber: id}
	}
	return nil
}

// FetchHumanApprovalCount implements Adapter. The pull-request resource
// embeds participants; those with approved == true count once per
// normalized login.
func (b *Bitbucket) FetchHumanApprovalCount(ctx context.Context, pull contracts.PullContext, opts ApprovalOptions) (int, error) {
	base := opts.BaseURL
	if base == "" {
		base = bitbucketDefaultBaseURL
	}
	headers := map[string]string{}
	if opts.Token != "" {
		headers["Authorization"] = "Bearer " + opts.Token
	}

	endpoint := fmt.Sprintf("%s/repositories/%s/%s/pullrequests/%d", base, pull.Owner, pull.Repo, pull.PullNumber)

	client := newFetchClient(b.Name(), opts)
	var resource map[string]any
	if ferr := client.getJSON(ctx, endpoint, headers, &resource); ferr != nil {
		return 0, ferr
	}

	participants, _ := resource["participants"].([]any)
	seen := map[string]bool{}
	for _, entry := range participants {
		item, _ := entry.(map[string]any)
		approved, _ := item["approved"].(bool)
		if !approved {
			continue
		}
		login, authorType := bitbucketAuthor(obj(item, "user"))
		normalized := policy.NormalizeLogin(login)
		if normalized == "" || authorType == contracts.AuthorBot {
			continue
		}
		if policy.ContainsLogin(opts.AllowedAuthors, normalized) {
			continue
		}
		seen[normalized] = true
	}
	return len(seen), nil
}

var _ Adapter = (*Bitbucket)(nil)
