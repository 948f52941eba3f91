package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

const gitlabDefaultBaseURL = "https://gitlab.com/api/v4"

// GitLab parses GitLab-style webhook events. Group namespaces may be
// multi-segment, so the repo is the final path segment and the owner is
// everything before it.
type GitLab struct{}

// Name implements Adapter.
func (g *GitLab) Name() string { return "gitlab" }

// SupportedEvents implements Adapter.
func (g *GitLab) SupportedEvents() []string {
	return []string{"Merge Request Hook", "Note Hook"}
}

// ApprovalTokenEnvVar implements Adapter.
func (g *GitLab) ApprovalTokenEnvVar() string { return "GITLAB_TOKEN" }

// ExtractTargets implements Adapter. MR hooks contribute the merge-request
// description; note hooks contribute the note body.
func (g *GitLab) ExtractTargets(eventName string, payload map[string]any, pol *policy.Policy) ExtractResult {
	var res ExtractResult

	project := obj(payload, "project")
	if str(project, "path_with_namespace") == "" {
		res.MalformedReasons = append(res.MalformedReasons, "missing project.path_with_namespace")
	}

	attrs := obj(payload, "object_attributes")
	if attrs == nil {
		res.MalformedReasons = append(res.MalformedReasons, "missing object_attributes")
		return res
	}
	user := obj(payload, "user")
	login, authorType := classifyAuthor(str(user, "username"), "")
	if user != nil && authorType == contracts.AuthorUnknown {
		authorType = contracts.AuthorUser
		if isBot, _ := user["bot"].(bool); isBot {
			authorType = contracts.AuthorBot
		}
	}

	switch eventName {
	case "Merge Request Hook":
		if pol.Scan.PullRequestBody {
			iid, _ := num(attrs, "iid")
			res.Targets = append(res.Targets, contracts.ReviewTarget{
				Source:      contracts.SourcePRBody,
				ReferenceID: fmt.Sprintf("mr:%d", iid),
				AuthorLogin: login,
				AuthorType:  authorType,
				Body:        str(attrs, "description"),
			})
		}
	case "Note Hook":
		if pol.Scan.ReviewComments {
			id, _ := num(attrs, "id")
			res.Targets = append(res.Targets, contracts.ReviewTarget{
				Source:      contracts.SourceComment,
				ReferenceID: fmt.Sprintf("note:%d", id),
				AuthorLogin: login,
				AuthorType:  authorType,
				Body:        str(attrs, "note"),
			})
		}
	}
	return res
}

// ExtractPullContext implements Adapter. Note hooks identify the merge
// request through noteable_iid or the embedded merge_request, and only
// when the note is attached to one.
func (g *GitLab) ExtractPullContext(eventName string, payload map[string]any) *contracts.PullContext {
	pathWithNamespace := str(obj(payload, "project"), "path_with_namespace")
	slash := strings.LastIndex(pathWithNamespace, "/")
	if slash <= 0 || slash == len(pathWithNamespace)-1 {
		return nil
	}
	owner, repo := pathWithNamespace[:slash], pathWithNamespace[slash+1:]

	attrs := obj(payload, "object_attributes")
	if attrs == nil {
		return nil
	}

	switch eventName {
	case "Merge Request Hook":
		if iid, ok := num(attrs, "iid"); ok {
			return &contracts.PullContext{Owner: owner, Repo: repo, PullNumber: iid}
		}
	case "Note Hook":
		if str(attrs, "noteable_type") != "MergeRequest" {
			return nil
		}
		if iid, ok := num(attrs, "noteable_iid"); ok {
			return &contracts.PullContext{Owner: owner, Repo: repo, PullNumber: iid}
		}
		if iid, ok := num(obj(payload, "merge_request"), "iid"); ok {
			return &contracts.PullContext{Owner: owner, Repo: repo, PullNumber: iid}
		}
	}
	return nil
}

// FetchHumanApprovalCount implements Adapter. The approvals resource
// answers either a bare array of approvers or {approved_by: [...]}.
func (g *GitLab) FetchHumanApprovalCount(ctx context.Context, pull contracts.PullContext, opts ApprovalOptions) (int, error) {
	base := opts.BaseURL
	if base == "" {
		base = gitlabDefaultBaseURL
	}
	headers := map[string]string{}
	if opts.Token != "" {
		headers["PRIVATE-TOKEN"] = opts.Token
	}

	projectID := url.PathEscape(pull.Owner + "/" + pull.Repo)
	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests/%d/approvals", base, projectID, pull.PullNumber)

	client := newFetchClient(g.Name(), opts)
	var raw any
	if ferr := client.getJSON(ctx, endpoint, headers, &raw); ferr != nil {
		return 0, ferr
	}

	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		entries, _ = v["approved_by"].([]any)
	}

	seen := map[string]bool{}
	for _, entry := range entries {
		item, _ := entry.(map[string]any)
		user := obj(item, "user")
		if user == nil {
			user = item
		}
		login := policy.NormalizeLogin(str(user, "username"))
		if login == "" {
			continue
		}
		if isBot, _ := user["bot"].(bool); isBot {
			continue
		}
		if strings.HasSuffix(login, "[bot]") {
			continue
		}
		if policy.ContainsLogin(opts.AllowedAuthors, login) {
			continue
		}
		seen[login] = true
	}
	return len(seen), nil
}

var _ Adapter = (*GitLab)(nil)
