package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

func scanAllPolicy() *policy.Policy {
	pol := policy.Defaults(2)
	pol.Scan = policy.ScanToggles{
		PullRequestBody: true,
		Reviews:         true,
		ReviewComments:  true,
		IssueComments:   true,
	}
	return pol
}

func payload(t *testing.T, doc string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return v
}

func TestForName(t *testing.T) {
	for name, want := range map[string]string{
		"":          "github",
		"github":    "github",
		"gitlab":    "gitlab",
		"bitbucket": "bitbucket",
	} {
		a, err := ForName(name)
		require.NoError(t, err)
		assert.Equal(t, want, a.Name())
	}

	_, err := ForName("gitea")
	assert.Error(t, err)
}

func TestGitHubExtractTargets(t *testing.T) {
	gh := &GitHub{}
	ev := payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "pull_request": {"number": 42, "body": "pr body", "user": {"login": "alice", "type": "User"}},
	  "review": {"id": 9, "body": "review body", "user": {"login": "renovate[bot]", "type": "Bot"}}
	}`)

	res := gh.ExtractTargets("pull_request_review", ev, scanAllPolicy())
	require.Empty(t, res.MalformedReasons)
	require.Len(t, res.Targets, 2)

	assert.Equal(t, contracts.SourcePRBody, res.Targets[0].Source)
	assert.Equal(t, "pr:42", res.Targets[0].ReferenceID)
	assert.Equal(t, contracts.AuthorUser, res.Targets[0].AuthorType)

	assert.Equal(t, contracts.SourceReview, res.Targets[1].Source)
	assert.Equal(t, "review:9", res.Targets[1].ReferenceID)
	assert.Equal(t, contracts.AuthorBot, res.Targets[1].AuthorType)
}

func TestGitHubExtractTargetsScanTogglesOff(t *testing.T) {
	gh := &GitHub{}
	pol := policy.Defaults(2)
	pol.Scan = policy.ScanToggles{}

	ev := payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "pull_request": {"number": 1, "body": "b", "user": {"login": "alice"}}
	}`)
	res := gh.ExtractTargets("pull_request", ev, pol)
	assert.Empty(t, res.Targets)
	assert.Empty(t, res.MalformedReasons)
}

func TestGitHubMalformedReasons(t *testing.T) {
	gh := &GitHub{}
	res := gh.ExtractTargets("issue_comment", payload(t, `{"issue": {"number": 3}}`), scanAllPolicy())
	assert.ElementsMatch(t, []string{
		"missing repository.full_name",
		"missing comment",
		"missing issue.pull_request",
	}, res.MalformedReasons)
}

func TestGitHubBotLoginPromotion(t *testing.T) {
	login, typ := classifyAuthor("dependabot[bot]", "User")
	assert.Equal(t, "dependabot[bot]", login)
	assert.Equal(t, contracts.AuthorBot, typ)

	_, typ = classifyAuthor("alice", "")
	assert.Equal(t, contracts.AuthorUnknown, typ)
}

func TestGitHubExtractPullContext(t *testing.T) {
	gh := &GitHub{}

	ctx := gh.ExtractPullContext("pull_request", payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "pull_request": {"number": 42}
	}`))
	require.NotNil(t, ctx)
	assert.Equal(t, contracts.PullContext{Owner: "acme", Repo: "widgets", PullNumber: 42}, *ctx)

	ctx = gh.ExtractPullContext("issue_comment", payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "issue": {"number": 7, "pull_request": {"url": "x"}}
	}`))
	require.NotNil(t, ctx)
	assert.Equal(t, 7, ctx.PullNumber)

	assert.Nil(t, gh.ExtractPullContext("issue_comment", payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "issue": {"number": 7}
	}`)))
}

func TestGitHubApprovalCountLatestStateWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[
		  {"state": "APPROVED", "user": {"login": "Alice", "type": "User"}},
		  {"state": "APPROVED", "user": {"login": "bob", "type": "User"}},
		  {"state": "CHANGES_REQUESTED", "user": {"login": "alice", "type": "User"}},
		  {"state": "APPROVED", "user": {"login": "ci[bot]", "type": "Bot"}},
		  {"state": "APPROVED", "user": {"login": "trusted", "type": "User"}}
		]`)
	}))
	defer srv.Close()

	gh := &GitHub{}
	count, err := gh.FetchHumanApprovalCount(context.Background(),
		contracts.PullContext{Owner: "acme", Repo: "widgets", PullNumber: 42},
		ApprovalOptions{
			Token:          "tok",
			BaseURL:        srv.URL,
			MaxPages:       2,
			AllowedAuthors: []string{"Trusted"},
		})
	require.NoError(t, err)
	// alice's latest review revokes; the bot and the allowlisted reviewer
	// are excluded; only bob counts.
	assert.Equal(t, 1, count)
}

func TestGitHubApprovalCountRateLimitThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[{"state": "APPROVED", "user": {"login": "reviewer-ok", "type": "User"}}]`)
	}))
	defer srv.Close()

	gh := &GitHub{}
	count, err := gh.FetchHumanApprovalCount(context.Background(),
		contracts.PullContext{Owner: "acme", Repo: "widgets", PullNumber: 42},
		ApprovalOptions{BaseURL: srv.URL, MaxPages: 2, Retry: fastRetry(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGitHubApprovalCountClassifiesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gh := &GitHub{}
	_, err := gh.FetchHumanApprovalCount(context.Background(),
		contracts.PullContext{Owner: "a", Repo: "b", PullNumber: 1},
		ApprovalOptions{BaseURL: srv.URL, MaxPages: 1})
	ae := approvalErr(t, err)
	assert.Equal(t, ErrKindHTTPError, ae.Kind)
}

func TestGitLabExtractTargets(t *testing.T) {
	gl := &GitLab{}
	ev := payload(t, `{
	  "project": {"path_with_namespace": "group/subgroup/app"},
	  "user": {"username": "carol"},
	  "object_attributes": {"iid": 5, "description": "mr description"}
	}`)

	res := gl.ExtractTargets("Merge Request Hook", ev, scanAllPolicy())
	require.Empty(t, res.MalformedReasons)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, contracts.SourcePRBody, res.Targets[0].Source)
	assert.Equal(t, "mr:5", res.Targets[0].ReferenceID)
	assert.Equal(t, "carol", res.Targets[0].AuthorLogin)
	assert.Equal(t, contracts.AuthorUser, res.Targets[0].AuthorType)
}

func TestGitLabNoteHookTargetAndContext(t *testing.T) {
	gl := &GitLab{}
	ev := payload(t, `{
	  "project": {"path_with_namespace": "group/subgroup/app"},
	  "user": {"username": "carol"},
	  "object_attributes": {"id": 88, "note": "lgtm", "noteable_type": "MergeRequest", "noteable_iid": 5}
	}`)

	res := gl.ExtractTargets("Note Hook", ev, scanAllPolicy())
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "note:88", res.Targets[0].ReferenceID)

	ctx := gl.ExtractPullContext("Note Hook", ev)
	require.NotNil(t, ctx)
	assert.Equal(t, "group/subgroup", ctx.Owner)
	assert.Equal(t, "app", ctx.Repo)
	assert.Equal(t, 5, ctx.PullNumber)
}

func TestGitLabNoteHookNonMergeRequestHasNoContext(t *testing.T) {
	gl := &GitLab{}
	ev := payload(t, `{
	  "project": {"path_with_namespace": "group/app"},
	  "object_attributes": {"id": 1, "note": "n", "noteable_type": "Issue", "noteable_iid": 4}
	}`)
	assert.Nil(t, gl.ExtractPullContext("Note Hook", ev))
}

func TestGitLabNoteHookFallsBackToEmbeddedMergeRequest(t *testing.T) {
	gl := &GitLab{}
	ev := payload(t, `{
	  "project": {"path_with_namespace": "group/app"},
	  "object_attributes": {"id": 1, "note": "n", "noteable_type": "MergeRequest"},
	  "merge_request": {"iid": 12}
	}`)
	ctx := gl.ExtractPullContext("Note Hook", ev)
	require.NotNil(t, ctx)
	assert.Equal(t, 12, ctx.PullNumber)
}

func TestGitLabApprovalCountObjectForm(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotToken = r.Header.Get("PRIVATE-TOKEN")
		fmt.Fprint(w, `{"approved_by": [
		  {"user": {"username": "Dana"}},
		  {"user": {"username": "dana"}},
		  {"user": {"username": "svc", "bot": true}},
		  {"user": {"username": "trusted"}}
		]}`)
	}))
	defer srv.Close()

	gl := &GitLab{}
	count, err := gl.FetchHumanApprovalCount(context.Background(),
		contracts.PullContext{Owner: "group/subgroup", Repo: "app", PullNumber: 5},
		ApprovalOptions{Token: "glpat", BaseURL: srv.URL, AllowedAuthors: []string{"trusted"}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "glpat", gotToken)
	assert.Contains(t, gotPath, "/projects/group%2Fsubgroup%2Fapp/merge_requests/5/approvals")
}

func TestGitLabApprovalCountArrayForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"user": {"username": "eve"}}, {"username": "frank"}]`)
	}))
	defer srv.Close()

	gl := &GitLab{}
	count, err := gl.FetchHumanApprovalCount(context.Background(),
		contracts.PullContext{Owner: "g", Repo: "app", PullNumber: 1},
		ApprovalOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBitbucketExtractTargets(t *testing.T) {
	bb := &Bitbucket{}
	ev := payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "pullrequest": {"id": 3, "description": "pr text", "author": {"nickname": "gina", "type": "user"}}
	}`)

	res := bb.ExtractTargets("pullrequest:created", ev, scanAllPolicy())
	require.Empty(t, res.MalformedReasons)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "pr:3", res.Targets[0].ReferenceID)
	assert.Equal(t, "gina", res.Targets[0].AuthorLogin)
	assert.Equal(t, contracts.AuthorUser, res.Targets[0].AuthorType)
}

func TestBitbucketCommentTarget(t *testing.T) {
	bb := &Bitbucket{}
	ev := payload(t, `{
	  "repository": {"full_name": "acme/widgets"},
	  "pullrequest": {"id": 3},
	  "comment": {"id": 77, "content": {"raw": "nice"}, "user": {"display_name": "Hank"}}
	}`)

	res := bb.ExtractTargets("pullrequest:comment_created", ev, scanAllPolicy())
	require.Len(t, res.Targets, 1)
	assert.Equal(t, contracts.SourceComment, res.Targets[0].Source)
	assert.Equal(t, "comment:77", res.Targets[0].ReferenceID)
	assert.Equal(t, "Hank", res.Targets[0].AuthorLogin)
}

func TestBitbucketLoginPrecedence(t *testing.T) {
	assert.Equal(t, "nick", bitbucketLogin(map[string]any{
		"nickname": "nick", "username": "user", "display_name": "Disp", "account_id": "id",
	}))
	assert.Equal(t, "user", bitbucketLogin(map[string]any{
		"username": "user", "display_name": "Disp",
	}))
	assert.Equal(t, "id", bitbucketLogin(map[string]any{"account_id": "id"}))
}

func TestBitbucketApprovalCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/repositories/acme/widgets/pullrequests/3")
		fmt.Fprint(w, `{"participants": [
		  {"approved": true, "user": {"nickname": "Ivy", "type": "user"}},
		  {"approved": true, "user": {"nickname": "ivy", "type": "user"}},
		  {"approved": false, "user": {"nickname": "jo", "type": "user"}},
		  {"approved": true, "user": {"nickname": "deploy[bot]", "type": "user"}},
		  {"approved": true, "user": {"nickname": "trusted", "type": "user"}}
		]}`)
	}))
	defer srv.Close()

	bb := &Bitbucket{}
	count, err := bb.FetchHumanApprovalCount(context.Background(),
		contracts.PullContext{Owner: "acme", Repo: "widgets", PullNumber: 3},
		ApprovalOptions{BaseURL: srv.URL, AllowedAuthors: []string{"trusted"}})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSupports(t *testing.T) {
	gh := &GitHub{}
	assert.True(t, Supports(gh, "pull_request"))
	assert.False(t, Supports(gh, "push"))
}
