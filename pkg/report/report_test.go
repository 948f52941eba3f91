package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/canonical"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/shadow"
)

var buildTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func baseInput() Input {
	pol := policy.Defaults(2)
	return Input{
		Provider:  "github",
		EventName: "pull_request",
		Policy:    pol,
		PolicyDoc: map[string]any{"version": 2},
		EventRaw:  []byte(`{"action": "opened"}`),
		Targets: []contracts.ReviewTarget{
			{Source: contracts.SourcePRBody, ReferenceID: "pr:1", AuthorLogin: "alice",
				AuthorType: contracts.AuthorUser, Body: "hello world"},
		},
		Decision:  contracts.DecisionPass,
		Timestamp: buildTime,
	}
}

func TestBuildBasicShape(t *testing.T) {
	r, err := Build(baseInput())
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, r.SchemaVersion)
	assert.Equal(t, "2026-08-01T12:00:00Z", r.Timestamp)
	assert.Equal(t, 1, r.TargetsScanned)
	assert.NotNil(t, r.Findings)
	assert.NotEmpty(t, r.ReplayDigest)
	assert.Len(t, r.EvidenceHashes, 3)
	for _, key := range []string{"policy", "event", "targets"} {
		assert.Len(t, r.EvidenceHashes[key], 64, "evidence hash %s", key)
	}
}

func TestBuildSchemaVersionTracksPolicy(t *testing.T) {
	r, err := Build(baseInput())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, r.SchemaVersion)

	in := baseInput()
	in.Policy = policy.Defaults(3)
	r, err = Build(in)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersionShadow, r.SchemaVersion)
}

func TestBuildTruncatedTargetBodyWithheld(t *testing.T) {
	in := baseInput()
	in.TruncatedRefs = map[string]bool{"pr:1": true}

	r, err := Build(in)
	require.NoError(t, err)
	require.Len(t, r.Targets, 1)
	assert.True(t, r.Targets[0].Truncated)
	assert.Empty(t, r.Targets[0].Body)
	assert.Empty(t, r.Targets[0].BodyExcerpt)
}

func TestBuildTargetsEvidenceHashIgnoresRedaction(t *testing.T) {
	plain, err := Build(baseInput())
	require.NoError(t, err)

	in := baseInput()
	in.Redact = true
	redacted, err := Build(in)
	require.NoError(t, err)

	assert.Equal(t, plain.EvidenceHashes["targets"], redacted.EvidenceHashes["targets"],
		"targets hash covers the extracted list, not the shaped artifact")
}

func TestBuildExcerptMode(t *testing.T) {
	in := baseInput()
	in.Targets[0].Body = strings.Repeat("x", 500)

	r, err := Build(in)
	require.NoError(t, err)
	require.Len(t, r.Targets, 1)
	assert.Empty(t, r.Targets[0].Body)
	assert.Len(t, r.Targets[0].BodyExcerpt, excerptChars)
	assert.Nil(t, r.BodyHashes)
}

func TestBuildRedactionMovesBodiesToHashes(t *testing.T) {
	in := baseInput()
	in.Policy.Report.RedactionMode = policy.RedactHash

	r, err := Build(in)
	require.NoError(t, err)
	assert.Empty(t, r.Targets[0].Body)
	assert.Empty(t, r.Targets[0].BodyExcerpt)
	require.Contains(t, r.BodyHashes, "pr:1")
	assert.Equal(t, canonical.HashBytes([]byte("hello world")), r.BodyHashes["pr:1"])
}

func TestBuildRedactFlagOverridesPolicy(t *testing.T) {
	in := baseInput()
	in.Redact = true

	r, err := Build(in)
	require.NoError(t, err)
	assert.NotNil(t, r.BodyHashes)
}

func TestAccessibilitySummaryShape(t *testing.T) {
	r, err := Build(baseInput())
	require.NoError(t, err)

	s := r.AccessibilitySummary
	assert.True(t, strings.HasPrefix(s.Decision, "Pass:"))
	assert.Equal(t, map[string]string{"pass": "Pass", "warn": "Warn", "block": "Block"}, s.StatusWords)
	assert.True(t, s.NonColorStatusSignal)
	assert.True(t, s.ScreenReaderFriendly)
	assert.Equal(t, "low", s.CognitiveLoad)
}

func TestAccessibilityCognitiveLoad(t *testing.T) {
	in := baseInput()
	in.Decision = contracts.DecisionBlock
	for i := 0; i < 6; i++ {
		in.GuardFindings = append(in.GuardFindings, contracts.GuardFinding{
			Code: contracts.GuardRuleBlock, Severity: contracts.GuardSeverityBlock, Message: "m",
		})
	}

	r, err := Build(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(r.AccessibilitySummary.Decision, "Block:"))
	assert.Equal(t, "medium", r.AccessibilitySummary.CognitiveLoad)
}

func TestBuildDeterministicAcrossTimestamps(t *testing.T) {
	a, err := Build(baseInput())
	require.NoError(t, err)

	in := baseInput()
	in.Timestamp = buildTime.Add(48 * time.Hour)
	b, err := Build(in)
	require.NoError(t, err)

	assert.NotEqual(t, a.Timestamp, b.Timestamp)
	assert.Equal(t, a.ReplayDigest, b.ReplayDigest)
}

func TestCompareReplayMatch(t *testing.T) {
	r, err := Build(baseInput())
	require.NoError(t, err)
	baseline, err := MarshalJSON(r)
	require.NoError(t, err)

	finding, err := CompareReplay(r, baseline)
	require.NoError(t, err)
	assert.Nil(t, finding)
}

func TestCompareReplayMismatch(t *testing.T) {
	r, err := Build(baseInput())
	require.NoError(t, err)
	baseline, err := MarshalJSON(r)
	require.NoError(t, err)

	in := baseInput()
	in.Decision = contracts.DecisionBlock
	drifted, err := Build(in)
	require.NoError(t, err)

	finding, err := CompareReplay(drifted, baseline)
	require.NoError(t, err)
	require.NotNil(t, finding)
	assert.Equal(t, contracts.GuardReplayMismatch, finding.Code)
	assert.Equal(t, contracts.GuardSeverityBlock, finding.Severity)
	assert.NotEqual(t, finding.Details["currentDigest"], finding.Details["baselineDigest"])
}

func TestRenderMarkdownPlain(t *testing.T) {
	in := baseInput()
	in.Decision = contracts.DecisionBlock
	in.GuardFindings = []contracts.GuardFinding{
		{Code: contracts.GuardBlockedAuthor, Severity: contracts.GuardSeverityBlock,
			Message: "author blocked", TargetReferenceID: "pr:1"},
	}
	r, err := Build(in)
	require.NoError(t, err)

	md := RenderMarkdown(r, false)
	assert.Contains(t, md, "[BLOCK]")
	assert.Contains(t, md, "GUARD_BLOCKED_AUTHOR")
	assert.NotContains(t, md, "\x1b[")
}

func TestRenderMarkdownANSI(t *testing.T) {
	r, err := Build(baseInput())
	require.NoError(t, err)
	assert.Contains(t, RenderMarkdown(r, true), ansiGreen)
}

func TestRenderSARIF(t *testing.T) {
	in := baseInput()
	in.GuardFindings = []contracts.GuardFinding{
		{Code: contracts.GuardRuleBlock, Severity: contracts.GuardSeverityBlock, Message: "rule hit"},
	}
	in.Shadow = &shadow.Outcome{
		Findings: []contracts.ShadowFinding{
			{Code: "SHADOW_VALUE_WORK_IN_PROGRESS", Domain: contracts.DomainValue,
				Severity: contracts.ShadowSeverityLow, Message: "wip", Remediation: "finish it"},
		},
	}
	in.Policy = policy.Defaults(3)
	r, err := Build(in)
	require.NoError(t, err)

	data, err := RenderSARIF(r)
	require.NoError(t, err)

	var log map[string]any
	require.NoError(t, json.Unmarshal(data, &log))
	assert.Equal(t, "2.1.0", log["version"])

	runs := log["runs"].([]any)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	results := run["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "error", results[0].(map[string]any)["level"])
	assert.Equal(t, "note", results[1].(map[string]any)["level"])
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"": FormatJSON, "json": FormatJSON, "md": FormatMD, "sarif": FormatSARIF, "all": FormatAll,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriteJSONCreatesParentsAndTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out", "report.json")

	r, err := Build(baseInput())
	require.NoError(t, err)

	written, err := Write(r, path, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))

	var round contracts.Report
	require.NoError(t, json.Unmarshal(data, &round))
	assert.Equal(t, r.ReplayDigest, round.ReplayDigest)
}

func TestWriteAllFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	r, err := Build(baseInput())
	require.NoError(t, err)

	written, err := Write(r, path, FormatAll)
	require.NoError(t, err)
	require.Len(t, written, 3)
	assert.FileExists(t, filepath.Join(dir, "report.json"))
	assert.FileExists(t, filepath.Join(dir, "report.md"))
	assert.FileExists(t, filepath.Join(dir, "report.sarif"))
}
