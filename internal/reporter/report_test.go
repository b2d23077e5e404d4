package reporter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/evaluator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed() agent.Outcome {
	return agent.Outcome{Status: agent.OutcomeCompleted, ActionsRun: 9}
}

func TestBuild_Status(t *testing.T) {
	tests := []struct {
		name  string
		setup func(rb *ReportBuilder)
		want  string
		issue string
	}{
		{
			name: "clean run",
			setup: func(rb *ReportBuilder) {
				rb.SetOutcome(completed())
				rb.SetFinalState(agent.Playing())
			},
			want: StatusPassed,
		},
		{
			name: "failed actions warn",
			setup: func(rb *ReportBuilder) {
				o := completed()
				o.ActionsFailed = 2
				rb.SetOutcome(o)
			},
			want: StatusPassedWithWarnings,
		},
		{
			name: "still blocked warns",
			setup: func(rb *ReportBuilder) {
				rb.SetOutcome(completed())
				rb.SetFinalState(agent.Blocked(agent.OverlayGeneric))
			},
			want: StatusPassedWithWarnings,
		},
		{
			name: "script timeout",
			setup: func(rb *ReportBuilder) {
				rb.SetOutcome(agent.Outcome{Status: agent.OutcomeTimeout})
				rb.SetError(agent.NewTimeoutError("script overran", agent.ErrScriptTimeout))
			},
			want:  StatusTimeout,
			issue: "Run exceeded its time budget",
		},
		{
			name: "session closed mid script",
			setup: func(rb *ReportBuilder) {
				rb.SetOutcome(agent.Outcome{Status: agent.OutcomeSessionClosed, ActionsRun: 2})
			},
			want: StatusSessionClosed,
		},
		{
			name: "session closed on load",
			setup: func(rb *ReportBuilder) {
				rb.SetError(agent.NewSessionClosedError("page gone", agent.ErrSessionClosed))
			},
			want:  StatusSessionClosed,
			issue: "Browser session closed during the run",
		},
		{
			name: "load failure",
			setup: func(rb *ReportBuilder) {
				rb.SetError(agent.NewNetworkError("navigate", errors.New("net::ERR_NAME_NOT_RESOLVED")))
			},
			want:  StatusFailed,
			issue: "Run did not complete",
		},
		{
			name: "low score with issues",
			setup: func(rb *ReportBuilder) {
				rb.SetOutcome(completed())
				rb.SetScore(&evaluator.PlayabilityScore{OverallScore: 30, LoadsCorrectly: true, InteractivityScore: 20, Issues: []string{"black screen"}})
			},
			want:  StatusFailed,
			issue: "black screen",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewReportBuilder("https://example.com/game")
			tt.setup(rb)
			report := rb.Build()
			assert.Equal(t, tt.want, report.Summary.Status)
			if tt.issue != "" {
				found := false
				for _, issue := range report.Issues() {
					if strings.HasPrefix(issue, tt.issue) {
						found = true
					}
				}
				assert.True(t, found, "issues %v should include %q", report.Issues(), tt.issue)
			}
		})
	}
}

func TestBuild_Evidence(t *testing.T) {
	rb := NewReportBuilder("https://example.com/game")
	now := time.Now()
	rb.SetScreenshots([]*agent.ScreenshotInfo{
		{Label: agent.LabelInitial, Filepath: "/tmp/a.png", Timestamp: now, Width: 1280, Height: 720},
		nil,
		{Label: agent.LabelFinal, Filepath: "/tmp/b.png", Timestamp: now},
	})
	logs := []browser.LogEntry{
		{Level: browser.LogLevelError, Message: "boom"},
		{Level: browser.LogLevelWarning, Message: "careful"},
		{Level: browser.LogLevelInfo, Message: "hi"},
		{Level: browser.LogLevelDebug, Message: "dbg"},
	}
	rb.SetConsoleLogs(logs)
	outcome := completed()
	outcome.Attempts = []agent.AttemptRecord{{Strategy: "resolver:tier1", Target: "Play", Succeeded: true}}
	rb.SetOutcome(outcome)
	rb.SetGatekeepers([]string{"consent"})
	rb.AddMetadata("engine", "playtest")

	report := rb.Build()
	require.Len(t, report.Evidence.Screenshots, 2)
	assert.Equal(t, agent.LabelInitial, report.Evidence.Screenshots[0].Label)
	assert.Equal(t, LogSummary{Total: 4, Errors: 1, Warnings: 1, Info: 1, Debug: 1}, report.Evidence.LogSummary)
	assert.Equal(t, []string{"consent"}, report.Evidence.Gatekeepers)
	assert.Len(t, report.Outcome.Attempts, 1)
	assert.Equal(t, "playtest", report.Metadata["engine"])
	assert.Len(t, report.ReportID, 36)
	assert.Empty(t, report.Error)
}

func TestSaveToDir(t *testing.T) {
	report := NewReportBuilder("https://example.com/game").Build()
	dir := filepath.Join(t.TempDir(), "out")

	path, err := report.SaveToDir(dir)
	require.NoError(t, err)
	assert.Regexp(t, `qa_report_\d{8}_\d{6}_[0-9a-f]{8}\.json$`, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, report.ReportID, back.ReportID)
	assert.Equal(t, report.Summary.Status, back.Summary.Status)
}
