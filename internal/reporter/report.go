package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/evaluator"
	"github.com/google/uuid"
)

// Report statuses
const (
	StatusPassed             = "passed"
	StatusPassedWithWarnings = "passed_with_warnings"
	StatusFailed             = "failed"
	StatusTimeout            = "timeout"
	StatusSessionClosed      = "session_closed"
)

// Report represents a complete playtest report
type Report struct {
	// ReportID is a unique identifier for this report
	ReportID string `json:"report_id"`
	// GameURL is the URL of the tested game
	GameURL string `json:"game_url"`
	// Timestamp is when the test was conducted
	Timestamp time.Time `json:"timestamp"`
	// Duration is how long the test took
	Duration time.Duration `json:"duration_ms"`
	// Score contains the LLM evaluation results
	Score *evaluator.PlayabilityScore `json:"score,omitempty"`
	// Outcome is what the interaction engine reported
	Outcome *agent.Outcome `json:"outcome,omitempty"`
	// Error is the run error, if any
	Error string `json:"error,omitempty"`
	// Evidence contains test artifacts
	Evidence *Evidence `json:"evidence"`
	// Summary provides a high-level overview
	Summary *Summary `json:"summary"`
	// Metadata contains additional information
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Evidence contains all test artifacts
type Evidence struct {
	// Screenshots are the captured images
	Screenshots []ScreenshotInfo `json:"screenshots"`
	// ConsoleLogs are the browser console logs
	ConsoleLogs []browser.LogEntry `json:"console_logs"`
	// LogSummary provides log statistics
	LogSummary LogSummary `json:"log_summary"`
	// Gatekeepers lists the entry obstacles that were cleared
	Gatekeepers []string `json:"gatekeepers,omitempty"`
	// FinalState is the classification after the script ended
	FinalState *agent.GameState `json:"final_state,omitempty"`
}

// ScreenshotInfo contains metadata about a screenshot
type ScreenshotInfo struct {
	// Label is when the screenshot was taken
	Label string `json:"label"`
	// Filepath is the local path
	Filepath string `json:"filepath"`
	// S3URL is the S3 URL (if uploaded)
	S3URL string `json:"s3_url,omitempty"`
	// Timestamp is when it was captured
	Timestamp time.Time `json:"timestamp"`
	// Width in pixels
	Width int `json:"width"`
	// Height in pixels
	Height int `json:"height"`
}

// LogSummary provides console log statistics
type LogSummary struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
	Debug    int `json:"debug"`
}

// Summary provides a high-level test overview
type Summary struct {
	// Status is one of the Status* constants
	Status string `json:"status"`
	// PassedChecks lists what passed
	PassedChecks []string `json:"passed_checks"`
	// FailedChecks lists what failed
	FailedChecks []string `json:"failed_checks"`
	// CriticalIssues are blocking problems
	CriticalIssues []string `json:"critical_issues"`
}

// ReportBuilder helps construct reports
type ReportBuilder struct {
	gameURL     string
	startTime   time.Time
	screenshots []*agent.ScreenshotInfo
	logs        []browser.LogEntry
	score       *evaluator.PlayabilityScore
	outcome     *agent.Outcome
	runErr      error
	gatekeepers []string
	finalState  *agent.GameState
	metadata    map[string]string
}

// NewReportBuilder creates a new report builder
func NewReportBuilder(gameURL string) *ReportBuilder {
	return &ReportBuilder{
		gameURL:   gameURL,
		startTime: time.Now(),
		metadata:  make(map[string]string),
	}
}

// SetScreenshots sets the screenshots for the report
func (rb *ReportBuilder) SetScreenshots(screenshots []*agent.ScreenshotInfo) {
	rb.screenshots = screenshots
}

// SetConsoleLogs sets the console logs for the report
func (rb *ReportBuilder) SetConsoleLogs(logs []browser.LogEntry) {
	rb.logs = logs
}

// ConsoleLogs returns the console logs set so far
func (rb *ReportBuilder) ConsoleLogs() []browser.LogEntry {
	return rb.logs
}

// SetScore sets the evaluation score for the report
func (rb *ReportBuilder) SetScore(score *evaluator.PlayabilityScore) {
	rb.score = score
}

// SetOutcome records the engine outcome. Its attempt trail becomes part of
// the report.
func (rb *ReportBuilder) SetOutcome(outcome agent.Outcome) {
	rb.outcome = &outcome
}

// SetError records the error that ended the run
func (rb *ReportBuilder) SetError(err error) {
	rb.runErr = err
}

// SetGatekeepers records the entry obstacles that were cleared
func (rb *ReportBuilder) SetGatekeepers(cleared []string) {
	rb.gatekeepers = cleared
}

// SetFinalState records the classification after the script ended
func (rb *ReportBuilder) SetFinalState(state agent.GameState) {
	rb.finalState = &state
}

// AddMetadata adds a metadata key-value pair
func (rb *ReportBuilder) AddMetadata(key, value string) {
	rb.metadata[key] = value
}

// Build constructs the final report
func (rb *ReportBuilder) Build() *Report {
	infos := make([]ScreenshotInfo, 0, len(rb.screenshots))
	for _, ss := range rb.screenshots {
		if ss == nil {
			continue
		}
		infos = append(infos, ScreenshotInfo{
			Label:     ss.Label,
			Filepath:  ss.Filepath,
			Timestamp: ss.Timestamp,
			Width:     ss.Width,
			Height:    ss.Height,
		})
	}

	report := &Report{
		ReportID:  uuid.New().String(),
		GameURL:   rb.gameURL,
		Timestamp: rb.startTime,
		Duration:  time.Since(rb.startTime),
		Score:     rb.score,
		Outcome:   rb.outcome,
		Evidence: &Evidence{
			Screenshots: infos,
			ConsoleLogs: rb.logs,
			LogSummary:  summarizeLogs(rb.logs),
			Gatekeepers: rb.gatekeepers,
			FinalState:  rb.finalState,
		},
		Summary:  rb.buildSummary(),
		Metadata: rb.metadata,
	}
	if rb.runErr != nil {
		report.Error = rb.runErr.Error()
	}
	return report
}

func summarizeLogs(logs []browser.LogEntry) LogSummary {
	s := LogSummary{Total: len(logs)}
	for _, entry := range logs {
		switch entry.Level {
		case browser.LogLevelError:
			s.Errors++
		case browser.LogLevelWarning:
			s.Warnings++
		case browser.LogLevelInfo:
			s.Info++
		case browser.LogLevelDebug:
			s.Debug++
		}
	}
	return s
}

// buildSummary constructs the test summary
func (rb *ReportBuilder) buildSummary() *Summary {
	summary := &Summary{
		PassedChecks:   make([]string, 0),
		FailedChecks:   make([]string, 0),
		CriticalIssues: make([]string, 0),
	}

	switch {
	case rb.runErr != nil && agent.IsFatal(rb.runErr):
		summary.CriticalIssues = append(summary.CriticalIssues, "Run exceeded its time budget: "+rb.runErr.Error())
	case errors.Is(rb.runErr, agent.ErrSessionClosed):
		summary.CriticalIssues = append(summary.CriticalIssues, "Browser session closed during the run")
	case rb.runErr != nil:
		summary.CriticalIssues = append(summary.CriticalIssues, "Run did not complete: "+rb.runErr.Error())
	}

	if o := rb.outcome; o != nil {
		if o.Status == agent.OutcomeCompleted {
			summary.PassedChecks = append(summary.PassedChecks, fmt.Sprintf("Script completed (%d actions)", o.ActionsRun))
		}
		if o.ActionsFailed > 0 {
			summary.FailedChecks = append(summary.FailedChecks, fmt.Sprintf("%d actions failed", o.ActionsFailed))
		}
		if o.LevelsAdvanced > 0 {
			summary.PassedChecks = append(summary.PassedChecks, fmt.Sprintf("Advanced %d levels", o.LevelsAdvanced))
		}
	}

	if rb.finalState != nil {
		if rb.finalState.IsPlaying() {
			summary.PassedChecks = append(summary.PassedChecks, "Game reached a playable state")
		} else {
			summary.FailedChecks = append(summary.FailedChecks, "Game ended in state "+rb.finalState.String())
		}
	}

	if rb.score != nil {
		if rb.score.LoadsCorrectly {
			summary.PassedChecks = append(summary.PassedChecks, "Game loads successfully")
		} else {
			summary.FailedChecks = append(summary.FailedChecks, "Game failed to load")
			summary.CriticalIssues = append(summary.CriticalIssues, "Game does not load correctly")
		}

		if rb.score.OverallScore >= 70 {
			summary.PassedChecks = append(summary.PassedChecks, "Overall quality acceptable")
		} else if rb.score.OverallScore < 50 {
			summary.FailedChecks = append(summary.FailedChecks, "Overall quality below acceptable threshold")
		}

		if rb.score.InteractivityScore >= 70 {
			summary.PassedChecks = append(summary.PassedChecks, "Game is interactive")
		} else {
			summary.FailedChecks = append(summary.FailedChecks, "Low interactivity")
		}

		if rb.score.ErrorSeverity > 50 {
			summary.CriticalIssues = append(summary.CriticalIssues, "High severity errors detected")
		}
		summary.CriticalIssues = append(summary.CriticalIssues, rb.score.Issues...)
	}

	errorCount := summarizeLogs(rb.logs).Errors
	if errorCount == 0 {
		summary.PassedChecks = append(summary.PassedChecks, "No console errors")
	} else if errorCount > 5 {
		summary.FailedChecks = append(summary.FailedChecks, fmt.Sprintf("%d console errors found", errorCount))
	}

	summary.Status = rb.status(summary)
	return summary
}

// status turns the checks into one verdict. Budget overruns and closed
// sessions win over the score.
func (rb *ReportBuilder) status(summary *Summary) string {
	switch {
	case rb.runErr != nil && agent.IsFatal(rb.runErr):
		return StatusTimeout
	case rb.outcome != nil && rb.outcome.Status == agent.OutcomeTimeout:
		return StatusTimeout
	case errors.Is(rb.runErr, agent.ErrSessionClosed):
		return StatusSessionClosed
	case rb.outcome != nil && rb.outcome.Status == agent.OutcomeSessionClosed:
		return StatusSessionClosed
	case len(summary.CriticalIssues) > 0:
		return StatusFailed
	case len(summary.FailedChecks) > 0:
		return StatusPassedWithWarnings
	default:
		return StatusPassed
	}
}

// Issues returns the failed checks followed by the critical issues
func (r *Report) Issues() []string {
	if r.Summary == nil {
		return nil
	}
	out := make([]string, 0, len(r.Summary.FailedChecks)+len(r.Summary.CriticalIssues))
	out = append(out, r.Summary.CriticalIssues...)
	return append(out, r.Summary.FailedChecks...)
}

// SaveToFile saves the report to a JSON file
func (r *Report) SaveToFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// SaveToDir saves the report as qa_report_<ts>_<id8>.json in dir. An empty
// dir means the system temp dir.
func (r *Report) SaveToDir(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	filename := fmt.Sprintf("qa_report_%s_%s.json",
		r.Timestamp.Format("20060102_150405"),
		r.ReportID[:8],
	)
	path := filepath.Join(dir, filename)
	if err := r.SaveToFile(path); err != nil {
		return "", err
	}
	return path, nil
}
