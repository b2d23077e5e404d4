// Package runner drives one complete playtest: load the game, clear the way
// in, play the script, and report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	"github.com/dreamup/playtest/internal/config"
	"github.com/dreamup/playtest/internal/db"
	"github.com/dreamup/playtest/internal/evaluator"
	"github.com/dreamup/playtest/internal/reporter"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is a browser session owned by exactly one run
type Session interface {
	browser.Session
	Close()
}

// SessionFactory opens a fresh session for a run
type SessionFactory func(ctx context.Context) (Session, error)

// ChromeFactory launches a new Chrome per run
func ChromeFactory(opts browser.Options, logger *zap.Logger) SessionFactory {
	return func(context.Context) (Session, error) {
		s, err := browser.NewChromeSession(opts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Scorer rates a finished run
type Scorer interface {
	EvaluateGame(ctx context.Context, ev evaluator.Evidence) (*evaluator.PlayabilityScore, error)
}

// Uploader publishes a report and its artifacts, returning the report URL
type Uploader interface {
	UploadReportWithArtifacts(ctx context.Context, report *reporter.Report) (string, error)
}

// History records runs
type History interface {
	CreateRun(ctx context.Context, id, gameURL string) error
	CompleteRun(ctx context.Context, id string, res db.RunResult) error
}

// Runner runs playtests. Sessions and Config are required; the rest are
// optional collaborators.
type Runner struct {
	Config   *config.Config
	Sessions SessionFactory
	// Script overrides the configured action script
	Script   []agent.Action
	Scorer   Scorer
	Uploader Uploader
	History  History
	// Retry governs game loading; the zero value means agent.DefaultRetryConfig
	Retry agent.RetryConfig
	// Metadata is copied into every report
	Metadata map[string]string
	Logger   *zap.Logger

	closers []func() error
}

// Result is everything a run produced
type Result struct {
	RunID      string
	Report     *reporter.Report
	ReportPath string
	ReportURL  string
	Outcome    agent.Outcome
}

// Run tests gameURL. The report is always built once the arguments are
// valid; the error is the one that ended the run early (a load failure or a
// budget overrun) and is also recorded in the report.
func (r *Runner) Run(ctx context.Context, gameURL string) (*Result, error) {
	if err := validateURL(gameURL); err != nil {
		return nil, err
	}
	if r.Config == nil || r.Sessions == nil {
		return nil, agent.NewConfigError("runner is not configured", errors.New("config and session factory are required"))
	}
	script := r.Script
	if script == nil {
		var err error
		if script, err = r.Config.Script(); err != nil {
			return nil, agent.NewConfigError("invalid action script", err)
		}
	}
	for i, a := range script {
		if err := a.Validate(); err != nil {
			return nil, agent.NewConfigError(fmt.Sprintf("action %d rejected", i), err)
		}
	}

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New().String()
	logger = logger.Named("runner").With(zap.String("run_id", runID), zap.String("url", gameURL))

	evidence, err := agent.NewFileEvidence(filepath.Join(r.Config.Evidence.Dir, runID))
	if err != nil {
		return nil, agent.NewStorageError("failed to prepare evidence directory", err)
	}

	if r.History != nil {
		if err := r.History.CreateRun(ctx, runID, gameURL); err != nil {
			logger.Warn("Could not record run start.", zap.Error(err))
		}
	}

	rb := reporter.NewReportBuilder(gameURL)
	rb.AddMetadata("run_id", runID)
	rb.AddMetadata("actions", strconv.Itoa(len(script)))
	for k, v := range r.Metadata {
		rb.AddMetadata(k, v)
	}

	res := &Result{RunID: runID}
	runErr := r.play(ctx, gameURL, script, evidence, rb, res, logger)
	if runErr != nil {
		logger.Warn("Run ended early.", zap.Error(runErr), zap.String("category", string(agent.CategoryOf(runErr))))
		rb.SetError(runErr)
	}

	r.finish(ctx, rb, evidence, res, logger)
	return res, runErr
}

// play owns the session for the whole interactive part of the run.
func (r *Runner) play(ctx context.Context, gameURL string, script []agent.Action, evidence *agent.FileEvidence, rb *reporter.ReportBuilder, res *Result, logger *zap.Logger) error {
	session, err := r.Sessions(ctx)
	if err != nil {
		return agent.NewBrowserError("failed to start browser", err)
	}
	defer session.Close()

	policy := r.Config.TimeoutPolicy()
	logger.Info("Loading game.", zap.Duration("budget", policy.Load))
	if err := r.load(ctx, session, gameURL, policy); err != nil {
		rb.SetConsoleLogs(session.ConsoleLogs())
		return err
	}

	eng := agent.NewEngine(session, evidence, logger, r.Config.EngineOptions())
	opts := eng.Options()
	r.capture(ctx, evidence, session, agent.LabelInitial, opts, logger)

	rb.SetGatekeepers(eng.Gatekeepers.Run(ctx))
	if eng.Resolver.Resolve(ctx, opts.MaxResolveDepth) {
		logger.Info("Game is ready.")
	} else {
		logger.Info("Game did not reach a playable state before the script, playing anyway.")
	}

	outcome, runErr := eng.Executor.Run(ctx, script, policy)
	res.Outcome = outcome
	rb.SetOutcome(outcome)
	if runErr == nil && outcome.Status == agent.OutcomeSessionClosed {
		runErr = agent.NewSessionClosedError(
			fmt.Sprintf("page stopped responding after %d actions", outcome.ActionsRun), agent.ErrSessionClosed)
	}

	if outcome.Status != agent.OutcomeSessionClosed {
		r.capture(ctx, evidence, session, agent.LabelFinal, opts, logger)
		rb.SetFinalState(eng.Classifier.Classify(ctx, 0))
	}
	rb.SetConsoleLogs(session.ConsoleLogs())
	return runErr
}

// load navigates under the load budget, retrying transient failures
func (r *Runner) load(ctx context.Context, session Session, gameURL string, policy agent.TimeoutPolicy) error {
	retry := r.Retry
	if retry.MaxAttempts == 0 {
		retry = agent.DefaultRetryConfig()
	}
	return agent.Retry(ctx, retry, func() error {
		loadCtx, cancel := context.WithTimeout(ctx, policy.Load)
		defer cancel()
		err := session.Navigate(loadCtx, gameURL)
		switch {
		case err == nil:
			return nil
		case errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return agent.NewTimeoutError(fmt.Sprintf("game did not load within %s", policy.Load), err)
		default:
			return agent.NewNetworkError("failed to load game", err)
		}
	})
}

// capture takes a labelled screenshot. Evidence never fails a run.
func (r *Runner) capture(ctx context.Context, evidence *agent.FileEvidence, session Session, label string, opts agent.Options, logger *zap.Logger) {
	shotCtx, cancel := context.WithTimeout(ctx, opts.ClassifyTimeout)
	defer cancel()
	if _, err := evidence.Capture(shotCtx, session, label); err != nil {
		logger.Warn("Screenshot failed.", zap.String("label", label), zap.Error(err))
	}
}

// finish scores, saves, uploads and records the run. Every step is best
// effort.
func (r *Runner) finish(ctx context.Context, rb *reporter.ReportBuilder, evidence *agent.FileEvidence, res *Result, logger *zap.Logger) {
	shots := evidence.Screenshots()
	rb.SetScreenshots(shots)

	var score *evaluator.PlayabilityScore
	if r.Scorer != nil && len(shots) > 0 {
		s, err := r.Scorer.EvaluateGame(ctx, evaluator.Evidence{
			Screenshots: shots,
			Logs:        rb.ConsoleLogs(),
			Outcome:     &res.Outcome,
		})
		if err != nil {
			logger.Warn("Scoring failed, reporting without a score.", zap.Error(err))
			rb.AddMetadata("evaluator_error", err.Error())
		} else {
			score = s
			rb.SetScore(s)
		}
	}

	report := rb.Build()
	res.Report = report

	path, err := report.SaveToDir(evidence.Dir())
	if err != nil {
		logger.Warn("Could not save report.", zap.Error(err))
	}
	res.ReportPath = path

	if r.Uploader != nil {
		url, err := r.Uploader.UploadReportWithArtifacts(ctx, report)
		if err != nil {
			logger.Warn("Report upload failed.", zap.Error(err))
		}
		res.ReportURL = url
	}

	if r.History != nil {
		result := db.RunResult{
			Status:         report.Summary.Status,
			Duration:       report.Duration,
			ActionsRun:     res.Outcome.ActionsRun,
			LevelsAdvanced: res.Outcome.LevelsAdvanced,
			ReportID:       report.ReportID,
			ReportURL:      res.ReportURL,
			Report:         report,
		}
		if score != nil {
			result.Score = score.OverallScore
		}
		if err := r.History.CompleteRun(context.WithoutCancel(ctx), res.RunID, result); err != nil {
			logger.Warn("Could not record run result.", zap.Error(err))
		}
	}

	logger.Info("Run finished.",
		zap.String("status", report.Summary.Status),
		zap.String("report", res.ReportPath),
		zap.Int("screenshots", len(shots)),
	)
}

func validateURL(raw string) error {
	if raw == "" {
		return agent.NewConfigError("game URL is required", errors.New("empty URL"))
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") {
		return agent.NewConfigError("game URL must be an http, https or file URL", fmt.Errorf("invalid URL %q", raw))
	}
	return nil
}
