package runner

import (
	"context"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/config"
	"github.com/dreamup/playtest/internal/db"
	"github.com/dreamup/playtest/internal/evaluator"
	"github.com/dreamup/playtest/internal/reporter"
	"go.uber.org/zap"
)

// New builds a Chrome-backed runner from cfg. Optional collaborators are
// enabled by their config sections: the evaluator by evaluator.enabled, S3 by
// evidence.s3_bucket and history by database.path. A collaborator that fails
// to start is logged and left out. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, agent.NewConfigError("invalid configuration", err)
	}

	r := &Runner{
		Config:   cfg,
		Sessions: ChromeFactory(cfg.BrowserOptions(), logger),
		Logger:   logger,
	}

	if cfg.Evaluator.Enabled {
		ge, err := evaluator.NewGameEvaluator(cfg.Evaluator.APIKey, logger)
		if err != nil {
			logger.Warn("Evaluator unavailable, runs will not be scored.", zap.Error(err))
		} else {
			ge.SetModel(cfg.Evaluator.Model)
			r.Scorer = ge
		}
	}

	if cfg.Evidence.S3Bucket != "" {
		u, err := reporter.NewS3Uploader(ctx, cfg.Evidence.S3Bucket, cfg.Evidence.S3Region, logger)
		if err != nil {
			logger.Warn("S3 upload disabled.", zap.Error(err))
		} else {
			r.Uploader = u
		}
	}

	if cfg.Database.Path != "" {
		d, err := db.New(cfg.Database.Path)
		if err != nil {
			logger.Warn("Run history disabled.", zap.String("path", cfg.Database.Path), zap.Error(err))
		} else {
			r.History = d
			r.closers = append(r.closers, d.Close)
		}
	}

	return r, nil
}

// Close releases collaborators opened by New
func (r *Runner) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}
