package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dreamup/playtest/internal/config"
	"github.com/dreamup/playtest/internal/observability"
	"github.com/dreamup/playtest/internal/reporter"
	"github.com/dreamup/playtest/internal/runner"
	"go.uber.org/zap"
)

// defaultTimeout leaves a minute of a five minute Lambda for cleanup
const defaultTimeout = 240

// LambdaEvent represents the input event for Lambda
type LambdaEvent struct {
	// GameURL is the URL to test
	GameURL string `json:"game_url"`
	// Timeout in seconds for the whole run (default: 240)
	Timeout int `json:"timeout,omitempty"`
	// UploadToS3 determines if artifacts should be uploaded
	UploadToS3 bool `json:"upload_to_s3"`
	// BucketName for S3 uploads (optional, defaults to env var)
	BucketName string `json:"bucket_name,omitempty"`
	// Metadata for the test
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LambdaResponse represents the Lambda function output
type LambdaResponse struct {
	// Success indicates if the run completed without an early stop
	Success bool `json:"success"`
	// ReportID is the unique report identifier
	ReportID string `json:"report_id,omitempty"`
	// ReportURL is the S3 URL (if uploaded)
	ReportURL string `json:"report_url,omitempty"`
	// Status is the report status
	Status string `json:"status,omitempty"`
	// Issues are the critical and failed checks
	Issues []string `json:"issues,omitempty"`
	// Error message if failed
	Error string `json:"error,omitempty"`
	// Summary provides brief results
	Summary *reporter.Summary `json:"summary,omitempty"`
	// Duration in seconds
	Duration float64 `json:"duration_seconds,omitempty"`
}

// newRunner is swapped out in tests
var newRunner = runner.New

// lambdaConfig loads env configuration and pins the Lambda settings
func lambdaConfig(event LambdaEvent) (*config.Config, error) {
	cfg, err := config.Load(os.Getenv("DREAMUP_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Browser.Headless = true
	cfg.Evidence.Dir = filepath.Join(os.TempDir(), "qa-results")
	// /tmp does not outlive the container, so history is not kept
	cfg.Database.Path = ""
	cfg.Logger.Format = "json"

	if event.UploadToS3 {
		bucket := event.BucketName
		if bucket == "" {
			bucket = os.Getenv("S3_BUCKET_NAME")
		}
		if bucket == "" {
			bucket = reporter.DefaultBucket
		}
		cfg.Evidence.S3Bucket = bucket
	} else {
		cfg.Evidence.S3Bucket = ""
	}
	return cfg, nil
}

// HandleRequest is the Lambda handler function
func HandleRequest(ctx context.Context, event LambdaEvent) (LambdaResponse, error) {
	startTime := time.Now()
	if event.GameURL == "" {
		return LambdaResponse{Success: false, Error: "game_url is required"}, fmt.Errorf("missing game_url")
	}

	cfg, err := lambdaConfig(event)
	if err != nil {
		return LambdaResponse{Success: false, Error: err.Error()}, nil
	}
	observability.InitializeLogger(cfg.Logger)
	logger := observability.GetLogger()
	defer observability.Sync()

	if event.Timeout <= 0 {
		event.Timeout = defaultTimeout
	}
	testCtx, cancel := context.WithTimeout(ctx, time.Duration(event.Timeout)*time.Second)
	defer cancel()

	r, err := newRunner(testCtx, cfg, logger)
	if err != nil {
		return LambdaResponse{Success: false, Error: err.Error(), Duration: time.Since(startTime).Seconds()}, nil
	}
	defer r.Close()

	r.Metadata = map[string]string{
		"lambda_execution": "true",
		"lambda_region":    os.Getenv("AWS_REGION"),
	}
	for k, v := range event.Metadata {
		r.Metadata[k] = v
	}

	res, runErr := r.Run(testCtx, event.GameURL)
	response := LambdaResponse{Success: runErr == nil, Duration: time.Since(startTime).Seconds()}
	if runErr != nil {
		response.Error = runErr.Error()
		logger.Warn("Lambda run ended early.", zap.Error(runErr))
	}
	if res == nil {
		// rejected input; no report was built
		return response, nil
	}

	report := res.Report
	response.ReportID = report.ReportID
	response.ReportURL = res.ReportURL
	response.Status = report.Summary.Status
	response.Summary = report.Summary
	response.Issues = report.Issues()

	// evidence in /tmp is only useful while the container lives
	if res.ReportURL != "" && res.ReportPath != "" {
		os.RemoveAll(filepath.Dir(res.ReportPath))
	}
	return response, nil
}

func main() {
	lambda.Start(HandleRequest)
}
