package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dreamup/playtest/internal/agent"
	"go.uber.org/zap"
)

// DefaultBucket is used when neither config nor S3_BUCKET_NAME names one
const DefaultBucket = "dreamup-qa-artifacts"

// putObjectAPI is the part of the S3 client the uploader needs
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader handles uploading artifacts to S3
type S3Uploader struct {
	client     putObjectAPI
	bucketName string
	region     string
	logger     *zap.Logger
}

// NewS3Uploader creates a new S3 uploader from the default AWS credential chain
func NewS3Uploader(ctx context.Context, bucketName, region string, logger *zap.Logger) (*S3Uploader, error) {
	if bucketName == "" {
		bucketName = os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			bucketName = DefaultBucket
		}
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, agent.NewStorageError("failed to load AWS config", err)
	}
	return newS3Uploader(s3.NewFromConfig(cfg), bucketName, region, logger), nil
}

func newS3Uploader(client putObjectAPI, bucketName, region string, logger *zap.Logger) *S3Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Uploader{
		client:     client,
		bucketName: bucketName,
		region:     region,
		logger:     logger.Named("s3"),
	}
}

func (u *S3Uploader) objectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucketName, u.region, key)
}

// UploadBytes stores data under key and returns its URL
func (u *S3Uploader) UploadBytes(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", agent.NewStorageError("failed to upload to S3", err)
	}
	u.logger.Debug("Uploaded object.", zap.String("key", key), zap.Int("bytes", len(data)))
	return u.objectURL(key), nil
}

// UploadFile uploads a file to S3
func (u *S3Uploader) UploadFile(ctx context.Context, path, key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", agent.NewStorageError(fmt.Sprintf("failed to read file %s", path), err)
	}
	return u.UploadBytes(ctx, data, key, contentType(path))
}

// contentType determines content type from file extension
func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// UploadReportWithArtifacts uploads the screenshots, console logs and the
// report itself. Screenshot URLs are written back into the report before it
// is uploaded. It returns the report URL.
func (u *S3Uploader) UploadReportWithArtifacts(ctx context.Context, report *Report) (string, error) {
	prefix := "reports/" + report.ReportID

	for i := range report.Evidence.Screenshots {
		ss := &report.Evidence.Screenshots[i]
		key := fmt.Sprintf("%s/screenshots/%s", prefix, filepath.Base(ss.Filepath))
		url, err := u.UploadFile(ctx, ss.Filepath, key)
		if err != nil {
			return "", fmt.Errorf("failed to upload screenshot %s: %w", ss.Label, err)
		}
		ss.S3URL = url
	}

	if len(report.Evidence.ConsoleLogs) > 0 {
		logs, err := json.MarshalIndent(report.Evidence.ConsoleLogs, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal console logs: %w", err)
		}
		if _, err := u.UploadBytes(ctx, logs, prefix+"/console_logs.json", "application/json"); err != nil {
			return "", fmt.Errorf("failed to upload console logs: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	url, err := u.UploadBytes(ctx, data, prefix+"/report.json", "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to upload report: %w", err)
	}
	u.logger.Info("Uploaded report.", zap.String("report_id", report.ReportID), zap.String("url", url))
	return url, nil
}

// GetReportURL returns the S3 URL for a report
func (u *S3Uploader) GetReportURL(reportID string) string {
	return u.objectURL("reports/" + reportID + "/report.json")
}
