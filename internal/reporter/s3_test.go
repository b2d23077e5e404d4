package reporter

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type object struct {
	contentType string
	body        []byte
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]object
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string]object)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = object{contentType: aws.ToString(in.ContentType), body: body}
	return &s3.PutObjectOutput{}, nil
}

func TestUploadReportWithArtifacts(t *testing.T) {
	dir := t.TempDir()
	shot := filepath.Join(dir, "screenshot_initial.png")
	require.NoError(t, os.WriteFile(shot, []byte("png"), 0644))

	rb := NewReportBuilder("https://example.com/game")
	rb.SetScreenshots([]*agent.ScreenshotInfo{{Label: agent.LabelInitial, Filepath: shot}})
	rb.SetConsoleLogs([]browser.LogEntry{{Level: browser.LogLevelError, Message: "boom"}})
	report := rb.Build()

	fake := &fakeS3{}
	u := newS3Uploader(fake, "bucket", "eu-west-1", zaptest.NewLogger(t))

	url, err := u.UploadReportWithArtifacts(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, u.GetReportURL(report.ReportID), url)
	assert.Equal(t, "https://bucket.s3.eu-west-1.amazonaws.com/reports/"+report.ReportID+"/report.json", url)

	prefix := "bucket/reports/" + report.ReportID
	require.Len(t, fake.objects, 3)
	assert.Equal(t, "image/png", fake.objects[prefix+"/screenshots/screenshot_initial.png"].contentType)
	assert.Equal(t, "application/json", fake.objects[prefix+"/console_logs.json"].contentType)

	var uploaded Report
	require.NoError(t, json.Unmarshal(fake.objects[prefix+"/report.json"].body, &uploaded))
	require.Len(t, uploaded.Evidence.Screenshots, 1)
	assert.Contains(t, uploaded.Evidence.Screenshots[0].S3URL, "/screenshots/screenshot_initial.png")
}

func TestUploadReportWithArtifacts_Errors(t *testing.T) {
	report := NewReportBuilder("https://example.com/game").Build()
	report.Evidence.Screenshots = []ScreenshotInfo{{Label: "gone", Filepath: filepath.Join(t.TempDir(), "gone.png")}}

	u := newS3Uploader(&fakeS3{}, "bucket", "us-east-1", nil)
	_, err := u.UploadReportWithArtifacts(context.Background(), report)
	assert.Equal(t, agent.ErrorCategoryStorage, agent.CategoryOf(err))

	report.Evidence.Screenshots = nil
	u = newS3Uploader(&fakeS3{err: assert.AnError}, "bucket", "us-east-1", nil)
	_, err = u.UploadReportWithArtifacts(context.Background(), report)
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "failed to upload report")
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.json": "application/json",
		"a.PNG":  "image/png",
		"a.jpeg": "image/jpeg",
		"a.txt":  "text/plain",
		"a.webm": "application/octet-stream",
	}
	for path, want := range tests {
		assert.Equal(t, want, contentType(path), path)
	}
}
