package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRunLifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.CreateRun(ctx, "run-1", "https://example.com/game"))

	run, err := d.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)
	assert.Empty(t, run.ReportID)

	err = d.CompleteRun(ctx, "run-1", RunResult{
		Status:         "passed",
		Score:          81,
		Duration:       1500 * time.Millisecond,
		ActionsRun:     9,
		LevelsAdvanced: 2,
		ReportID:       "rep-1",
		ReportURL:      "https://bucket.s3.us-east-1.amazonaws.com/reports/rep-1/report.json",
		Report:         map[string]string{"status": "passed"},
	})
	require.NoError(t, err)

	run, err = d.GetRunByReportID(ctx, "rep-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "passed", run.Status)
	assert.Equal(t, 81, run.Score)
	assert.EqualValues(t, 1500, run.DurationMS)
	assert.Equal(t, 2, run.LevelsAdvanced)
	require.NotNil(t, run.CompletedAt)

	var report map[string]string
	require.NoError(t, json.Unmarshal([]byte(run.ReportData), &report))
	assert.Equal(t, "passed", report["status"])
}

func TestGetRun_Missing(t *testing.T) {
	d := openTestDB(t)
	run, err := d.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)

	err = d.CompleteRun(context.Background(), "nope", RunResult{Status: "failed"})
	assert.ErrorContains(t, err, "not found")
}

func TestListAndCountRuns(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for i, status := range []string{"passed", "failed", "passed"} {
		id := []string{"a", "b", "c"}[i]
		require.NoError(t, d.CreateRun(ctx, id, "https://example.com/"+id))
		require.NoError(t, d.CompleteRun(ctx, id, RunResult{Status: status}))
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := d.ListRuns(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID, "newest first")

	passed, err := d.ListRuns(ctx, "passed", 10, 0)
	require.NoError(t, err)
	assert.Len(t, passed, 2)

	page, err := d.ListRuns(ctx, "all", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	n, err := d.CountRuns(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = d.CountRuns(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
