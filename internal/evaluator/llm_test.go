package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeShots(t *testing.T, labels ...string) []*agent.ScreenshotInfo {
	t.Helper()
	dir := t.TempDir()
	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	shots := make([]*agent.ScreenshotInfo, len(labels))
	for i, label := range labels {
		path := filepath.Join(dir, label+".png")
		require.NoError(t, os.WriteFile(path, []byte("png-"+label), 0644))
		shots[i] = &agent.ScreenshotInfo{Label: label, Filepath: path, Timestamp: base.Add(time.Duration(i) * time.Second)}
	}
	return shots
}

// fakeOpenAI serves one canned chat completion and records the request
func fakeOpenAI(t *testing.T, content string) (*GameEvaluator, *openai.ChatCompletionRequest) {
	t.Helper()
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-test",
			Model: got.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewGameEvaluatorWithConfig(cfg, zaptest.NewLogger(t)), &got
}

func TestEvaluateGame(t *testing.T) {
	reply := "```json\n" + `{"overall_score": 82, "loads_correctly": true, "interactivity_score": 75, "visual_quality": 90, "error_severity": 10, "reasoning": "plays", "issues": ["slow start"], "recommendations": []}` + "\n```"
	ge, req := fakeOpenAI(t, reply)
	ge.SetModel("gpt-4o-mini")

	score, err := ge.EvaluateGame(context.Background(), Evidence{
		Screenshots: writeShots(t, "initial", "final"),
		Logs:        []browser.LogEntry{{Level: browser.LogLevelError, Message: "Uncaught TypeError"}},
		Outcome:     &agent.Outcome{Status: agent.OutcomeCompleted, ActionsRun: 9, LevelsAdvanced: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 82, score.OverallScore)
	assert.True(t, score.LoadsCorrectly)
	assert.Equal(t, []string{"slow start"}, score.Issues)

	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 1)
	parts := req.Messages[0].MultiContent
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0].Text, "Uncaught TypeError")
	assert.Contains(t, parts[0].Text, "Levels advanced: 1")
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestEvaluateGame_Errors(t *testing.T) {
	ge, _ := fakeOpenAI(t, "I think the game is fine")
	ctx := context.Background()

	_, err := ge.EvaluateGame(ctx, Evidence{})
	assert.Equal(t, agent.ErrorCategoryConfig, agent.CategoryOf(err))

	_, err = ge.EvaluateGame(ctx, Evidence{Screenshots: writeShots(t, "initial")})
	assert.Equal(t, agent.ErrorCategoryLLM, agent.CategoryOf(err))
	assert.ErrorContains(t, err, "parse")

	missing := []*agent.ScreenshotInfo{{Label: "gone", Filepath: filepath.Join(t.TempDir(), "gone.png")}}
	_, err = ge.EvaluateGame(ctx, Evidence{Screenshots: missing})
	assert.Equal(t, agent.ErrorCategoryStorage, agent.CategoryOf(err))
}

func TestNewGameEvaluator_NeedsKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewGameEvaluator("", nil)
	assert.Equal(t, agent.ErrorCategoryConfig, agent.CategoryOf(err))

	t.Setenv("OPENAI_API_KEY", "sk-env")
	ge, err := NewGameEvaluator("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, ge.Model())
}

func TestSelectScreenshots(t *testing.T) {
	labels := make([]string, 12)
	for i := range labels {
		labels[i] = fmt.Sprintf("s%d", i)
	}
	shots := writeShots(t, labels...)

	picked := selectScreenshots(shots)
	require.Len(t, picked, maxImages)
	assert.Equal(t, "s0", picked[0].Label)
	assert.Equal(t, "s11", picked[len(picked)-1].Label)
	for i := 1; i < len(picked); i++ {
		assert.True(t, picked[i].Timestamp.After(picked[i-1].Timestamp))
	}

	assert.Len(t, selectScreenshots(shots[:3]), 3)
}

func TestBuildEvaluationPrompt(t *testing.T) {
	shots := writeShots(t, "initial")
	logs := []browser.LogEntry{
		{Level: browser.LogLevelError, Message: "e1"},
		{Level: browser.LogLevelError, Message: "e2"},
		{Level: browser.LogLevelError, Message: "e3"},
		{Level: browser.LogLevelError, Message: "e4"},
		{Level: browser.LogLevelWarning, Message: "w1"},
		{Level: browser.LogLevelInfo, Message: "hello"},
	}
	prompt := buildEvaluationPrompt(shots, Evidence{Logs: logs})

	assert.Contains(t, prompt, "Image 1: initial (captured at 15:04:05)")
	assert.Contains(t, prompt, "Total logs: 6")
	assert.Contains(t, prompt, "Errors: 4")
	assert.Contains(t, prompt, "Warnings: 1")
	assert.Contains(t, prompt, "- e3\n")
	assert.NotContains(t, prompt, "- e4\n")
	assert.NotContains(t, prompt, "Automated Play Summary")

	assert.Contains(t, buildEvaluationPrompt(shots, Evidence{}), "No console logs captured")
}

func TestStripMarkdownCodeFence(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"  {\"a\":1}  ":           `{"a":1}`,
		"```json\n{\"a\":1}":      `{"a":1}`,
	}
	for in, want := range tests {
		assert.Equal(t, want, stripMarkdownCodeFence(in), in)
	}
}

func TestSaveScoreToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "score.json")
	require.NoError(t, SaveScoreToFile(&PlayabilityScore{OverallScore: 70, Issues: []string{"x"}}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back PlayabilityScore
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 70, back.OverallScore)

	assert.Error(t, SaveScoreToFile(&PlayabilityScore{}, filepath.Join(t.TempDir(), "no", "dir", "score.json")))
}
