package evaluator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dreamup/playtest/internal/agent"
	"github.com/dreamup/playtest/internal/browser"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultModel has vision capabilities
const DefaultModel = "gpt-4o"

// maxImages is the most screenshots sent in one request
const maxImages = 5

// PlayabilityScore represents the evaluation result from the LLM
type PlayabilityScore struct {
	// OverallScore is the overall playability score (0-100)
	OverallScore int `json:"overall_score"`
	// LoadsCorrectly indicates if the game loaded without errors
	LoadsCorrectly bool `json:"loads_correctly"`
	// InteractivityScore rates how responsive the game is (0-100)
	InteractivityScore int `json:"interactivity_score"`
	// VisualQuality rates the visual presentation (0-100)
	VisualQuality int `json:"visual_quality"`
	// ErrorSeverity rates the severity of any errors found (0-100, 0=none)
	ErrorSeverity int `json:"error_severity"`
	// Reasoning explains the LLM's evaluation rationale
	Reasoning string `json:"reasoning"`
	// Issues lists specific problems found during evaluation
	Issues []string `json:"issues"`
	// Recommendations suggests improvements
	Recommendations []string `json:"recommendations"`
}

// Evidence is everything the evaluator looks at for one run
type Evidence struct {
	Screenshots []*agent.ScreenshotInfo
	Logs        []browser.LogEntry
	Outcome     *agent.Outcome
}

// GameEvaluator handles LLM-based game evaluation
type GameEvaluator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewGameEvaluator creates an evaluator on the public OpenAI API. An empty
// apiKey falls back to OPENAI_API_KEY.
func NewGameEvaluator(apiKey string, logger *zap.Logger) (*GameEvaluator, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, agent.NewConfigError("no OpenAI credentials", errors.New("OPENAI_API_KEY not provided and not found in environment"))
		}
	}
	return NewGameEvaluatorWithConfig(openai.DefaultConfig(apiKey), logger), nil
}

// NewGameEvaluatorWithConfig creates an evaluator on a custom endpoint
func NewGameEvaluatorWithConfig(cfg openai.ClientConfig, logger *zap.Logger) *GameEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameEvaluator{
		client: openai.NewClientWithConfig(cfg),
		model:  DefaultModel,
		logger: logger.Named("evaluator"),
	}
}

// SetModel changes the model used for scoring
func (ge *GameEvaluator) SetModel(model string) {
	if model != "" {
		ge.model = model
	}
}

// Model returns the model used for scoring
func (ge *GameEvaluator) Model() string {
	return ge.model
}

// encodeScreenshot reads a saved screenshot as base64
func encodeScreenshot(shot *agent.ScreenshotInfo) (string, error) {
	data, err := os.ReadFile(shot.Filepath)
	if err != nil {
		return "", fmt.Errorf("failed to read screenshot %s: %w", shot.Filepath, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("screenshot %s is empty", shot.Filepath)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// selectScreenshots keeps the first and last captures and fills the rest
// from the middle, in capture order.
func selectScreenshots(shots []*agent.ScreenshotInfo) []*agent.ScreenshotInfo {
	if len(shots) <= maxImages {
		return shots
	}
	out := make([]*agent.ScreenshotInfo, 0, maxImages)
	out = append(out, shots[0])
	middle := shots[1 : len(shots)-1]
	step := float64(len(middle)) / float64(maxImages-2)
	for i := 0; i < maxImages-2; i++ {
		out = append(out, middle[int(float64(i)*step)])
	}
	return append(out, shots[len(shots)-1])
}

// buildEvaluationPrompt constructs the prompt for LLM evaluation
func buildEvaluationPrompt(shots []*agent.ScreenshotInfo, ev Evidence) string {
	var b strings.Builder
	b.WriteString(`You are a QA expert evaluating a web-based game's playability. Analyze the provided screenshots and console logs to assess the game's quality.

Evaluation Criteria:
1. **Loads Correctly**: Did the game load without critical errors?
2. **Interactivity**: Does the game appear responsive and functional?
3. **Visual Quality**: Are visuals rendering correctly (no broken images, proper layout)?
4. **Errors**: Are there console errors that impact gameplay?

Screenshots Context:
`)
	for i, shot := range shots {
		fmt.Fprintf(&b, "- Image %d: %s (captured at %s)\n", i+1, shot.Label, shot.Timestamp.Format("15:04:05"))
	}

	b.WriteString("\nConsole Logs Summary:\n")
	if len(ev.Logs) == 0 {
		b.WriteString("- No console logs captured\n")
	} else {
		var errs, warnings []browser.LogEntry
		for _, entry := range ev.Logs {
			switch entry.Level {
			case browser.LogLevelError:
				errs = append(errs, entry)
			case browser.LogLevelWarning:
				warnings = append(warnings, entry)
			}
		}
		fmt.Fprintf(&b, "- Total logs: %d\n", len(ev.Logs))
		fmt.Fprintf(&b, "- Errors: %d\n", len(errs))
		fmt.Fprintf(&b, "- Warnings: %d\n", len(warnings))
		if len(errs) > 0 {
			b.WriteString("\nSample Errors:\n")
			for i, entry := range errs {
				if i == 3 {
					break
				}
				fmt.Fprintf(&b, "- %s\n", entry.Message)
			}
		}
	}

	if ev.Outcome != nil {
		o := ev.Outcome
		b.WriteString("\nAutomated Play Summary:\n")
		fmt.Fprintf(&b, "- Script status: %s\n", o.Status)
		fmt.Fprintf(&b, "- Actions run: %d (failed: %d)\n", o.ActionsRun, o.ActionsFailed)
		fmt.Fprintf(&b, "- Levels advanced: %d\n", o.LevelsAdvanced)
		succeeded := 0
		for _, a := range o.Attempts {
			if a.Succeeded {
				succeeded++
			}
		}
		fmt.Fprintf(&b, "- Overlay resolution attempts: %d (succeeded: %d)\n", len(o.Attempts), succeeded)
	}

	b.WriteString(`
Provide your evaluation as a JSON object with this structure:
{
  "overall_score": <0-100>,
  "loads_correctly": <true/false>,
  "interactivity_score": <0-100>,
  "visual_quality": <0-100>,
  "error_severity": <0-100, where 0=no errors, 100=critical errors>,
  "reasoning": "<explanation of scores>",
  "issues": ["<issue 1>", "<issue 2>"],
  "recommendations": ["<recommendation 1>", "<recommendation 2>"]
}

Analyze the images and logs carefully, then respond with ONLY the JSON object.`)
	return b.String()
}

// EvaluateGame scores a run from its screenshots, console logs and outcome
func (ge *GameEvaluator) EvaluateGame(ctx context.Context, ev Evidence) (*PlayabilityScore, error) {
	if len(ev.Screenshots) == 0 {
		return nil, agent.NewConfigError("nothing to evaluate", errors.New("no screenshots provided for evaluation"))
	}

	shots := selectScreenshots(ev.Screenshots)
	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: buildEvaluationPrompt(shots, ev),
	}}
	for _, shot := range shots {
		encoded, err := encodeScreenshot(shot)
		if err != nil {
			return nil, agent.NewStorageError("failed to encode screenshot", err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/png;base64," + encoded,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: ge.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
		MaxTokens:   1500,
		Temperature: 0.3,
	}

	ge.logger.Info("Requesting playability score.", zap.String("model", ge.model), zap.Int("images", len(shots)))
	resp, err := ge.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, agent.NewLLMError("failed to create chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, agent.NewLLMError("empty completion", errors.New("no response choices returned from API"))
	}

	text := stripMarkdownCodeFence(resp.Choices[0].Message.Content)
	var score PlayabilityScore
	if err := json.Unmarshal([]byte(text), &score); err != nil {
		ge.logger.Debug("Unparseable completion.", zap.String("raw", text))
		return nil, agent.NewLLMError("failed to parse LLM response as JSON", err)
	}
	ge.logger.Info("Received playability score.", zap.Int("overall", score.OverallScore), zap.Int("issues", len(score.Issues)))
	return &score, nil
}

// stripMarkdownCodeFence removes ```json and ``` wrappers
func stripMarkdownCodeFence(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimSpace(strings.TrimPrefix(text, fence))
			if idx := strings.Index(text, "```"); idx != -1 {
				text = text[:idx]
			}
			break
		}
	}
	return strings.TrimSpace(text)
}

// SaveScoreToFile saves the playability score to a JSON file
func SaveScoreToFile(score *PlayabilityScore, path string) error {
	data, err := json.MarshalIndent(score, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write score to %s: %w", path, err)
	}
	return nil
}
