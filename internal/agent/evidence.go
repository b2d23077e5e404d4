package agent

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/dreamup/playtest/internal/browser"
	"github.com/google/uuid"
)

// Standard evidence labels used by the runner
const (
	// LabelInitial is the screenshot taken right after the game loads
	LabelInitial = "initial"
	// LabelFinal is the screenshot taken after the script ends
	LabelFinal = "final"
)

// EvidenceSink persists screenshots. The engine treats it as fire-and-forget.
type EvidenceSink interface {
	Capture(ctx context.Context, session browser.Session, label string) (*ScreenshotInfo, error)
}

// ScreenshotInfo describes one captured screenshot
type ScreenshotInfo struct {
	// Label says when or why the screenshot was taken (initial, level_1, ...)
	Label string `json:"label"`
	// Filepath is the local path to the screenshot file
	Filepath string `json:"filepath"`
	// Timestamp records when the screenshot was captured
	Timestamp time.Time `json:"timestamp"`
	// Width is the screenshot width in pixels
	Width int `json:"width"`
	// Height is the screenshot height in pixels
	Height int `json:"height"`
	// Size is the PNG size in bytes
	Size int `json:"size"`
}

// FileEvidence writes screenshots into a directory with unique filenames
type FileEvidence struct {
	dir   string
	mu    sync.Mutex
	shots []*ScreenshotInfo
}

// NewFileEvidence creates dir if needed. An empty dir means the system temp dir.
func NewFileEvidence(dir string) (*FileEvidence, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory %s: %w", dir, err)
	}
	return &FileEvidence{dir: dir}, nil
}

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Capture takes a screenshot from session and saves it as
// screenshot_<label>_<timestamp>_<uuid8>.png
func (f *FileEvidence) Capture(ctx context.Context, session browser.Session, label string) (*ScreenshotInfo, error) {
	data, err := session.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot for %s: %w", label, err)
	}

	info := &ScreenshotInfo{
		Label:     label,
		Timestamp: time.Now(),
		Size:      len(data),
	}
	if cfg, err := png.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width, info.Height = cfg.Width, cfg.Height
	}

	filename := fmt.Sprintf("screenshot_%s_%s_%s.png",
		unsafeLabel.ReplaceAllString(label, "_"),
		info.Timestamp.Format("20060102_150405"),
		uuid.New().String()[:8],
	)
	path := filepath.Join(f.dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save screenshot to %s: %w", path, err)
	}
	info.Filepath = path

	f.mu.Lock()
	f.shots = append(f.shots, info)
	f.mu.Unlock()

	return info, nil
}

// Screenshots returns everything captured so far, in capture order
func (f *FileEvidence) Screenshots() []*ScreenshotInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ScreenshotInfo, len(f.shots))
	copy(out, f.shots)
	return out
}

// Dir returns the directory screenshots are written to
func (f *FileEvidence) Dir() string {
	return f.dir
}

type nopEvidence struct{}

func (nopEvidence) Capture(context.Context, browser.Session, string) (*ScreenshotInfo, error) {
	return nil, nil
}
