package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp/kb"
)

// keyEventText maps a key name to the rune sequence chromedp.KeyEvent
// understands. Single characters pass through unchanged.
func keyEventText(key string) (string, error) {
	switch strings.ToLower(key) {
	case "arrowup", "up":
		return kb.ArrowUp, nil
	case "arrowdown", "down":
		return kb.ArrowDown, nil
	case "arrowleft", "left":
		return kb.ArrowLeft, nil
	case "arrowright", "right":
		return kb.ArrowRight, nil
	case "space", "spacebar":
		return " ", nil
	case "enter", "return":
		return kb.Enter, nil
	case "escape", "esc":
		return kb.Escape, nil
	case "tab":
		return kb.Tab, nil
	case "backspace":
		return kb.Backspace, nil
	case "delete":
		return kb.Delete, nil
	case "shift":
		return kb.Shift, nil
	}
	if len([]rune(key)) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("unknown key: %s", key)
}

// DOMKey returns the KeyboardEvent.key and KeyboardEvent.code values for a
// key name, for scripts that synthesize keyboard events in the page.
func DOMKey(key string) (string, string) {
	switch strings.ToLower(key) {
	case "arrowup", "up":
		return "ArrowUp", "ArrowUp"
	case "arrowdown", "down":
		return "ArrowDown", "ArrowDown"
	case "arrowleft", "left":
		return "ArrowLeft", "ArrowLeft"
	case "arrowright", "right":
		return "ArrowRight", "ArrowRight"
	case "space", "spacebar", " ":
		return " ", "Space"
	case "enter", "return":
		return "Enter", "Enter"
	case "escape", "esc":
		return "Escape", "Escape"
	case "tab":
		return "Tab", "Tab"
	case "backspace":
		return "Backspace", "Backspace"
	case "delete":
		return "Delete", "Delete"
	case "shift":
		return "Shift", "ShiftLeft"
	}
	r := []rune(key)
	if len(r) == 1 {
		c := r[0]
		switch {
		case c >= 'a' && c <= 'z':
			return key, "Key" + strings.ToUpper(key)
		case c >= 'A' && c <= 'Z':
			return key, "Key" + key
		case c >= '0' && c <= '9':
			return key, "Digit" + key
		}
	}
	return key, key
}
