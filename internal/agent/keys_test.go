package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemapKey(t *testing.T) {
	tests := []struct {
		key    string
		keyMap map[string]string
		want   string
	}{
		{"w", nil, "ArrowUp"},
		{"A", nil, "ArrowLeft"},
		{"s", nil, "ArrowDown"},
		{"d", nil, "ArrowRight"},
		{"Space", nil, "Space"},
		{"ArrowUp", nil, "ArrowUp"},
		{"Delete", nil, "Delete"},
		{"w", map[string]string{"w": "KeyW"}, "KeyW"},
		{"J", map[string]string{"j": "Space"}, "Space"},
		{"d", map[string]string{"j": "Space"}, "ArrowRight"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, remapKey(tt.key, tt.keyMap), "%s with %v", tt.key, tt.keyMap)
	}
}
