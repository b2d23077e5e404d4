package agent

import "strings"

// defaultKeyRemap turns WASD into arrow keys for games that only listen
// for arrows
var defaultKeyRemap = map[string]string{
	"w": "ArrowUp",
	"a": "ArrowLeft",
	"s": "ArrowDown",
	"d": "ArrowRight",
}

// remapKey returns the key to send for key. A caller mapping wins, matched
// exactly first and then case-insensitively; otherwise WASD become arrows.
func remapKey(key string, keyMap map[string]string) string {
	if mapped, ok := keyMap[key]; ok {
		return mapped
	}
	for from, to := range keyMap {
		if strings.EqualFold(from, key) {
			return to
		}
	}
	if mapped, ok := defaultKeyRemap[strings.ToLower(key)]; ok && len(key) == 1 {
		return mapped
	}
	return key
}
