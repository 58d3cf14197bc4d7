package hotkey

import (
	"strings"

	"golang.design/x/hotkey"
)

// ConflictInfo represents information about a known shortcut conflict
type ConflictInfo struct {
	Name        string
	Description string
	Modifiers   []hotkey.Modifier
	Key         hotkey.Key
}

// CheckConflicts checks if the given hotkey conflicts with known system shortcuts
func CheckConflicts(modifiers []hotkey.Modifier, key hotkey.Key) []ConflictInfo {
	var conflicts []ConflictInfo

	for _, known := range knownConflicts {
		if hotkeyMatches(modifiers, key, known.Modifiers, known.Key) {
			conflicts = append(conflicts, known)
		}
	}

	return conflicts
}

// CheckActionConflict reports whether an unmodified hotkey is one of the keys
// the action sequence presses, which would make every match toggle pause.
func CheckActionConflict(modifiers []hotkey.Modifier, key hotkey.Key, actionKeys []string) (ConflictInfo, bool) {
	if len(modifiers) > 0 {
		return ConflictInfo{}, false
	}
	for _, name := range actionKeys {
		k, err := ParseKey(name)
		if err != nil || k != key {
			continue
		}
		return ConflictInfo{
			Name:        "Action key",
			Description: "pressed by the match action: " + strings.ToUpper(name),
			Key:         key,
		}, true
	}
	return ConflictInfo{}, false
}

// hotkeyMatches checks if two hotkey combinations are identical
func hotkeyMatches(mods1 []hotkey.Modifier, key1 hotkey.Key, mods2 []hotkey.Modifier, key2 hotkey.Key) bool {
	if key1 != key2 {
		return false
	}

	if len(mods1) != len(mods2) {
		return false
	}

	modMap := make(map[hotkey.Modifier]bool, len(mods2))
	for _, mod := range mods2 {
		modMap[mod] = true
	}

	for _, mod := range mods1 {
		if !modMap[mod] {
			return false
		}
	}

	return true
}

// FormatHotkey returns a human-readable string representation of the hotkey
func FormatHotkey(modifiers []hotkey.Modifier, key hotkey.Key) string {
	var sb strings.Builder

	// fixed order regardless of how the modifiers were listed
	for _, ms := range modSymbols {
		for _, mod := range modifiers {
			if mod == ms.mod {
				sb.WriteString(ms.symbol)
				break
			}
		}
	}

	sb.WriteString(keyToString(key))
	return sb.String()
}
