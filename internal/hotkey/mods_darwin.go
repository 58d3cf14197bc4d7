package hotkey

import "golang.design/x/hotkey"

var (
	modAlt   = hotkey.ModOption
	modSuper = hotkey.ModCmd
)

var modSymbols = []struct {
	mod    hotkey.Modifier
	symbol string
}{
	{hotkey.ModCtrl, "⌃"},
	{hotkey.ModShift, "⇧"},
	{hotkey.ModOption, "⌥"},
	{hotkey.ModCmd, "⌘"},
}

// knownConflicts contains a list of known macOS shortcuts that might conflict
var knownConflicts = []ConflictInfo{
	{
		Name:        "Spotlight",
		Description: "macOS Spotlight search",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd},
		Key:         hotkey.KeySpace,
	},
	{
		Name:        "Force Quit",
		Description: "macOS Force Quit",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd, hotkey.ModOption},
		Key:         hotkey.KeyEscape,
	},
	{
		Name:        "Quit",
		Description: "Quit the frontmost application",
		Modifiers:   []hotkey.Modifier{hotkey.ModCmd},
		Key:         hotkey.KeyQ,
	},
}
