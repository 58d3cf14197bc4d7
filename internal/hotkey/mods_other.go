//go:build !darwin && !windows

package hotkey

import "golang.design/x/hotkey"

// X11 maps Alt to Mod1 and Super to Mod4 on common layouts
var (
	modAlt   = hotkey.Mod1
	modSuper = hotkey.Mod4
)

var modSymbols = []struct {
	mod    hotkey.Modifier
	symbol string
}{
	{hotkey.ModCtrl, "Ctrl+"},
	{hotkey.ModShift, "Shift+"},
	{hotkey.Mod1, "Alt+"},
	{hotkey.Mod4, "Super+"},
}

var knownConflicts = []ConflictInfo{
	{
		Name:        "Close Window",
		Description: "Closes the active window on most desktops",
		Modifiers:   []hotkey.Modifier{hotkey.Mod1},
		Key:         hotkey.KeyF4,
	},
	{
		Name:        "Lock Screen",
		Description: "Locks the session on most desktops",
		Modifiers:   []hotkey.Modifier{hotkey.ModCtrl, hotkey.Mod1},
		Key:         hotkey.KeyL,
	},
}
