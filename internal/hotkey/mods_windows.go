package hotkey

import "golang.design/x/hotkey"

var (
	modAlt   = hotkey.ModAlt
	modSuper = hotkey.ModWin
)

var modSymbols = []struct {
	mod    hotkey.Modifier
	symbol string
}{
	{hotkey.ModCtrl, "Ctrl+"},
	{hotkey.ModShift, "Shift+"},
	{hotkey.ModAlt, "Alt+"},
	{hotkey.ModWin, "Win+"},
}

// knownConflicts contains a list of known Windows shortcuts that might conflict
var knownConflicts = []ConflictInfo{
	{
		Name:        "Task Manager",
		Description: "Opens Task Manager",
		Modifiers:   []hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift},
		Key:         hotkey.KeyEscape,
	},
	{
		Name:        "Close Window",
		Description: "Closes the active window",
		Modifiers:   []hotkey.Modifier{hotkey.ModAlt},
		Key:         hotkey.KeyF4,
	},
	{
		Name:        "Lock",
		Description: "Locks the workstation",
		Modifiers:   []hotkey.Modifier{hotkey.ModWin},
		Key:         hotkey.KeyL,
	},
	{
		Name:        "IME Switch",
		Description: "Input method editor switch",
		Modifiers:   []hotkey.Modifier{hotkey.ModWin},
		Key:         hotkey.KeySpace,
	},
}
