package tray

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getlantern/systray"

	"github.com/frosk-go/frosk/internal/logger"
)

// State represents what the tray icon shows
type State int

const (
	StateListening State = iota
	StatePaused
	StateMatched
	StateFailed
)

// String returns the tooltip text for the state
func (s State) String() string {
	switch s {
	case StateListening:
		return "Listening"
	case StatePaused:
		return "Paused"
	case StateMatched:
		return "Matched"
	case StateFailed:
		return "Capture failed"
	default:
		return "Unknown"
	}
}

// flashDuration is how long the matched icon stays up
const flashDuration = time.Second

// Manager manages the system tray icon and menu
type Manager struct {
	stateMutex    sync.RWMutex
	state         State
	base          State // state to return to after a flash
	flashTimer    *time.Timer
	ready         atomic.Bool
	logger        *logger.Logger
	onReadyCb     func()
	onTogglePause func() bool
	onStatus      func()
	onQuit        func()
	menuStatus    *systray.MenuItem
	menuPause     *systray.MenuItem
	menuQuit      *systray.MenuItem

	// Icon cache
	icons map[State][]byte
}

// Config holds tray manager configuration
type Config struct {
	OnReady func() // Called when systray is ready for initialization
	// OnTogglePause flips detection and returns true when now paused
	OnTogglePause func() bool
	OnStatus      func()
	OnQuit        func()
	Logger        *logger.Logger
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	log := config.Logger
	if log == nil {
		log = logger.Discard()
	}
	m := &Manager{
		state:         StateListening,
		base:          StateListening,
		logger:        log,
		onReadyCb:     config.OnReady,
		onTogglePause: config.OnTogglePause,
		onStatus:      config.OnStatus,
		onQuit:        config.OnQuit,
	}

	listening := m.loadIconData("listening.png", listeningIcon())
	m.icons = map[State][]byte{
		StateListening: listening,
		StatePaused:    m.loadIconData("paused.png", pausedIcon()),
		StateMatched:   m.loadIconData("matched.png", matchedIcon()),
		StateFailed:    listening,
	}

	return m
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

// onReady is called when systray is ready
func (m *Manager) onReady() {
	m.ready.Store(true)
	m.stateMutex.RLock()
	m.updateIcon()
	m.stateMutex.RUnlock()

	m.menuStatus = systray.AddMenuItem("Open status", "Open the status API in a browser")
	m.menuPause = systray.AddMenuItem("Pause detection", "Pause or resume detection")

	systray.AddSeparator()

	m.menuQuit = systray.AddMenuItem("Quit", "Quit frosk")

	go m.handleMenuEvents()

	if m.onReadyCb != nil {
		m.onReadyCb()
	}
}

// onExit is called when systray is exiting
func (m *Manager) onExit() {
	m.ready.Store(false)
}

// handleMenuEvents handles menu item clicks
func (m *Manager) handleMenuEvents() {
	for {
		select {
		case <-m.menuStatus.ClickedCh:
			if m.onStatus != nil {
				m.onStatus()
			}
		case <-m.menuPause.ClickedCh:
			if m.onTogglePause != nil {
				m.SetPaused(m.onTogglePause())
			}
		case <-m.menuQuit.ClickedCh:
			if m.onQuit != nil {
				m.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

// SetState updates the tray icon based on the current state
func (m *Manager) SetState(state State) {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()
	m.stopFlash()
	m.base = state
	m.state = state
	m.updateIcon()
}

// SetPaused switches between the listening and paused states and keeps the
// menu label in sync
func (m *Manager) SetPaused(paused bool) {
	if paused {
		m.SetState(StatePaused)
	} else {
		m.SetState(StateListening)
	}
	if m.ready.Load() && m.menuPause != nil {
		if paused {
			m.menuPause.SetTitle("Resume detection")
		} else {
			m.menuPause.SetTitle("Pause detection")
		}
	}
}

// Flash shows the matched icon briefly, then returns to the previous state
func (m *Manager) Flash() {
	m.stateMutex.Lock()
	defer m.stateMutex.Unlock()

	m.stopFlash()
	m.state = StateMatched
	m.updateIcon()
	m.flashTimer = time.AfterFunc(flashDuration, func() {
		m.stateMutex.Lock()
		defer m.stateMutex.Unlock()
		m.state = m.base
		m.updateIcon()
	})
}

// GetState returns the displayed state
func (m *Manager) GetState() State {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	return m.state
}

// stopFlash cancels a pending flash revert. Caller holds stateMutex.
func (m *Manager) stopFlash() {
	if m.flashTimer != nil {
		m.flashTimer.Stop()
		m.flashTimer = nil
	}
}

// updateIcon updates the tray icon based on the current state. It is a no-op
// until the tray is running. Caller holds stateMutex.
func (m *Manager) updateIcon() {
	if !m.ready.Load() {
		return
	}
	systray.SetIcon(m.icons[m.state])
	systray.SetTooltip("frosk - " + m.state.String())
}

// Quit quits the system tray
func (m *Manager) Quit() {
	m.stateMutex.Lock()
	m.stopFlash()
	m.stateMutex.Unlock()
	systray.Quit()
}

// loadIconData loads an icon from the assets directory
// If the file cannot be loaded, it returns a fallback placeholder icon
func (m *Manager) loadIconData(filename string, fallback []byte) []byte {
	exe, err := os.Executable()
	if err != nil {
		m.logger.Debug("Cannot locate executable for icons: %v", err)
		return fallback
	}

	iconPath := filepath.Join(filepath.Dir(exe), "assets", "icon", filename)
	data, err := os.ReadFile(iconPath)
	if err != nil {
		m.logger.Debug("Using built-in icon for %s: %v", filename, err)
		return fallback
	}

	return data
}

// listeningIcon is the built-in icon for the listening state
func listeningIcon() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
		0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
		0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
		0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
		0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
		0x00, 0x18, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
		0x62, 0xfc, 0xff, 0xff, 0x3f, 0x03, 0x00, 0x00,
		0x00, 0xff, 0xff, 0x03, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60,
		0x82,
	}
}

// matchedIcon is the built-in icon shown briefly after a match
func matchedIcon() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
		0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
		0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
		0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
		0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
		0x00, 0x20, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
		0x62, 0xfc, 0xcf, 0xc0, 0xc0, 0xc0, 0xf0, 0x9f,
		0x81, 0x81, 0x81, 0x81, 0xff, 0x19, 0x18, 0x18,
		0x18, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0x03,
		0x00, 0x0c, 0x10, 0x02, 0x01, 0x8b, 0xd5, 0xf8,
		0x23, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e,
		0x44, 0xae, 0x42, 0x60, 0x82,
	}
}

// pausedIcon is the built-in icon for the paused state
func pausedIcon() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
		0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
		0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
		0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
		0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
		0x00, 0x20, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
		0x62, 0xfc, 0xcf, 0xf0, 0x9f, 0xc1, 0xc8, 0xc0,
		0xc0, 0xc0, 0xff, 0x0c, 0x0c, 0x0c, 0xfc, 0xcf,
		0xc0, 0xc0, 0xc0, 0x00, 0x00, 0x00, 0x00, 0xff,
		0xff, 0x03, 0x00, 0x0c, 0x50, 0x02, 0x01, 0x3e,
		0x0a, 0xe4, 0x5b, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
}
