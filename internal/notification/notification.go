package notification

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/logger"
)

// ErrUnsupported is returned on platforms without a notification command
var ErrUnsupported = errors.New("desktop notifications are not supported on this platform")

// NotificationType represents the type of notification
type NotificationType string

const (
	// TypeInfo is an informational notification
	TypeInfo NotificationType = "info"
	// TypeMatch announces a detected match
	TypeMatch NotificationType = "match"
	// TypeError is an error notification
	TypeError NotificationType = "error"
)

// Notification represents a desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// NotificationManager handles sending notifications to the user
type NotificationManager struct {
	appName string
	goos    string
	run     func(cmd *exec.Cmd) error
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewNotificationManager creates a manager that shows at most one match
// notification per minInterval. Zero disables the limit.
func NewNotificationManager(appName string, minInterval time.Duration, log *logger.Logger) *NotificationManager {
	if log == nil {
		log = logger.Discard()
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &NotificationManager{
		appName: appName,
		goos:    runtime.GOOS,
		run:     func(cmd *exec.Cmd) error { return cmd.Run() },
		limiter: rate.NewLimiter(limit, 1),
		logger:  log,
	}
}

// Supported reports whether this platform can show notifications
func (nm *NotificationManager) Supported() bool {
	_, err := command(nm.goos, Notification{})
	return err == nil
}

// Send shows a notification through the platform notification center
func (nm *NotificationManager) Send(notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	cmd, err := command(nm.goos, *notification)
	if err != nil {
		return err
	}
	if err := nm.run(cmd); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// Match announces ev unless the rate limit has been hit. It is a
// pipeline listener and never blocks the capture goroutine.
func (nm *NotificationManager) Match(ev detect.Event) {
	if !nm.limiter.Allow() {
		return
	}
	n := &Notification{
		Title:   nm.appName,
		Message: fmt.Sprintf("Match detected (score %.2f)", ev.Score),
		Type:    TypeMatch,
	}
	go func() {
		if err := nm.Send(n); err != nil {
			nm.logger.Warn("Notification failed: %v", err)
		}
	}()
}

// command builds the OS command that displays n
func command(goos string, n Notification) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			appleScriptQuote(n.Message), appleScriptQuote(n.Title))
		return exec.Command("osascript", "-e", script), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		urgency := "normal"
		if n.Type == TypeError {
			urgency = "critical"
		}
		return exec.Command("notify-send", "-u", urgency, n.Title, n.Message), nil
	}
	return nil, ErrUnsupported
}

func appleScriptQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
