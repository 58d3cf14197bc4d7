package notification

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/frosk-go/frosk/internal/detect"
)

type recorder struct {
	mu   sync.Mutex
	args [][]string
	err  error
}

func (r *recorder) run(cmd *exec.Cmd) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = append(r.args, cmd.Args)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.args)
}

func newTestManager(goos string, interval time.Duration) (*NotificationManager, *recorder) {
	rec := &recorder{}
	nm := NewNotificationManager("frosk", interval, nil)
	nm.goos = goos
	nm.run = rec.run
	return nm, rec
}

func TestNewNotificationManager(t *testing.T) {
	nm := NewNotificationManager("TestApp", time.Second, nil)

	if nm == nil {
		t.Fatal("Expected notification manager to be created")
	}

	if nm.appName != "TestApp" {
		t.Errorf("Expected appName to be TestApp, got %s", nm.appName)
	}
}

func TestSendDarwinEscapesQuotes(t *testing.T) {
	nm, rec := newTestManager("darwin", 0)

	err := nm.Send(&Notification{Title: `say "hi"`, Message: `C:\path`, Type: TypeInfo})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	args := rec.args[0]
	if args[0] != "osascript" {
		t.Fatalf("Expected osascript, got %v", args)
	}
	want := `display notification "C:\\path" with title "say \"hi\""`
	if args[2] != want {
		t.Errorf("Expected script %q, got %q", want, args[2])
	}
}

func TestSendLinuxUrgency(t *testing.T) {
	nm, rec := newTestManager("linux", 0)

	if err := nm.Send(&Notification{Title: "t", Message: "m", Type: TypeError}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	args := rec.args[0]
	if args[0] != "notify-send" || args[2] != "critical" {
		t.Errorf("Unexpected command %v", args)
	}
}

func TestSendUnsupported(t *testing.T) {
	nm, rec := newTestManager("windows", 0)

	if nm.Supported() {
		t.Error("Expected windows to be unsupported")
	}
	if err := nm.Send(&Notification{Title: "t"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if rec.count() != 0 {
		t.Error("No command should run")
	}
}

func TestSendNil(t *testing.T) {
	nm, _ := newTestManager("linux", 0)
	if err := nm.Send(nil); err == nil {
		t.Error("Expected error for nil notification")
	}
}

func TestSendCommandError(t *testing.T) {
	nm, rec := newTestManager("linux", 0)
	rec.err = errors.New("exit status 1")

	if err := nm.Send(&Notification{Title: "t"}); err == nil {
		t.Error("Expected command failure to be returned")
	}
}

func TestMatchIsRateLimited(t *testing.T) {
	nm, rec := newTestManager("linux", time.Hour)

	for range 5 {
		nm.Match(detect.Event{Kind: detect.AcousticMatch, Score: 0.8})
	}

	deadline := time.Now().Add(time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	if got := rec.count(); got != 1 {
		t.Errorf("Expected 1 notification, got %d", got)
	}
	if msg := rec.args[0][4]; msg != "Match detected (score 0.80)" {
		t.Errorf("Unexpected message %q", msg)
	}
}
