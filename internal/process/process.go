// Package process maps a window title to the process that owns it.
package process

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-vgo/robotgo"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ErrNotFound is returned when no window has the requested title
	ErrNotFound = errors.New("no window with that title")
	// ErrNoProcess is returned when a pid does not name a running process
	ErrNoProcess = errors.New("process does not exist")
)

// Window is a process together with its main window title
type Window struct {
	PID   int    `json:"pid"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Lister enumerates running processes
type Lister interface {
	Processes(ctx context.Context) ([]Window, error)
	Exists(ctx context.Context, pid int) (bool, error)
}

// TitleFunc returns the main window title of pid, or "" if it has none
type TitleFunc func(pid int) string

// Resolver finds processes by window title
type Resolver struct {
	lister Lister
	title  TitleFunc
}

// NewResolver creates a resolver. Nil arguments select the gopsutil lister
// and robotgo title lookup.
func NewResolver(lister Lister, title TitleFunc) *Resolver {
	if lister == nil {
		lister = SystemLister{}
	}
	if title == nil {
		title = func(pid int) string { return robotgo.GetTitle(pid) }
	}
	return &Resolver{lister: lister, title: title}
}

// Windows lists every process that has a non-empty window title, ordered by pid.
func (r *Resolver) Windows(ctx context.Context) ([]Window, error) {
	procs, err := r.lister.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	var out []Window
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.Title = r.title(p.PID)
		if p.Title == "" {
			continue
		}
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// Resolve returns the pid of the first process (lowest pid) whose window
// title equals title exactly.
func (r *Resolver) Resolve(ctx context.Context, title string) (int, error) {
	windows, err := r.Windows(ctx)
	if err != nil {
		return 0, err
	}
	for _, w := range windows {
		if w.Title == title {
			return w.PID, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, title)
}

// Validate checks that pid names a running process.
func (r *Resolver) Validate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: invalid pid %d", ErrNoProcess, pid)
	}
	ok, err := r.lister.Exists(ctx, pid)
	if err != nil {
		return fmt.Errorf("failed to check pid %d: %w", pid, err)
	}
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrNoProcess, pid)
	}
	return nil
}

// SystemLister reads the process table through gopsutil
type SystemLister struct{}

// Processes lists running processes with their executable names
func (SystemLister) Processes(ctx context.Context) ([]Window, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Window, 0, len(procs))
	for _, p := range procs {
		// processes can exit between listing and inspection
		name, _ := p.NameWithContext(ctx)
		out = append(out, Window{PID: int(p.Pid), Name: name})
	}
	return out, nil
}

// Exists reports whether pid is running
func (SystemLister) Exists(ctx context.Context, pid int) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid))
}
