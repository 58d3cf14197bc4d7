package process

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	procs []Window
	err   error
}

func (f fakeLister) Processes(context.Context) ([]Window, error) {
	return append([]Window(nil), f.procs...), f.err
}

func (f fakeLister) Exists(_ context.Context, pid int) (bool, error) {
	for _, p := range f.procs {
		if p.PID == pid {
			return true, nil
		}
	}
	return false, f.err
}

var titles = map[int]string{
	10: "",
	20: "World of Warcraft",
	30: "Notepad",
	40: "World of Warcraft",
}

func newFakeResolver() *Resolver {
	return NewResolver(fakeLister{procs: []Window{
		{PID: 40, Name: "wow.exe"},
		{PID: 30, Name: "notepad.exe"},
		{PID: 20, Name: "wow.exe"},
		{PID: 10, Name: "svchost.exe"},
	}}, func(pid int) string { return titles[pid] })
}

func TestResolveExactTitle(t *testing.T) {
	r := newFakeResolver()

	pid, err := r.Resolve(context.Background(), "World of Warcraft")
	require.NoError(t, err)
	assert.Equal(t, 20, pid)

	_, err = r.Resolve(context.Background(), "world of warcraft")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWindowsSkipsUntitled(t *testing.T) {
	windows, err := newFakeResolver().Windows(context.Background())
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, Window{PID: 20, Name: "wow.exe", Title: "World of Warcraft"}, windows[0])
	assert.Equal(t, 30, windows[1].PID)
}

func TestListerError(t *testing.T) {
	r := NewResolver(fakeLister{err: errors.New("denied")}, func(int) string { return "" })
	_, err := r.Resolve(context.Background(), "x")
	assert.ErrorContains(t, err, "denied")
}

func TestResolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newFakeResolver().Resolve(ctx, "Notepad")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	r := newFakeResolver()
	assert.NoError(t, r.Validate(context.Background(), 30))
	assert.ErrorIs(t, r.Validate(context.Background(), 99), ErrNoProcess)
	assert.ErrorIs(t, r.Validate(context.Background(), 0), ErrNoProcess)
}

func TestSystemListerSeesSelf(t *testing.T) {
	ok, err := SystemLister{}.Exists(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.True(t, ok)
}
