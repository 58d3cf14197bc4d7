package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frosk-go/frosk/internal/detect"
)

func TestScoresStartZeroFilled(t *testing.T) {
	s := NewScores(0)
	assert.Equal(t, DefaultRetention, s.Retention())

	snap := s.Snapshot()
	require.Len(t, snap, DefaultRetention)
	for _, v := range snap {
		require.Equal(t, float32(0), v)
	}
}

func TestScoresOrderAndEviction(t *testing.T) {
	s := NewScores(3)
	for i := 1; i <= 5; i++ {
		s.Push(float32(i))
	}
	assert.Equal(t, []float32{3, 4, 5}, s.Snapshot())

	last, total := s.Last()
	assert.Equal(t, float32(5), last)
	assert.Equal(t, uint64(5), total)
}

func TestScoresConcurrentPushAndSnapshot(t *testing.T) {
	s := NewScores(64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 10000 {
			s.Push(float32(i))
		}
	}()

	for range 200 {
		snap := s.Snapshot()
		require.Len(t, snap, 64)
		// scores are pushed in increasing order, so every snapshot is sorted
		for i := 1; i < len(snap); i++ {
			if snap[i-1] != 0 {
				require.Less(t, snap[i-1], snap[i])
			}
		}
	}
	wg.Wait()

	_, total := s.Last()
	assert.Equal(t, uint64(10000), total)
}

func TestEventsBounded(t *testing.T) {
	e := NewEvents(2)
	for i := range 3 {
		e.Append(detect.Event{Score: float32(i)})
	}

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, float32(1), snap[0].Score)
	assert.Equal(t, float32(2), snap[1].Score)
	assert.Equal(t, uint64(3), e.Total())
}

func TestEventsSnapshotIsCopy(t *testing.T) {
	e := NewEvents(0)
	e.Append(detect.Event{ID: "a"})

	snap := e.Snapshot()
	snap[0].ID = "changed"
	assert.Equal(t, "a", e.Snapshot()[0].ID)
}
