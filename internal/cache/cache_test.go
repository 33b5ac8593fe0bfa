package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type report struct {
	ID    string
	Count int
}

func TestSnapshotEmpty(t *testing.T) {
	var s Snapshot[*report]
	got, ok := s.Load()
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSnapshotStoreReplaces(t *testing.T) {
	var s Snapshot[report]
	s.Store(report{ID: "a", Count: 1})
	s.Store(report{ID: "b", Count: 2})

	got, ok := s.Load()
	assert.True(t, ok)
	assert.Equal(t, report{ID: "b", Count: 2}, got)
}

func TestSnapshotConcurrentAccess(t *testing.T) {
	var s Snapshot[int]
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			s.Store(v)
		}(i)
		go func() {
			defer wg.Done()
			if v, ok := s.Load(); ok {
				assert.Positive(t, v)
			}
		}()
	}
	wg.Wait()

	v, ok := s.Load()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, v, 1)
}
