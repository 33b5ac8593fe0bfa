package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitterBounds(t *testing.T) {
	tests := []struct {
		name string
		base time.Duration
		min  time.Duration
		max  time.Duration
	}{
		{"configured", 4 * time.Second, 2 * time.Second, 6 * time.Second},
		{"zero falls back to a second", 0, 500 * time.Millisecond, 1500 * time.Millisecond},
		{"negative", -time.Second, 500 * time.Millisecond, 1500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := jitter(tt.base)
				assert.GreaterOrEqual(t, got, tt.min)
				assert.Less(t, got, tt.max)
			}
		})
	}
}

func TestDebouncer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &debouncer{window: 200 * time.Millisecond, now: func() time.Time { return now }}

	assert.True(t, d.allow())
	now = now.Add(50 * time.Millisecond)
	assert.False(t, d.allow())
	now = now.Add(199 * time.Millisecond)
	assert.True(t, d.allow())
	now = now.Add(200 * time.Millisecond)
	assert.True(t, d.allow())
}
