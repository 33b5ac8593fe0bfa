package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 12, 20, 15, 4, 5, 0, time.UTC)

func TestWindowResolve(t *testing.T) {
	tests := []struct {
		name     string
		w        Window
		wantOK   bool
		from, to string
	}{
		{"all time", NewWindow("ALL_TIME", 0), false, "", ""},
		{"empty kind is all time", NewWindow("", 0), false, "", ""},
		{"today", NewWindow("today", 0), true, "2025-12-20", "2025-12-20"},
		{"yesterday", NewWindow("YESTERDAY", 0), true, "2025-12-19", "2025-12-19"},
		{"last 3 days", NewWindow("LAST_N_DAYS", 3), true, "2025-12-18", "2025-12-20"},
		{"last n clamps to 1", NewWindow("LAST_N_DAYS", 0), true, "2025-12-20", "2025-12-20"},
		{"unknown", NewWindow("LAST_WEEK", 0), false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := tt.w.Resolve(now)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				from, to := r.Strings()
				assert.Equal(t, tt.from, from)
				assert.Equal(t, tt.to, to)
			}
		})
	}
}

func TestWindowValidAndKey(t *testing.T) {
	assert.True(t, NewWindow("ALL_TIME", 0).Valid())
	assert.False(t, NewWindow("FOREVER", 0).Valid())
	assert.Equal(t, "LAST_N_DAYS:7", NewWindow("last_n_days", 7).Key())
	assert.Equal(t, "TODAY", NewWindow("TODAY", 5).Key())
}

func TestWindowDays(t *testing.T) {
	days := NewWindow("LAST_N_DAYS", 3).Days(now)
	require.Len(t, days, 3)
	assert.Equal(t, "2025-12-20", days[0].Format(time.DateOnly))
	assert.Equal(t, "2025-12-18", days[2].Format(time.DateOnly))
	assert.Nil(t, Lifetime.Days(now))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  Raw
		want Snapshot
	}{
		{
			name: "reported costs win",
			raw:  Raw{Spent: 100, Clicks: 4, Goals: 2, CPC: 30, CPA: 60},
			want: Snapshot{Spend: 100, Clicks: 4, Conversions: 2, ClickCost: 30, ConversionCost: 60},
		},
		{
			name: "missing costs derived from ratios",
			raw:  Raw{Spent: 100, Clicks: 4, Goals: 2},
			want: Snapshot{Spend: 100, Clicks: 4, Conversions: 2, ClickCost: 25, ConversionCost: 50},
		},
		{
			name: "no volume means zero cost",
			raw:  Raw{Spent: 100},
			want: Snapshot{Spend: 100},
		},
		{
			name: "negatives clamp",
			raw:  Raw{Spent: -5, Clicks: -1, CPC: -3},
			want: Snapshot{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestParseMetric(t *testing.T) {
	for name, want := range map[string]Metric{
		"spent": Spend, "RESULTS": Conversions, "cpa": ConversionCost, "CPC": ClickCost, "CLICKS": Clicks,
	} {
		got, ok := ParseMetric(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := ParseMetric("ROAS")
	assert.False(t, ok)

	_, ok = Snapshot{}.Value(Metric("ROAS"))
	assert.False(t, ok)
}

func TestBook(t *testing.T) {
	b := NewBook()
	b.Put(Lifetime, map[string]Raw{"1": {Spent: 50, Clicks: 5}})

	s, ok := b.Snapshot(Lifetime, "1")
	require.True(t, ok)
	assert.InDelta(t, 10.0, s.ClickCost, 1e-9)

	s, ok = b.Snapshot(Lifetime, "missing")
	assert.True(t, ok)
	assert.Equal(t, Snapshot{}, s)

	_, ok = b.Snapshot(NewWindow("TODAY", 0), "1")
	assert.False(t, ok, "window never loaded")

	_, ok = b.Snapshot(NewWindow("BOGUS", 0), "1")
	assert.False(t, ok)
}
