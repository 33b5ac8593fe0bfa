package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendguard/internal/engine"
	"spendguard/internal/stats"
)

type fakeActuator struct {
	suppressed []string
	restored   []string
	fail       map[string]error
}

func (f *fakeActuator) Suppress(_ context.Context, id string) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	f.suppressed = append(f.suppressed, id)
	return nil
}

func (f *fakeActuator) Restore(_ context.Context, id string) error {
	if err := f.fail[id]; err != nil {
		return err
	}
	f.restored = append(f.restored, id)
	return nil
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC) }

func active(id string) engine.Unit {
	return engine.Unit{ID: id, Name: "creative " + id, Status: engine.Active}
}

func suppressed(id string) engine.Unit {
	return engine.Unit{ID: id, Name: "creative " + id, Status: engine.Suppressed}
}

var disable = engine.Decision{State: engine.Disable, Reason: "template \"t\": cpa high", ShortReason: "cpa high"}
var enable = engine.Decision{State: engine.Enable, Reason: "template \"t\": recovered", ShortReason: "recovered"}

func TestReconcilerCap(t *testing.T) {
	l := New(time.UTC)
	act := &fakeActuator{}
	r := NewReconciler(l, act, Options{MaxDisables: 2, RunID: "run-1", Now: fixedNow})
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		rec, err := r.Apply(ctx, active(id), disable, Evidence{})
		require.NoError(t, err)
		require.NotNil(t, rec)
	}
	rec, err := r.Apply(ctx, active("C"), disable, Evidence{})
	assert.ErrorIs(t, err, ErrCapReached)
	assert.Nil(t, rec)

	assert.Equal(t, []string{"A", "B"}, act.suppressed)
	assert.True(t, l.IsSuppressed("A"))
	assert.True(t, l.IsSuppressed("B"))
	assert.False(t, l.IsSuppressed("C"))
	assert.Equal(t, 2, r.Disabled())
	assert.Len(t, l.Pending(), 2)
}

func TestReconcilerNoTransition(t *testing.T) {
	l := New(time.UTC)
	act := &fakeActuator{}
	r := NewReconciler(l, act, Options{Now: fixedNow})
	ctx := context.Background()

	tests := []struct {
		name string
		unit engine.Unit
		d    engine.Decision
	}{
		{"noop on active", active("1"), engine.Decision{State: engine.Noop}},
		{"enable on active", active("1"), enable},
		{"disable on suppressed", suppressed("2"), disable},
		{"enable on suppressed not owned", suppressed("3"), enable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := r.Apply(ctx, tt.unit, tt.d, Evidence{})
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
	assert.Empty(t, act.suppressed)
	assert.Empty(t, act.restored)
	assert.Empty(t, l.History())
}

func TestReconcilerRestoreMovesBetweenSets(t *testing.T) {
	l := New(time.UTC)
	act := &fakeActuator{}
	r := NewReconciler(l, act, Options{Now: fixedNow, RunID: "run-2"})
	ctx := context.Background()

	ev := Evidence{Lifetime: stats.Snapshot{Spend: 350, Clicks: 40, Conversions: 2, ClickCost: 8.75, ConversionCost: 175}, Income: 100, URL: "https://example.test/b/7"}
	rec, err := r.Apply(ctx, active("7"), disable, ev)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateOff, rec.State)
	assert.Equal(t, "2024-05-10 09:30:00", rec.Timestamp)
	assert.Equal(t, Amount(350), rec.Spent)
	assert.Equal(t, Amount(175), rec.CPA)
	assert.Equal(t, Amount(100), rec.Income)
	assert.Equal(t, "run-2", rec.RunID)

	rec, err = r.Apply(ctx, suppressed("7"), enable, ev)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateOn, rec.State)
	assert.False(t, l.IsSuppressed("7"))
	assert.True(t, l.IsRestored("7"))
	assert.Len(t, l.Suppressed(), 0)
	assert.Len(t, l.Restored(), 1)
	assert.Len(t, l.History(), 2)
	assert.Equal(t, []string{"7"}, act.restored)

	// suppressing again moves it back
	_, err = r.Apply(ctx, active("7"), disable, ev)
	require.NoError(t, err)
	assert.True(t, l.IsSuppressed("7"))
	assert.False(t, l.IsRestored("7"))
}

func TestReconcilerFailureLeavesLedgerUntouched(t *testing.T) {
	boom := errors.New("platform down")
	l := FromRecords(time.UTC, []Record{{UnitID: "9", Timestamp: "2024-05-01 10:00:00"}}, nil, nil)
	act := &fakeActuator{fail: map[string]error{"5": boom, "9": boom}}
	r := NewReconciler(l, act, Options{MaxDisables: 1, Now: fixedNow})
	ctx := context.Background()

	_, err := r.Apply(ctx, active("5"), disable, Evidence{})
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.IsSuppressed("5"))
	assert.Equal(t, 0, r.Disabled(), "failed suppressions do not count toward the cap")

	_, err = r.Apply(ctx, suppressed("9"), enable, Evidence{})
	assert.ErrorIs(t, err, boom)
	assert.True(t, l.IsSuppressed("9"))
	assert.Empty(t, l.Pending())

	rec, err := r.Apply(ctx, active("6"), disable, Evidence{})
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestReconcilerUncapped(t *testing.T) {
	l := New(time.UTC)
	r := NewReconciler(l, &fakeActuator{}, Options{Now: fixedNow})
	for i := 0; i < 30; i++ {
		_, err := r.Apply(context.Background(), active(string(rune('a'+i))), disable, Evidence{})
		require.NoError(t, err)
	}
	assert.Equal(t, 30, r.Disabled())
}

func TestFromRecordsExclusive(t *testing.T) {
	l := FromRecords(time.UTC,
		[]Record{
			{UnitID: "1", Timestamp: "2024-05-01 10:00:00"},
			{UnitID: "2", Timestamp: "2024-05-03 10:00:00"},
			{UnitID: ""},
		},
		[]Record{
			{UnitID: "1", Timestamp: "2024-05-02 10:00:00"},
			{UnitID: "2", Timestamp: "2024-05-02 10:00:00"},
		},
		nil,
	)
	assert.False(t, l.IsSuppressed("1"))
	assert.True(t, l.IsRestored("1"))
	assert.True(t, l.IsSuppressed("2"))
	assert.False(t, l.IsRestored("2"))
	assert.Len(t, l.Suppressed(), 1)
}

func TestRecordDecodesLegacyFields(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"daytime":"2024-05-10 09:30:00","id_banner":12345,"name_banner":"x",
		"spent_all_time":"350.00","goals_all_time":"","cpa_all_time":12.5,"clicks_all_time":null}`), &r)
	require.NoError(t, err)
	assert.Equal(t, "12345", r.UnitID)
	assert.Equal(t, Amount(350), r.Spent)
	assert.Equal(t, Amount(0), r.Goals)
	assert.Equal(t, Amount(12.5), r.CPA)

	ts, err := r.Time(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 9, ts.Hour())

	r = Record{}
	err = json.Unmarshal([]byte(`{"id_banner":"1","spent_all_time":"n/a","cpc_all_time":{"x":1},"cpa_all_time":"NaN"}`), &r)
	require.NoError(t, err)
	assert.Equal(t, "1", r.UnitID)
	assert.Equal(t, Amount(0), r.Spent)
	assert.Equal(t, Amount(0), r.CPC)
	assert.Equal(t, Amount(0), r.CPA)

	err = json.Unmarshal([]byte(`{"id_banner":{"nested":true}}`), &r)
	assert.Error(t, err)
}
