// Package income aggregates per-day revenue attributions by creative.
package income

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"spendguard/internal/stats"
)

// DayLayout is the day format of the income ledger file.
const DayLayout = "02.01.2006"

// Store holds lifetime totals and a day index. It is read-only once built.
type Store struct {
	total map[string]float64
	byDay map[string]map[string]float64
}

func Empty() *Store {
	return &Store{total: map[string]float64{}, byDay: map[string]map[string]float64{}}
}

type entry struct {
	Day  string         `json:"day"`
	Data map[string]any `json:"data"`
}

// Load reads an income file: [{"day":"DD.MM.YYYY","data":{"<id>":amount}}].
// The returned store is never nil; on error it is empty.
func Load(path string) (*Store, error) {
	if path == "" {
		return Empty(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Empty(), fmt.Errorf("read income file %s: %w", path, err)
	}
	return Parse(b)
}

// Parse builds a store from the raw file content. Entries with a bad day,
// a non-object payload or non-numeric/negative amounts are skipped.
func Parse(b []byte) (*Store, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(b, &entries); err != nil {
		return Empty(), fmt.Errorf("decode income file: %w", err)
	}
	s := Empty()
	for _, raw := range entries {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil || e.Data == nil {
			continue
		}
		day, err := time.Parse(DayLayout, strings.TrimSpace(e.Day))
		if err != nil {
			continue
		}
		s.add(day.Format(DayLayout), e.Data)
	}
	return s, nil
}

func (s *Store) add(day string, data map[string]any) {
	m, ok := s.byDay[day]
	if !ok {
		m = map[string]float64{}
		s.byDay[day] = m
	}
	for id, v := range data {
		amount, ok := toFloat(v)
		if !ok || amount < 0 {
			continue
		}
		s.total[id] += amount
		m[id] += amount
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// Total is the lifetime income of a creative.
func (s *Store) Total(unitID string) float64 { return s.total[unitID] }

// ForWindow sums income of unitID over w, counting days relative to now.
// ok is false for an invalid window.
func (s *Store) ForWindow(unitID string, w stats.Window, now time.Time) (float64, bool) {
	if !w.Valid() {
		return 0, false
	}
	if w.Kind == stats.AllTime {
		return s.Total(unitID), true
	}
	var sum float64
	for _, d := range w.Days(now) {
		sum += s.byDay[d.Format(DayLayout)][unitID]
	}
	return sum, true
}

// Days reports how many distinct days were loaded.
func (s *Store) Days() int { return len(s.byDay) }

// Units reports how many creatives have any income.
func (s *Store) Units() int { return len(s.total) }
