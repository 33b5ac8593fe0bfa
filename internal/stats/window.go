// Package stats resolves metric windows and normalizes raw per-creative
// statistics into the fixed metric set the policy engine compares against.
package stats

import (
	"strconv"
	"strings"
	"time"
)

type WindowKind string

const (
	AllTime   WindowKind = "ALL_TIME"
	Today     WindowKind = "TODAY"
	Yesterday WindowKind = "YESTERDAY"
	LastNDays WindowKind = "LAST_N_DAYS"
)

// Window is an immutable period descriptor taken from a policy document.
type Window struct {
	Kind WindowKind
	N    int // only meaningful for LAST_N_DAYS
}

// Lifetime is the ALL_TIME window, used for ledger evidence and as the default period.
var Lifetime = Window{Kind: AllTime}

// NewWindow canonicalizes a period descriptor. An empty kind means ALL_TIME,
// LAST_N_DAYS with n < 1 is clamped to 1. Unknown kinds are kept as-is and
// reported by Valid.
func NewWindow(kind string, n int) Window {
	k := WindowKind(strings.ToUpper(strings.TrimSpace(kind)))
	switch k {
	case "":
		return Lifetime
	case LastNDays:
		if n < 1 {
			n = 1
		}
		return Window{Kind: LastNDays, N: n}
	default:
		return Window{Kind: k}
	}
}

func (w Window) Valid() bool {
	switch w.Kind {
	case AllTime, Today, Yesterday:
		return true
	case LastNDays:
		return w.N >= 1
	}
	return false
}

// Key is the canonical index of the window inside a Book.
func (w Window) Key() string {
	if w.Kind == LastNDays {
		return string(w.Kind) + ":" + strconv.Itoa(w.N)
	}
	return string(w.Kind)
}

func (w Window) String() string { return w.Key() }

// DateRange is an inclusive calendar range.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Strings formats the range the way the platform statistics API expects.
func (r DateRange) Strings() (string, string) {
	return r.From.Format(time.DateOnly), r.To.Format(time.DateOnly)
}

// Resolve maps the window to a concrete date range relative to now. ok is
// false for ALL_TIME (lifetime aggregate) and for invalid windows.
func (w Window) Resolve(now time.Time) (r DateRange, ok bool) {
	today := truncateDay(now)
	switch w.Kind {
	case Today:
		return DateRange{From: today, To: today}, true
	case Yesterday:
		d := today.AddDate(0, 0, -1)
		return DateRange{From: d, To: d}, true
	case LastNDays:
		if w.N < 1 {
			return DateRange{}, false
		}
		return DateRange{From: today.AddDate(0, 0, -(w.N - 1)), To: today}, true
	}
	return DateRange{}, false
}

// Days lists the calendar days the window covers, newest first. It is nil
// for ALL_TIME and invalid windows.
func (w Window) Days(now time.Time) []time.Time {
	r, ok := w.Resolve(now)
	if !ok {
		return nil
	}
	var out []time.Time
	for d := r.To; !d.Before(r.From); d = d.AddDate(0, 0, -1) {
		out = append(out, d)
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
