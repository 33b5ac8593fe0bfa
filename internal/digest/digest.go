// Package digest batches ledger transitions into throttled notifications.
package digest

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"spendguard/internal/ledger"
)

// State is the per-account notification state. LastSent is stored in UTC.
type State struct {
	LastSent *time.Time
}

// Digest is the set of transitions reported in one message, one entry per creative.
type Digest struct {
	Suppressed []ledger.Record
	Restored   []ledger.Record
	Latest     time.Time
}

func (d *Digest) Empty() bool {
	return d == nil || len(d.Suppressed)+len(d.Restored) == 0
}

// Batcher decides when a digest is due and what it contains.
type Batcher struct {
	Interval time.Duration
	// Location of the history timestamps.
	Location *time.Location
}

func (b Batcher) loc() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

// Due reports whether a digest may be sent at now.
func (b Batcher) Due(state State, now time.Time) bool {
	if state.LastSent == nil || b.Interval <= 0 {
		return true
	}
	return now.Sub(*state.LastSent) >= b.Interval
}

// Maybe returns the digest to send, or nil when it is not due or there is
// nothing newer than the last dispatch. It never mutates state.
func (b Batcher) Maybe(history []ledger.Record, state State, now time.Time) *Digest {
	if !b.Due(state, now) {
		return nil
	}
	type entry struct {
		rec ledger.Record
		at  time.Time
		seq int
	}
	latest := map[string]entry{}
	for i, r := range history {
		at, err := r.Time(b.loc())
		if err != nil {
			log.Debug().Str("unit", r.UnitID).Str("daytime", r.Timestamp).Msg("history entry without a usable timestamp")
			continue
		}
		if state.LastSent != nil && !at.After(*state.LastSent) {
			continue
		}
		// later entries win on equal timestamps
		if cur, ok := latest[r.UnitID]; ok && cur.at.After(at) {
			continue
		}
		latest[r.UnitID] = entry{rec: r, at: at, seq: i}
	}
	if len(latest) == 0 {
		return nil
	}

	entries := make([]entry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	d := &Digest{}
	for _, e := range entries {
		switch e.rec.State {
		case ledger.StateOff:
			d.Suppressed = append(d.Suppressed, e.rec)
		case ledger.StateOn:
			d.Restored = append(d.Restored, e.rec)
		default:
			continue
		}
		if e.at.After(d.Latest) {
			d.Latest = e.at
		}
	}
	if d.Empty() {
		return nil
	}
	return d
}

// MarkSent records a successful dispatch.
func (b Batcher) MarkSent(state *State, now time.Time) {
	t := now.UTC()
	state.LastSent = &t
}

// MaxMessageLen is the Telegram sendMessage text limit in characters.
const MaxMessageLen = 4096

// field limits keep a single escaped record well under MaxMessageLen
const (
	maxAccountLen = 100
	maxNameLen    = 100
	maxIDLen      = 50
	maxReasonLen  = 300
)

// Render formats the digest as Telegram HTML, split on record boundaries
// into messages of at most MaxMessageLen characters. Every message starts
// with the account header and the title of the section it continues.
func (d *Digest) Render(account string) []string {
	header := fmt.Sprintf("<b>[%s]</b>\n", html.EscapeString(clip(account, maxAccountLen)))
	var (
		parts []string
		sb    strings.Builder
		size  int
	)
	flush := func() {
		if size == 0 {
			return
		}
		parts = append(parts, strings.TrimRight(sb.String(), "\n"))
		sb.Reset()
		size = 0
	}
	section := func(title string, recs []ledger.Record) {
		heading := fmt.Sprintf("<b>%s:</b>\n\n", title)
		opened := false
		for _, r := range recs {
			item := renderRecord(r)
			prefix := ""
			if size == 0 {
				prefix = header
			}
			if !opened || size == 0 {
				prefix += heading
			}
			if size > 0 && size+utf8.RuneCountInString(prefix+item) > MaxMessageLen {
				flush()
				prefix = header + heading
			}
			chunk := prefix + item + "\n\n"
			sb.WriteString(chunk)
			size += utf8.RuneCountInString(chunk)
			opened = true
		}
	}
	section("Отключены баннеры", d.Suppressed)
	section("Включены баннеры", d.Restored)
	flush()
	return parts
}

func renderRecord(r ledger.Record) string {
	name := r.Name
	if name == "" {
		name = "Без названия"
	}
	s := fmt.Sprintf("<b>%s</b> #%s\n"+
		"    ⤷ Потрачено(all) = %.2f ₽ | Доход(all) = %.2f ₽\n"+
		"    ⤷ Результаты(all) = %.0f | CPA(all) = %.2f ₽ | CPC(all) = %.2f ₽",
		html.EscapeString(clip(name, maxNameLen)), html.EscapeString(clip(r.UnitID, maxIDLen)),
		float64(r.Spent), float64(r.Income),
		float64(r.Goals), float64(r.CPA), float64(r.CPC))
	if r.ShortReason != "" {
		s += "\n    ⤷ " + html.EscapeString(clip(r.ShortReason, maxReasonLen))
	}
	return s
}

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
