package ledger

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Ledger holds the two keyed sets and the transition history of one account.
// A creative id is in at most one of the two sets.
type Ledger struct {
	suppressed map[string]Record
	restored   map[string]Record
	history    []Record
	pending    []Record // appended to history since the last successful save
	loc        *time.Location
}

func New(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		suppressed: map[string]Record{},
		restored:   map[string]Record{},
		loc:        loc,
	}
}

// FromRecords rebuilds a ledger from persisted records. Records without an
// id are dropped. When a creative appears in both sets the newer record
// wins; on a tie the suppression is kept.
func FromRecords(loc *time.Location, suppressed, restored, history []Record) *Ledger {
	l := New(loc)
	for _, r := range suppressed {
		if r.UnitID != "" {
			l.suppressed[r.UnitID] = r
		}
	}
	for _, r := range restored {
		if r.UnitID == "" {
			continue
		}
		if s, ok := l.suppressed[r.UnitID]; ok {
			if !l.newer(r, s) {
				log.Warn().Str("unit", r.UnitID).Msg("creative in both ledgers; keeping suppression")
				continue
			}
			log.Warn().Str("unit", r.UnitID).Msg("creative in both ledgers; keeping newer restoration")
			delete(l.suppressed, r.UnitID)
		}
		l.restored[r.UnitID] = r
	}
	l.history = append(l.history, history...)
	return l
}

func (l *Ledger) newer(a, b Record) bool {
	ta, errA := a.Time(l.loc)
	tb, errB := b.Time(l.loc)
	if errA != nil || errB != nil {
		return false
	}
	return ta.After(tb)
}

func (l *Ledger) Location() *time.Location { return l.loc }

// IsSuppressed reports whether spendguard suppressed the creative and has not restored it since.
func (l *Ledger) IsSuppressed(unitID string) bool {
	_, ok := l.suppressed[unitID]
	return ok
}

func (l *Ledger) IsRestored(unitID string) bool {
	_, ok := l.restored[unitID]
	return ok
}

func (l *Ledger) Suppressed() []Record { return sorted(l.suppressed) }
func (l *Ledger) Restored() []Record   { return sorted(l.restored) }

// History returns every transition, persisted ones first.
func (l *Ledger) History() []Record {
	return append([]Record(nil), l.history...)
}

// Pending returns the transitions appended since the last MarkPersisted.
func (l *Ledger) Pending() []Record {
	return append([]Record(nil), l.pending...)
}

// MarkPersisted is called by stores after pending history was written.
func (l *Ledger) MarkPersisted() { l.pending = nil }

func (l *Ledger) markSuppressed(r Record) {
	r.State = StateOff
	delete(l.restored, r.UnitID)
	l.suppressed[r.UnitID] = r
	l.append(r)
}

func (l *Ledger) markRestored(r Record) {
	r.State = StateOn
	delete(l.suppressed, r.UnitID)
	l.restored[r.UnitID] = r
	l.append(r)
}

func (l *Ledger) append(r Record) {
	l.history = append(l.history, r)
	l.pending = append(l.pending, r)
}

func sorted(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}
