package stats

// Book is the per-run, read-only metrics context: normalized snapshots
// indexed by window and creative id. Build one per account run.
type Book struct {
	byWindow map[string]map[string]Snapshot
}

func NewBook() *Book {
	return &Book{byWindow: map[string]map[string]Snapshot{}}
}

// Put stores the raw records fetched for w, normalizing each one.
func (b *Book) Put(w Window, raw map[string]Raw) {
	m := make(map[string]Snapshot, len(raw))
	for id, r := range raw {
		m[id] = Normalize(r)
	}
	b.byWindow[w.Key()] = m
}

// Has reports whether statistics for w were loaded.
func (b *Book) Has(w Window) bool {
	_, ok := b.byWindow[w.Key()]
	return ok
}

// Snapshot returns the metrics of unitID over w. A creative without a
// record in a loaded window has an all-zero snapshot; ok is false only when
// the window itself is invalid or was never loaded.
func (b *Book) Snapshot(w Window, unitID string) (Snapshot, bool) {
	if b == nil || !w.Valid() {
		return Snapshot{}, false
	}
	m, ok := b.byWindow[w.Key()]
	if !ok {
		return Snapshot{}, false
	}
	return m[unitID], true
}
