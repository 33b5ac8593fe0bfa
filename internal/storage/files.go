package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"spendguard/internal/digest"
	"spendguard/internal/ledger"
)

const (
	SuppressedFile  = "suppressed.json"
	RestoredFile    = "restored.json"
	HistoryFile     = "history.json"
	NotifyStateFile = "notify_state.json"

	// LegacySuppressedFile seeds the suppression ledger of accounts that
	// have no suppressed.json yet.
	LegacySuppressedFile = "disabled_banners.json"

	notifyLayout = "2006-01-02 15:04:05"
)

// FileStore keeps one directory per account under <root>/<user>/<account>.
type FileStore struct {
	root string
	loc  *time.Location
	now  func() time.Time
}

// NewFileStore roots the store at the users directory. loc is the offset of
// ledger timestamps.
func NewFileStore(root string, loc *time.Location) *FileStore {
	return &FileStore{root: root, loc: loc, now: time.Now}
}

func (s *FileStore) Dir(k Key) string {
	return filepath.Join(s.root, k.User, k.Account)
}

func (s *FileStore) LoadLedger(_ context.Context, k Key) (*ledger.Ledger, error) {
	dir := s.Dir(k)
	sup, found, err := s.readRecords(filepath.Join(dir, SuppressedFile))
	if err != nil {
		return nil, err
	}
	if !found {
		legacy := filepath.Join(dir, LegacySuppressedFile)
		if sup, _, err = s.readRecords(legacy); err != nil {
			return nil, err
		}
		if len(sup) > 0 {
			log.Info().Str("path", legacy).Int("records", len(sup)).Msg("seeding suppression ledger from legacy file")
		}
		for i := range sup {
			if sup[i].State == "" {
				sup[i].State = ledger.StateOff
			}
		}
	}
	res, _, err := s.readRecords(filepath.Join(dir, RestoredFile))
	if err != nil {
		return nil, err
	}
	hist, _, err := s.readRecords(filepath.Join(dir, HistoryFile))
	if err != nil {
		return nil, err
	}
	return ledger.FromRecords(s.loc, sup, res, hist), nil
}

// readRecords decodes a ledger or history file record by record. found is
// false when the file does not exist. Records that cannot be decoded or
// have no creative id are skipped. A file that is not a JSON list or
// object is moved aside so later writes never replace what was there.
func (s *FileStore) readRecords(path string) (recs []ledger.Record, found bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, true, nil
	}
	recs, skipped, err := decodeRecords(b)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())
		log.Warn().Err(err).Str("path", path).Str("moved_to", aside).Msg("malformed ledger file")
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, true, fmt.Errorf("move corrupt %s aside: %w", filepath.Base(path), rerr)
		}
		return nil, true, nil
	}
	if skipped > 0 {
		log.Warn().Str("path", path).Int("skipped", skipped).Msg("skipped malformed ledger records")
	}
	return recs, true, nil
}

// decodeRecords accepts a list of records or an object of records keyed
// by creative id.
func decodeRecords(b []byte) (recs []ledger.Record, skipped int, err error) {
	var list []json.RawMessage
	var keyed map[string]json.RawMessage
	var keys []string
	if err := json.Unmarshal(b, &list); err != nil {
		if kerr := json.Unmarshal(b, &keyed); kerr != nil {
			return nil, 0, err
		}
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			list = append(list, keyed[k])
		}
	}
	for i, raw := range list {
		var r ledger.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			skipped++
			continue
		}
		if r.UnitID == "" && keys != nil {
			r.UnitID = strings.TrimSpace(keys[i])
		}
		if r.UnitID == "" {
			skipped++
			continue
		}
		recs = append(recs, r)
	}
	return recs, skipped, nil
}

func (s *FileStore) SaveLedger(_ context.Context, k Key, l *ledger.Ledger) error {
	dir := s.Dir(k)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, SuppressedFile), l.Suppressed()); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, RestoredFile), l.Restored()); err != nil {
		return err
	}
	if len(l.Pending()) == 0 {
		return nil
	}
	if err := writeJSON(filepath.Join(dir, HistoryFile), l.History()); err != nil {
		return err
	}
	l.MarkPersisted()
	return nil
}

type notifyFile struct {
	LastNotifyUTC string `json:"last_notify_utc"`
}

func (s *FileStore) LoadNotifyState(_ context.Context, k Key) (digest.State, error) {
	path := filepath.Join(s.Dir(k), NotifyStateFile)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return digest.State{}, nil
	}
	if err != nil {
		return digest.State{}, fmt.Errorf("read notify state: %w", err)
	}
	var nf notifyFile
	if err := json.Unmarshal(b, &nf); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed notify state; digest is due")
		return digest.State{}, nil
	}
	if nf.LastNotifyUTC == "" {
		return digest.State{}, nil
	}
	t, err := time.ParseInLocation(notifyLayout, nf.LastNotifyUTC, time.UTC)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed notify timestamp; digest is due")
		return digest.State{}, nil
	}
	return digest.State{LastSent: &t}, nil
}

func (s *FileStore) SaveNotifyState(_ context.Context, k Key, st digest.State) error {
	dir := s.Dir(k)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	var nf notifyFile
	if st.LastSent != nil {
		nf.LastNotifyUTC = st.LastSent.UTC().Format(notifyLayout)
	}
	return writeJSON(filepath.Join(dir, NotifyStateFile), nf)
}

// writeJSON writes to a sibling temp file and renames it over the target.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
