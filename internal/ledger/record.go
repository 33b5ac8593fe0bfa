// Package ledger keeps the per-account record of creatives suppressed and
// restored by spendguard, plus the append-only history of transitions.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format of ledger and history records.
const TimeLayout = "2006-01-02 15:04:05"

const (
	StateOff = "off"
	StateOn  = "on"
)

// Amount decodes numbers and numeric strings; older ledger files store
// formatted strings such as "350.00". Anything else decodes as zero, the
// amounts are evidence only.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*a = 0
		return nil
	}
	*a = Amount(f)
	return nil
}

// Record is one transition of one creative, as persisted in the ledgers and history.
type Record struct {
	Timestamp   string `json:"daytime"`
	UnitID      string `json:"id_banner"`
	Name        string `json:"name_banner"`
	URL         string `json:"url,omitempty"`
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
	ShortReason string `json:"short_reason,omitempty"`
	Spent       Amount `json:"spent_all_time"`
	Goals       Amount `json:"goals_all_time"`
	CPA         Amount `json:"cpa_all_time"`
	Clicks      Amount `json:"clicks_all_time"`
	CPC         Amount `json:"cpc_all_time"`
	Income      Amount `json:"income_all_time"`
	RunID       string `json:"run_id,omitempty"`
}

// UnmarshalJSON accepts id_banner as a string or a number.
func (r *Record) UnmarshalJSON(b []byte) error {
	type alias Record
	aux := struct {
		*alias
		UnitID json.RawMessage `json:"id_banner"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.UnitID = ""
	if len(aux.UnitID) == 0 || string(aux.UnitID) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.UnitID, &s); err == nil {
		r.UnitID = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(aux.UnitID, &n); err != nil {
		return fmt.Errorf("id_banner: %w", err)
	}
	r.UnitID = n.String()
	return nil
}

// Time parses the record timestamp in loc.
func (r Record) Time(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, r.Timestamp, loc)
}
