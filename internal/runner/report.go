package runner

import (
	"fmt"
	"time"
)

// AccountReport summarizes one account run.
type AccountReport struct {
	User       string        `json:"user"`
	Account    string        `json:"account"`
	Name       string        `json:"name"`
	RunID      string        `json:"run_id"`
	Evaluated  int           `json:"evaluated"`
	Suppressed int           `json:"suppressed"`
	Restored   int           `json:"restored"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	DigestSent bool          `json:"digest_sent"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

type Report struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DryRun     bool            `json:"dry_run"`
	Accounts   []AccountReport `json:"accounts"`
	Errors     []string        `json:"errors,omitempty"`
}

func (r *Report) addError(user string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("user %s: %v", user, err))
}

// Total adds up the account counters.
func (r *Report) Total() AccountReport {
	var t AccountReport
	for _, a := range r.Accounts {
		t.Evaluated += a.Evaluated
		t.Suppressed += a.Suppressed
		t.Restored += a.Restored
		t.Skipped += a.Skipped
		t.Failed += a.Failed
		t.Duration += a.Duration
	}
	return t
}

// Failed reports whether any user or account could not be processed.
func (r *Report) Failed() bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, a := range r.Accounts {
		if a.Error != "" {
			return true
		}
	}
	return false
}
