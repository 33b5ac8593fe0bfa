package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"spendguard/internal/engine"
	"spendguard/internal/stats"
)

// ErrCapReached is returned when a run already performed its maximum number of suppressions.
var ErrCapReached = errors.New("suppression cap reached for this run")

// Actuator changes the delivery status of a creative on the ad platform.
type Actuator interface {
	Suppress(ctx context.Context, unitID string) error
	Restore(ctx context.Context, unitID string) error
}

// Evidence is attached to every record so notifications can show why a
// transition happened.
type Evidence struct {
	Lifetime stats.Snapshot
	Income   float64
	URL      string
}

type Options struct {
	// MaxDisables caps suppressions per run; zero or negative disables the cap.
	MaxDisables int
	RunID       string
	Now         func() time.Time
}

// Reconciler turns decisions into status changes and ledger updates for one
// account run. It is not safe for concurrent use.
type Reconciler struct {
	ledger   *Ledger
	act      Actuator
	opts     Options
	disabled int
	enabled  int
}

func NewReconciler(l *Ledger, act Actuator, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{ledger: l, act: act, opts: opts}
}

// Apply acts on one decision. It returns the appended record, or nil when
// the decision needs no transition. The ledger is only touched after the
// platform accepted the change.
func (r *Reconciler) Apply(ctx context.Context, u engine.Unit, d engine.Decision, ev Evidence) (*Record, error) {
	switch {
	case d.State == engine.Disable && u.Status == engine.Active:
		if r.opts.MaxDisables > 0 && r.disabled >= r.opts.MaxDisables {
			return nil, ErrCapReached
		}
		if err := r.act.Suppress(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("suppress %s: %w", u.ID, err)
		}
		rec := r.record(u, d, ev)
		r.ledger.markSuppressed(rec)
		r.disabled++
		log.Info().Str("unit", u.ID).Str("reason", d.ShortReason).Msg("creative suppressed")
		return &rec, nil

	case d.State == engine.Enable && u.Status == engine.Suppressed && r.ledger.IsSuppressed(u.ID):
		if err := r.act.Restore(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("restore %s: %w", u.ID, err)
		}
		rec := r.record(u, d, ev)
		r.ledger.markRestored(rec)
		r.enabled++
		log.Info().Str("unit", u.ID).Str("reason", d.ShortReason).Msg("creative restored")
		return &rec, nil
	}
	return nil, nil
}

// Disabled is the number of suppressions performed so far.
func (r *Reconciler) Disabled() int { return r.disabled }

func (r *Reconciler) Enabled() int { return r.enabled }

func (r *Reconciler) record(u engine.Unit, d engine.Decision, ev Evidence) Record {
	s := ev.Lifetime
	return Record{
		Timestamp:   r.opts.Now().In(r.ledger.Location()).Format(TimeLayout),
		UnitID:      u.ID,
		Name:        u.Name,
		URL:         ev.URL,
		Reason:      d.Reason,
		ShortReason: d.ShortReason,
		Spent:       Amount(s.Spend),
		Goals:       Amount(s.Conversions),
		CPA:         Amount(s.ConversionCost),
		Clicks:      Amount(s.Clicks),
		CPC:         Amount(s.ClickCost),
		Income:      Amount(ev.Income),
		RunID:       r.opts.RunID,
	}
}
