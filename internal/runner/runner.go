// Package runner drives one evaluation pass over users and their
// advertising accounts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spendguard/internal/digest"
	"spendguard/internal/eligibility"
	"spendguard/internal/engine"
	"spendguard/internal/income"
	"spendguard/internal/ledger"
	"spendguard/internal/observability"
	"spendguard/internal/platform"
	"spendguard/internal/profile"
	"spendguard/internal/stats"
	"spendguard/internal/storage"
)

const (
	AllowListFile = "allowlist.json"
	DenyListFile  = "denylist.json"
)

// Platform is what one account run needs from the ad platform.
type Platform interface {
	ListCreatives(ctx context.Context, status string) ([]platform.Creative, error)
	Describe(ctx context.Context, ids []string) (map[string]platform.Meta, error)
	GroupObjectives(ctx context.Context, groupIDs []string) (map[string]string, error)
	WindowStats(ctx context.Context, ids []string, w stats.Window, now time.Time) (map[string]stats.Raw, error)
	eligibility.Resolver
	ledger.Actuator
}

// PlatformFactory builds the client of one account.
type PlatformFactory func(acc profile.Account) Platform

type Messenger interface {
	Send(ctx context.Context, chatID, text string) error
}

type Options struct {
	UsersRoot string
	// MaxDisables caps suppressions per account run; zero or negative is unlimited.
	MaxDisables    int
	NotifyInterval time.Duration
	Location       *time.Location
	// DryRun keeps ledgers and notification state in memory only.
	DryRun bool
	Now    func() time.Time
	RunID  func() string
}

type Runner struct {
	opts      Options
	store     storage.Store
	platforms PlatformFactory
	messenger Messenger
}

func New(opts Options, store storage.Store, platforms PlatformFactory, messenger Messenger) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == nil {
		opts.RunID = uuid.NewString
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Runner{opts: opts, store: store, platforms: platforms, messenger: messenger}
}

// Run processes the given users, or every user under the users root when
// none are given. Failures are isolated per user and per account; the
// returned error is only set when the users cannot be discovered.
func (r *Runner) Run(ctx context.Context, users ...string) (*Report, error) {
	began := time.Now()
	defer func() { observability.RunDuration.Observe(time.Since(began).Seconds()) }()
	start := r.opts.Now()

	if len(users) == 0 {
		found, err := profile.Discover(r.opts.UsersRoot)
		if err != nil {
			return nil, err
		}
		users = found
	}
	rep := &Report{StartedAt: start, DryRun: r.opts.DryRun}
	if len(users) == 0 {
		log.Warn().Str("users_root", r.opts.UsersRoot).Msg("no users found")
	}
	log.Info().Int("users", len(users)).Bool("dry_run", r.opts.DryRun).Str("users_root", r.opts.UsersRoot).Msg("run started")

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			rep.addError(user, err)
			break
		}
		if err := r.runUser(ctx, user, rep); err != nil {
			log.Error().Err(err).Str("user", user).Msg("user skipped")
			observability.Errors.WithLabelValues("user").Inc()
			rep.addError(user, err)
		}
	}
	rep.FinishedAt = r.opts.Now()
	log.Info().Int("accounts", len(rep.Accounts)).Int("suppressed", rep.Total().Suppressed).
		Int("restored", rep.Total().Restored).Int("failed", rep.Total().Failed).Msg("run finished")
	return rep, nil
}

func (r *Runner) runUser(ctx context.Context, user string, rep *Report) error {
	p, err := profile.Load(r.opts.UsersRoot, user)
	if err != nil {
		return err
	}
	templates, err := loadTemplates(p.FiltersPath())
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		log.Info().Str("user", user).Msg("no policy templates; nothing to do")
		return nil
	}
	eng := engine.NewEngine(templates)

	inc, err := income.Load(p.IncomePath)
	if err != nil {
		log.Warn().Err(err).Str("user", user).Str("path", p.IncomePath).Msg("income unavailable; income conditions see zero")
	}

	accounts := p.AllAccounts()
	if len(accounts) == 0 {
		log.Warn().Str("user", user).Msg("profile has no accounts")
	}
	for _, acc := range accounts {
		if !acc.Enabled() {
			log.Debug().Str("user", user).Str("account", acc.ID).Msg("account inactive")
			continue
		}
		if !acc.Usable() {
			log.Warn().Str("user", user).Str("account", acc.DisplayName()).Msg("account without id or token skipped")
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ar := r.RunAccount(ctx, p, eng, inc, acc)
		rep.Accounts = append(rep.Accounts, ar)
	}
	return nil
}

// loadTemplates treats a missing policy document as empty.
func loadTemplates(path string) ([]engine.Template, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("policy document not found")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	templates, err := engine.ParseDocument(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return templates, nil
}

// RunAccount evaluates one account. It never panics the whole run: every
// failure ends up in the returned report.
func (r *Runner) RunAccount(ctx context.Context, p profile.Profile, eng *engine.PolicyEngine, inc *income.Store, acc profile.Account) AccountReport {
	ar := AccountReport{User: p.User, Account: acc.ID, Name: acc.DisplayName(), RunID: r.opts.RunID()}
	logger := log.With().Str("user", p.User).Str("account", acc.ID).Str("run_id", ar.RunID).Logger()
	start := r.opts.Now()

	err := r.runAccount(ctx, p, eng, inc, acc, &ar, logger)
	ar.Duration = r.opts.Now().Sub(start)
	if err != nil {
		ar.Error = err.Error()
		observability.AccountRuns.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("account run failed")
	} else {
		observability.AccountRuns.WithLabelValues("ok").Inc()
		logger.Info().Int("evaluated", ar.Evaluated).Int("suppressed", ar.Suppressed).Int("restored", ar.Restored).
			Int("skipped", ar.Skipped).Int("failed", ar.Failed).Msg("account run finished")
	}
	return ar
}

func (r *Runner) runAccount(ctx context.Context, p profile.Profile, eng *engine.PolicyEngine, inc *income.Store, acc profile.Account, ar *AccountReport, logger zerolog.Logger) error {
	plat := r.platforms(acc)
	key := storage.Key{User: p.User, Account: acc.ID}
	accDir := filepath.Join(p.Dir, acc.ID)
	now := r.opts.Now().In(r.opts.Location)

	allow, err := eligibility.LoadLists(filepath.Join(accDir, AllowListFile))
	if err != nil {
		return fmt.Errorf("allow list: %w", err)
	}
	deny, err := eligibility.LoadLists(filepath.Join(accDir, DenyListFile))
	if err != nil {
		return fmt.Errorf("deny list: %w", err)
	}
	filter, err := eligibility.Build(ctx, allow, deny, plat, acc.ManualOverride)
	if err != nil {
		return err
	}
	if filter.AllowsNothing() {
		logger.Warn().Msg("allow list resolves to no creative; no actions this run")
		led, err := r.store.LoadLedger(ctx, key)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		// transitions of earlier runs may still be waiting for a digest
		r.maybeNotify(ctx, p, acc, key, led, now, ar, logger)
		return nil
	}

	active, err := plat.ListCreatives(ctx, platform.StatusActive)
	if err != nil {
		return err
	}
	blocked, err := plat.ListCreatives(ctx, platform.StatusBlocked)
	if err != nil {
		return err
	}
	led, err := r.store.LoadLedger(ctx, key)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	var suppressCands, restoreCands []engine.Unit
	for _, c := range active {
		if filter.IsEligible(c.ID, led.IsSuppressed(c.ID)) {
			suppressCands = append(suppressCands, toUnit(c, engine.Active))
		}
	}
	for _, c := range blocked {
		// only creatives this system suppressed are reversal candidates
		if led.IsSuppressed(c.ID) && filter.IsEligible(c.ID, true) {
			restoreCands = append(restoreCands, toUnit(c, engine.Suppressed))
		}
	}
	logger.Info().Int("active", len(active)).Int("blocked", len(blocked)).
		Int("candidates", len(suppressCands)+len(restoreCands)).Msg("creatives listed")

	var evalErr error
	if len(suppressCands)+len(restoreCands) > 0 {
		evalErr = r.evaluate(ctx, plat, eng, inc, acc, led, now, suppressCands, restoreCands, ar, logger)
	}

	// transitions already applied on the platform are persisted even when
	// the evaluation stopped early
	if len(led.Pending()) > 0 {
		if r.opts.DryRun {
			logger.Info().Int("transitions", len(led.Pending())).Msg("dry run: ledger not persisted")
		} else if err := r.store.SaveLedger(context.WithoutCancel(ctx), key, led); err != nil {
			observability.Errors.WithLabelValues("ledger_io").Inc()
			return fmt.Errorf("save ledger: %w", err)
		}
	}

	if evalErr != nil {
		return evalErr
	}
	r.maybeNotify(ctx, p, acc, key, led, now, ar, logger)
	return nil
}

func toUnit(c platform.Creative, status engine.UnitStatus) engine.Unit {
	return engine.Unit{ID: c.ID, Name: c.Name, GroupID: c.GroupID, Status: status}
}

func (r *Runner) evaluate(ctx context.Context, plat Platform, eng *engine.PolicyEngine, inc *income.Store, acc profile.Account,
	led *ledger.Ledger, now time.Time, suppressCands, restoreCands []engine.Unit, ar *AccountReport, logger zerolog.Logger) error {

	all := append(append([]engine.Unit(nil), suppressCands...), restoreCands...)
	ids := make([]string, 0, len(all))
	groupSet := map[string]bool{}
	var groups []string
	for _, u := range all {
		ids = append(ids, u.ID)
		if g := u.GroupID; g != "" && !groupSet[g] {
			groupSet[g] = true
			groups = append(groups, g)
		}
	}

	objectives, err := plat.GroupObjectives(ctx, groups)
	if err != nil {
		return err
	}
	book := stats.NewBook()
	for _, w := range engine.Windows(eng.Templates()) {
		raw, err := plat.WindowStats(ctx, ids, w, now)
		if err != nil {
			// rules on this window evaluate to false
			observability.Errors.WithLabelValues("stats").Inc()
			logger.Warn().Err(err).Str("window", w.Key()).Msg("statistics unavailable for window")
			continue
		}
		book.Put(w, raw)
	}
	meta, err := plat.Describe(ctx, ids)
	if err != nil {
		logger.Warn().Err(err).Msg("creative metadata unavailable")
	}

	ectx := engine.Context{Stats: book, Income: inc, Now: now}
	rc := ledger.NewReconciler(led, plat, ledger.Options{
		MaxDisables: r.opts.MaxDisables,
		RunID:       ar.RunID,
		Now:         func() time.Time { return r.opts.Now().In(r.opts.Location) },
	})

	capLogged := false
	apply := func(u engine.Unit, action string) {
		u.Objective = objectives[u.GroupID]
		if m, ok := meta[u.ID]; ok && m.Name != "" {
			u.Name = m.Name
		}
		d := eng.Decide(acc.ID, u, ectx)
		ar.Evaluated++
		observability.Decisions.WithLabelValues(string(d.State)).Inc()
		if d.State == engine.Noop {
			return
		}
		lifetime, _ := book.Snapshot(stats.Lifetime, u.ID)
		ev := ledger.Evidence{Lifetime: lifetime, Income: inc.Total(u.ID), URL: meta[u.ID].URL}

		rec, err := rc.Apply(ctx, u, d, ev)
		switch {
		case errors.Is(err, ledger.ErrCapReached):
			ar.Skipped++
			observability.Actions.WithLabelValues(action, "skipped").Inc()
			if !capLogged {
				capLogged = true
				logger.Warn().Int("cap", r.opts.MaxDisables).Msg("suppression cap reached; remaining candidates wait for the next run")
			}
		case err != nil:
			ar.Failed++
			observability.Actions.WithLabelValues(action, "failed").Inc()
			logger.Error().Err(err).Str("unit", u.ID).Str("state", string(d.State)).Msg("status change failed")
		case rec != nil:
			observability.Actions.WithLabelValues(action, "ok").Inc()
			if rec.State == ledger.StateOff {
				ar.Suppressed++
			} else {
				ar.Restored++
			}
			logger.Info().Str("unit", u.ID).Str("state", string(d.State)).Str("template", d.TemplateID).Str("reason", d.Reason).Msg("decision applied")
		}
	}

	for _, u := range suppressCands {
		if err := ctx.Err(); err != nil {
			return err
		}
		apply(u, "suppress")
	}
	for _, u := range restoreCands {
		if err := ctx.Err(); err != nil {
			return err
		}
		apply(u, "restore")
	}
	return nil
}

func (r *Runner) maybeNotify(ctx context.Context, p profile.Profile, acc profile.Account, key storage.Key,
	led *ledger.Ledger, now time.Time, ar *AccountReport, logger zerolog.Logger) {

	interval := r.opts.NotifyInterval
	if p.NotifyIntervalMinutes != nil {
		interval = time.Duration(*p.NotifyIntervalMinutes) * time.Minute
	}
	b := digest.Batcher{Interval: interval, Location: r.opts.Location}

	state, err := r.store.LoadNotifyState(ctx, key)
	if err != nil {
		logger.Warn().Err(err).Msg("notify state unavailable; skipping digest")
		return
	}
	d := b.Maybe(led.History(), state, now)
	if d.Empty() {
		return
	}
	if r.messenger == nil || p.ChatID == "" {
		logger.Debug().Msg("no messenger or chat configured; digest kept for later")
		return
	}
	parts := d.Render(acc.DisplayName())
	for i, text := range parts {
		if err := r.messenger.Send(ctx, p.ChatID, text); err != nil {
			// state stays put, so the whole digest is retried next run
			observability.Digests.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Int("part", i+1).Int("parts", len(parts)).Msg("digest not delivered")
			return
		}
	}
	observability.Digests.WithLabelValues("sent").Inc()
	ar.DigestSent = true
	b.MarkSent(&state, now)
	if r.opts.DryRun {
		return
	}
	if err := r.store.SaveNotifyState(ctx, key, state); err != nil {
		observability.Errors.WithLabelValues("ledger_io").Inc()
		logger.Error().Err(err).Msg("save notify state")
	}
}
