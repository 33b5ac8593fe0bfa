package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"spendguard/internal/config"
	"spendguard/internal/digest"
	"spendguard/internal/ledger"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	setSuppressed = "suppressed"
	setRestored   = "restored"
)

// PostgresStore keeps ledgers in Postgres. The primary key on
// (user_id, account_id, unit_id) keeps a creative in one set only.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
	loc  *time.Location
}

const schema = `
CREATE TABLE IF NOT EXISTS spendguard_ledger (
	user_id    TEXT NOT NULL,
	account_id TEXT NOT NULL,
	unit_id    TEXT NOT NULL,
	set_name   TEXT NOT NULL CHECK (set_name IN ('suppressed', 'restored')),
	record     JSONB NOT NULL,
	PRIMARY KEY (user_id, account_id, unit_id)
);
CREATE TABLE IF NOT EXISTS spendguard_history (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	account_id  TEXT NOT NULL,
	unit_id     TEXT NOT NULL,
	state       TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	record      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS spendguard_history_account ON spendguard_history (user_id, account_id, id);
CREATE TABLE IF NOT EXISTS spendguard_notify_state (
	user_id    TEXT NOT NULL,
	account_id TEXT NOT NULL,
	last_sent  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, account_id)
);`

// NewPostgres opens a pool from the config, the same way for every command.
func NewPostgres(ctx context.Context, cfg config.Config) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s := NewPostgresWithDB(pool, cfg.Location())
	s.pool = pool
	return s, nil
}

func NewPostgresWithDB(db DB, loc *time.Location) *PostgresStore {
	return &PostgresStore{db: db, loc: loc}
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PgxPool is nil when the store was built around another DB.
func (s *PostgresStore) PgxPool() *pgxpool.Pool { return s.pool }

// Migrate creates the tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadLedger(ctx context.Context, k Key) (*ledger.Ledger, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT set_name, record
		FROM spendguard_ledger
		WHERE user_id = $1 AND account_id = $2
		ORDER BY unit_id
	`, k.User, k.Account)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	var sup, res []ledger.Record
	for rows.Next() {
		var (
			set string
			raw []byte
		)
		if err := rows.Scan(&set, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		var r ledger.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue // malformed entries are treated as absent
		}
		if set == setSuppressed {
			sup = append(sup, r)
		} else {
			res = append(res, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	hist, err := s.loadHistory(ctx, k)
	if err != nil {
		return nil, err
	}
	return ledger.FromRecords(s.loc, sup, res, hist), nil
}

func (s *PostgresStore) loadHistory(ctx context.Context, k Key) ([]ledger.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT record
		FROM spendguard_history
		WHERE user_id = $1 AND account_id = $2
		ORDER BY id
	`, k.User, k.Account)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []ledger.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var r ledger.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// SaveLedger replaces both sets and appends pending history in one transaction.
func (s *PostgresStore) SaveLedger(ctx context.Context, k Key, l *ledger.Ledger) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM spendguard_ledger WHERE user_id = $1 AND account_id = $2`, k.User, k.Account); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	sets := []struct {
		name string
		recs []ledger.Record
	}{{setSuppressed, l.Suppressed()}, {setRestored, l.Restored()}}
	for _, set := range sets {
		for _, r := range set.recs {
			raw, merr := json.Marshal(r)
			if merr != nil {
				return fmt.Errorf("encode ledger record %s: %w", r.UnitID, merr)
			}
			if _, err = tx.Exec(ctx, `
				INSERT INTO spendguard_ledger (user_id, account_id, unit_id, set_name, record)
				VALUES ($1, $2, $3, $4, $5)
			`, k.User, k.Account, r.UnitID, set.name, raw); err != nil {
				return fmt.Errorf("insert ledger record %s: %w", r.UnitID, err)
			}
		}
	}
	for _, r := range l.Pending() {
		raw, merr := json.Marshal(r)
		if merr != nil {
			return fmt.Errorf("encode history record %s: %w", r.UnitID, merr)
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO spendguard_history (user_id, account_id, unit_id, state, recorded_at, record)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, k.User, k.Account, r.UnitID, r.State, r.Timestamp, raw); err != nil {
			return fmt.Errorf("append history %s: %w", r.UnitID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	l.MarkPersisted()
	return nil
}

func (s *PostgresStore) LoadNotifyState(ctx context.Context, k Key) (digest.State, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `
		SELECT last_sent FROM spendguard_notify_state WHERE user_id = $1 AND account_id = $2
	`, k.User, k.Account).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return digest.State{}, nil
	}
	if err != nil {
		return digest.State{}, fmt.Errorf("query notify state: %w", err)
	}
	t = t.UTC()
	return digest.State{LastSent: &t}, nil
}

func (s *PostgresStore) SaveNotifyState(ctx context.Context, k Key, st digest.State) error {
	if st.LastSent == nil {
		_, err := s.db.Exec(ctx, `DELETE FROM spendguard_notify_state WHERE user_id = $1 AND account_id = $2`, k.User, k.Account)
		if err != nil {
			return fmt.Errorf("clear notify state: %w", err)
		}
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO spendguard_notify_state (user_id, account_id, last_sent)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, account_id) DO UPDATE SET last_sent = EXCLUDED.last_sent
	`, k.User, k.Account, st.LastSent.UTC())
	if err != nil {
		return fmt.Errorf("save notify state: %w", err)
	}
	return nil
}
