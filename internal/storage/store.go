// Package storage persists per-account ledgers, history and notification state.
package storage

import (
	"context"

	"spendguard/internal/digest"
	"spendguard/internal/ledger"
)

// Key addresses one advertising account of one user.
type Key struct {
	User    string
	Account string
}

// Store is implemented by the file and Postgres backends.
type Store interface {
	LoadLedger(ctx context.Context, k Key) (*ledger.Ledger, error)
	// SaveLedger writes both sets and appends the ledger's pending history.
	SaveLedger(ctx context.Context, k Key, l *ledger.Ledger) error
	LoadNotifyState(ctx context.Context, k Key) (digest.State, error)
	SaveNotifyState(ctx context.Context, k Key, s digest.State) error
}
