package ledger

import (
	"context"

	"github.com/user/papertrade/backend/internal/models"
)

// Store persists ledgers and the trade log.
//
// Implementations live in the database package (Postgres and SQLite).
type Store interface {
	// GetOrCreateLedger returns the user's ledger, inserting a default one
	// (models.NewLedger) if none exists yet.
	GetOrCreateLedger(ctx context.Context, userID string) (*models.Ledger, error)

	// SaveLedger overwrites the stored ledger. It fails with ErrConflict
	// when the stored version differs from l.Version, and bumps l.Version
	// on success.
	SaveLedger(ctx context.Context, l *models.Ledger) error

	// CommitTrade saves l (same rules as SaveLedger) and appends t to the
	// trade log in a single transaction.
	CommitTrade(ctx context.Context, l *models.Ledger, t *models.Trade) error

	// ListTrades returns the user's trades, newest first.
	ListTrades(ctx context.Context, userID string) ([]*models.Trade, error)
}
