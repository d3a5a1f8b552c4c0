package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// getLedger retrieves a user's ledger. Returns nil, nil if it doesn't exist.
func (s *PostgresStore) getLedger(ctx context.Context, q PgxQuerier, userID string) (*models.Ledger, error) {
	var (
		l         models.Ledger
		balance   string
		positions string
	)
	query := `SELECT user_id, balance::text, positions::text, last_updated, version
			  FROM ledgers WHERE user_id = $1`

	err := q.QueryRow(ctx, query, userID).
		Scan(&l.UserID, &balance, &positions, &l.LastUpdated, &l.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting ledger for user %s: %w", userID, err)
	}

	if l.Balance, err = parseDecimal("balance", balance); err != nil {
		return nil, err
	}
	if l.Positions, err = decodePositions(positions); err != nil {
		return nil, err
	}
	l.LastUpdated = l.LastUpdated.UTC()
	return &l, nil
}

// GetOrCreateLedger retrieves a ledger or creates it with the default balance.
func (s *PostgresStore) GetOrCreateLedger(ctx context.Context, userID string) (*models.Ledger, error) {
	l, err := s.getLedger(ctx, s.pool, userID)
	if err != nil {
		return nil, err
	}
	if l != nil {
		return l, nil
	}

	l = models.NewLedger(userID, time.Now().UTC().Truncate(time.Microsecond))
	l.Version = 1
	query := `INSERT INTO ledgers (user_id, balance, positions, last_updated, version)
			  VALUES ($1, $2::numeric, '{}'::jsonb, $3, $4)
			  ON CONFLICT (user_id) DO NOTHING
			  RETURNING version`

	err = s.pool.QueryRow(ctx, query, userID, l.Balance.String(), l.LastUpdated, l.Version).Scan(&l.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another request created it between our read and insert.
			return s.getLedger(ctx, s.pool, userID)
		}
		return nil, fmt.Errorf("error creating ledger for user %s: %w", userID, err)
	}
	return l, nil
}

// SaveLedger overwrites the ledger if its version is unchanged.
func (s *PostgresStore) SaveLedger(ctx context.Context, l *models.Ledger) error {
	return s.saveLedger(ctx, s.pool, l)
}

func (s *PostgresStore) saveLedger(ctx context.Context, q PgxQuerier, l *models.Ledger) error {
	positions, err := encodePositions(l.Positions)
	if err != nil {
		return err
	}

	if l.Version == 0 {
		query := `INSERT INTO ledgers (user_id, balance, positions, last_updated, version)
				  VALUES ($1, $2::numeric, $3::jsonb, $4, 1)
				  ON CONFLICT (user_id) DO NOTHING`
		cmdTag, err := q.Exec(ctx, query, l.UserID, l.Balance.String(), positions, l.LastUpdated)
		if err != nil {
			return fmt.Errorf("error inserting ledger for user %s: %w", l.UserID, err)
		}
		if cmdTag.RowsAffected() != 1 {
			return ledger.ErrConflict
		}
		l.Version = 1
		return nil
	}

	query := `UPDATE ledgers
			  SET balance = $2::numeric, positions = $3::jsonb, last_updated = $4, version = version + 1
			  WHERE user_id = $1 AND version = $5`
	cmdTag, err := q.Exec(ctx, query, l.UserID, l.Balance.String(), positions, l.LastUpdated, l.Version)
	if err != nil {
		return fmt.Errorf("error saving ledger for user %s: %w", l.UserID, err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ledger.ErrConflict
	}
	l.Version++
	return nil
}

// CommitTrade saves the ledger and appends the trade in one transaction.
func (s *PostgresStore) CommitTrade(ctx context.Context, l *models.Ledger, t *models.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for user %s: %w", l.UserID, err)
	}
	defer tx.Rollback(ctx)

	version := l.Version
	if err := s.saveLedger(ctx, tx, l); err != nil {
		l.Version = version
		return err
	}
	if err := s.insertTrade(ctx, tx, t); err != nil {
		l.Version = version
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		l.Version = version
		return fmt.Errorf("commit trade %s for user %s: %w", t.ID, l.UserID, err)
	}
	return nil
}

func (s *PostgresStore) insertTrade(ctx context.Context, q PgxQuerier, t *models.Trade) error {
	query := `INSERT INTO trades (id, user_id, symbol, quantity, price, side, ts)
			  VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7)`
	_, err := q.Exec(ctx, query,
		t.ID, t.UserID, t.Symbol, t.Quantity.String(), t.Price.String(), string(t.Side), t.Timestamp)
	if err != nil {
		return fmt.Errorf("error inserting trade for user %s: %w", t.UserID, err)
	}
	return nil
}

// ListTrades retrieves all trades for a user, newest first.
func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]*models.Trade, error) {
	trades := make([]*models.Trade, 0)
	query := `SELECT id, user_id, symbol, quantity::text, price::text, side, ts
			  FROM trades
			  WHERE user_id = $1
			  ORDER BY ts DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying trades for user %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t       models.Trade
			qty, px string
			side    string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &qty, &px, &side, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning trade row for user %s: %w", userID, err)
		}
		if t.Quantity, err = parseDecimal("quantity", qty); err != nil {
			return nil, err
		}
		if t.Price, err = parseDecimal("price", px); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, &t)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating trade rows for user %s: %w", userID, rows.Err())
	}
	return trades, nil
}
