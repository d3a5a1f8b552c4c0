package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// Timestamps are stored as unix nanoseconds so ORDER BY is numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS ledgers (
	user_id      TEXT PRIMARY KEY,
	balance      TEXT NOT NULL,
	positions    TEXT NOT NULL DEFAULT '{}',
	last_updated INTEGER NOT NULL,
	version      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id       TEXT PRIMARY KEY,
	user_id  TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price    TEXT NOT NULL,
	side     TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_user_ts_idx ON trades (user_id, ts DESC, id DESC);
`

// SQLiteStore implements ledger.Store and the user store on a local SQLite
// file. It backs development setups, the CLI and the tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// the schema.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises anyway and this avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) getLedger(ctx context.Context, q sqlQuerier, userID string) (*models.Ledger, error) {
	var (
		l         models.Ledger
		balance   string
		positions string
		updated   int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, balance, positions, last_updated, version FROM ledgers WHERE user_id = ?`, userID).
		Scan(&l.UserID, &balance, &positions, &updated, &l.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	l.LastUpdated = time.Unix(0, updated).UTC()
	return &l, nil
}

// GetOrCreateLedger retrieves a ledger or creates it with the default balance.
func (s *SQLiteStore) GetOrCreateLedger(ctx context.Context, userID string) (*models.Ledger, error) {
	l, err := s.getLedger(ctx, s.db, userID)
	if err != nil || l != nil {
		return l, err
	}

	l = models.NewLedger(userID, time.Now().UTC().Truncate(time.Microsecond))
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledgers (user_id, balance, positions, last_updated, version)
		 VALUES (?, ?, '{}', ?, 1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, l.Balance.String(), l.LastUpdated.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("error creating ledger for user %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return s.getLedger(ctx, s.db, userID)
	}
	l.Version = 1
	return l, nil
}

// SaveLedger overwrites the ledger if its version is unchanged.
func (s *SQLiteStore) SaveLedger(ctx context.Context, l *models.Ledger) error {
	return s.saveLedger(ctx, s.db, l)
}

func (s *SQLiteStore) saveLedger(ctx context.Context, q sqlQuerier, l *models.Ledger) error {
	positions, err := encodePositions(l.Positions)
	if err != nil {
		return err
	}

	var res sql.Result
	if l.Version == 0 {
		res, err = q.ExecContext(ctx,
			`INSERT INTO ledgers (user_id, balance, positions, last_updated, version)
			 VALUES (?, ?, ?, ?, 1)
			 ON CONFLICT (user_id) DO NOTHING`,
			l.UserID, l.Balance.String(), positions, l.LastUpdated.UnixNano())
	} else {
		res, err = q.ExecContext(ctx,
			`UPDATE ledgers SET balance = ?, positions = ?, last_updated = ?, version = version + 1
			 WHERE user_id = ? AND version = ?`,
			l.Balance.String(), positions, l.LastUpdated.UnixNano(), l.UserID, l.Version)
	}
	if err != nil {
		return fmt.Errorf("error saving ledger for user %s: %w", l.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error saving ledger for user %s: %w", l.UserID, err)
	}
	if n != 1 {
		return ledger.ErrConflict
	}
	l.Version++
	return nil
}

// CommitTrade saves the ledger and appends the trade in one transaction.
func (s *SQLiteStore) CommitTrade(ctx context.Context, l *models.Ledger, t *models.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for user %s: %w", l.UserID, err)
	}
	defer tx.Rollback()

	version := l.Version
	if err := s.saveLedger(ctx, tx, l); err != nil {
		l.Version = version
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, symbol, quantity, price, side, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Symbol, t.Quantity.String(), t.Price.String(), string(t.Side), t.Timestamp.UnixNano())
	if err != nil {
		l.Version = version
		return fmt.Errorf("error inserting trade for user %s: %w", t.UserID, err)
	}
	if err := tx.Commit(); err != nil {
		l.Version = version
		return fmt.Errorf("commit trade %s for user %s: %w", t.ID, l.UserID, err)
	}
	return nil
}

// ListTrades retrieves all trades for a user, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, userID string) ([]*models.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, quantity, price, side, ts FROM trades
		 WHERE user_id = ? ORDER BY ts DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying trades for user %s: %w", userID, err)
	}
	defer rows.Close()

	trades := make([]*models.Trade, 0)
	for rows.Next() {
		var (
			t       models.Trade
			qty, px string
			side    string
			ts      int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &qty, &px, &side, &ts); err != nil {
			return nil, fmt.Errorf("error scanning trade row for user %s: %w", userID, err)
		}
		if t.Quantity, err = parseDecimal("quantity", qty); err != nil {
			return nil, err
		}
		if t.Price, err = parseDecimal("price", px); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		t.Timestamp = time.Unix(0, ts).UTC()
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Password:  passwordHash,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, username, email, passwordHash, user.CreatedAt.UnixNano())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("error creating user %s: %w", username, err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username. Returns nil, nil when absent.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`, username)
}

// GetUserByID retrieves a user by id. Returns nil, nil when absent.
func (s *SQLiteStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`, userID)
}

func (s *SQLiteStore) getUser(ctx context.Context, query, arg string) (*models.User, error) {
	var (
		u       models.User
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.Email, &u.Password, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return &u, nil
}
