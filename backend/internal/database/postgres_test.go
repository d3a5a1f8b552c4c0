package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

// openPostgres connects to DATABASE_URL, skipping the test when it is unset.
// Tests use fresh random user ids.
func openPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, url, zap.NewNop())
	require.NoError(t, err)
	s := NewPostgresStore(pool)
	t.Cleanup(func() { s.Close() })
	return s
}

func pgTrade(userID, symbol string, ts time.Time) *models.Trade {
	return &models.Trade{
		ID: uuid.NewString(), UserID: userID, Symbol: symbol,
		Quantity: decimal.NewFromInt(1), Price: decimal.RequireFromString("10.25"),
		Side: models.SideBuy, Timestamp: ts.UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresSaveLedgerVersionCheck(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()
	user := uuid.NewString()

	l, err := s.GetOrCreateLedger(ctx, user)
	require.NoError(t, err)
	assert.True(t, l.Balance.Equal(models.DefaultBalance))
	assert.EqualValues(t, 1, l.Version)

	stale := l.Clone()
	l.Balance = l.Balance.Add(decimal.NewFromInt(5))
	require.NoError(t, s.SaveLedger(ctx, l))
	assert.EqualValues(t, 2, l.Version)

	stale.Balance = decimal.Zero
	assert.ErrorIs(t, s.SaveLedger(ctx, stale), ledger.ErrConflict)

	got, err := s.GetOrCreateLedger(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "100005", got.Balance.String())
	assert.EqualValues(t, 2, got.Version)
}

func TestPostgresCommitTradeAndList(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()
	user := uuid.NewString()

	l, err := s.GetOrCreateLedger(ctx, user)
	require.NoError(t, err)

	base := time.Now()
	first := pgTrade(user, "TCS", base)
	l.Positions["TCS"] = decimal.NewFromInt(1)
	require.NoError(t, s.CommitTrade(ctx, l, first))
	second := pgTrade(user, "INFY", base.Add(time.Second))
	l.Positions["INFY"] = decimal.NewFromInt(1)
	require.NoError(t, s.CommitTrade(ctx, l, second))
	assert.EqualValues(t, 3, l.Version)

	trades, err := s.ListTrades(ctx, user)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, second.ID, trades[0].ID)
	assert.Equal(t, first.ID, trades[1].ID)
	assert.Equal(t, "10.25", trades[0].Price.String())

	got, err := s.GetOrCreateLedger(ctx, user)
	require.NoError(t, err)
	assert.Len(t, got.Positions, 2)
}

func TestPostgresCommitTradeConflictLeavesNoTrade(t *testing.T) {
	s := openPostgres(t)
	ctx := context.Background()
	user := uuid.NewString()

	l, err := s.GetOrCreateLedger(ctx, user)
	require.NoError(t, err)
	stale := l.Clone()
	require.NoError(t, s.SaveLedger(ctx, l))

	err = s.CommitTrade(ctx, stale, pgTrade(user, "IBM", time.Now()))
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.EqualValues(t, 1, stale.Version)

	trades, err := s.ListTrades(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
