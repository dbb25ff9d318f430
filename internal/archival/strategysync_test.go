package archival

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptosignals/internal/domain"
)

func TestConfigHash_StableAcrossAssetOrder(t *testing.T) {
	a := domain.StrategyConfig{ID: "s1", Active: true, Assets: []string{"AAPL", "BTC/USD"}}
	b := domain.StrategyConfig{ID: "s1", Active: true, Assets: []string{"BTC/USD", "AAPL"}}
	if configHash(a) != configHash(b) {
		t.Fatal("hash must not depend on asset slice order")
	}
}

func TestConfigHash_ChangesWithActiveFlag(t *testing.T) {
	a := domain.StrategyConfig{ID: "s1", Active: true}
	b := domain.StrategyConfig{ID: "s1", Active: false}
	if configHash(a) == configHash(b) {
		t.Fatal("hash must change when a tracked field changes")
	}
}

func TestStrategySync_Transform_UnchangedStrategySkipsWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewWithDB(db)

	s := domain.StrategyConfig{ID: "s1", Active: true, Timeframe: "1D"}
	rows := sqlmock.NewRows([]string{"strategy_id", "config_hash"}).AddRow("s1", configHash(s))
	mock.ExpectQuery("SELECT strategy_id, config_hash FROM dim_strategies").WillReturnRows(rows)

	p := NewStrategySyncPipeline(nil, store, zerolog.Nop())
	p.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	out, err := p.Transform(context.Background(), []any{s})
	require.NoError(t, err)
	require.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategySync_Transform_ChangedStrategyClosesPriorAndInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewWithDB(db)

	s := domain.StrategyConfig{ID: "s1", Active: true, Timeframe: "1D"}
	rows := sqlmock.NewRows([]string{"strategy_id", "config_hash"}).AddRow("s1", "stale-hash")
	mock.ExpectQuery("SELECT strategy_id, config_hash FROM dim_strategies").WillReturnRows(rows)
	mock.ExpectExec("UPDATE dim_strategies SET valid_to").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dim_strategies").WillReturnResult(sqlmock.NewResult(1, 1))

	p := NewStrategySyncPipeline(nil, store, zerolog.Nop())
	p.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	out, err := p.Transform(context.Background(), []any{s})
	require.NoError(t, err)
	require.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStrategySync_Transform_NewStrategyInsertsWithoutClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewWithDB(db)

	s := domain.StrategyConfig{ID: "s2", Active: true}
	mock.ExpectQuery("SELECT strategy_id, config_hash FROM dim_strategies").
		WillReturnRows(sqlmock.NewRows([]string{"strategy_id", "config_hash"}))
	mock.ExpectExec("INSERT INTO dim_strategies").WillReturnResult(sqlmock.NewResult(1, 1))

	p := NewStrategySyncPipeline(nil, store, zerolog.Nop())
	p.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	_, err = p.Transform(context.Background(), []any{s})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
