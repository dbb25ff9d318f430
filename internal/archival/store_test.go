package archival

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore() (*Store, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return nil, nil, err
	}
	return NewWithDB(db), mock, nil
}

func sqlmockResult() sqlmock.Result {
	return sqlmock.NewResult(0, 1)
}

func TestStore_Merge_BuildsUpsertWithUnmatchedInsert(t *testing.T) {
	store, mock, err := newMockStore()
	require.NoError(t, err)

	mock.ExpectExec("MERGE INTO fact_trades AS dst USING stg_trades_import AS src ON dst.trade_id = src.trade_id").
		WillReturnResult(sqlmockResult())

	err = store.Merge(context.Background(), "stg_trades_import", "fact_trades", "trade_id",
		[]string{"trade_id", "pnl_usd"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadStaging_MultiRowInsert(t *testing.T) {
	store, mock, err := newMockStore()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO stg_trades_import").WillReturnResult(sqlmockResult())

	err = store.LoadStaging(context.Background(), "stg_trades_import", []string{"trade_id", "pnl_usd"},
		[]Row{{"t1", 10.0}, {"t2", -5.0}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadStaging_RowColumnMismatchErrors(t *testing.T) {
	store, _, err := newMockStore()
	require.NoError(t, err)

	err = store.LoadStaging(context.Background(), "stg", []string{"a", "b"}, []Row{{"only_one"}})
	require.Error(t, err)
}

func TestStore_TruncateStaging(t *testing.T) {
	store, mock, err := newMockStore()
	require.NoError(t, err)

	mock.ExpectExec("TRUNCATE TABLE stg_trades_import").WillReturnResult(sqlmockResult())

	require.NoError(t, store.TruncateStaging(context.Background(), "stg_trades_import"))
	require.NoError(t, mock.ExpectationsWereMet())
}
