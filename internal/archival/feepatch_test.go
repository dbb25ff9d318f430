package archival

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptosignals/internal/broker"
)

type stubActivityBroker struct {
	broker.Broker
	activities []broker.Activity
	err        error
}

func (s *stubActivityBroker) GetActivities(ctx context.Context, filter broker.ActivityFilter) ([]broker.Activity, error) {
	return s.activities, s.err
}

func TestFeePatch_Extract_ScansPendingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewWithDB(db)

	rows := sqlmock.NewRows([]string{"trade_id", "entry_order_id", "exit_order_id"}).
		AddRow("t1", "e1", "x1")
	mock.ExpectQuery("SELECT trade_id, entry_order_id, exit_order_id FROM fact_trades").WillReturnRows(rows)

	p := NewFeePatchPipeline(store, &stubActivityBroker{}, zerolog.Nop())
	records, err := p.Extract(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "t1", records[0].(pendingFeeRecord).TradeID)
}

func TestFeePatch_Transform_SumsCfeeActivitiesAsPositiveFee(t *testing.T) {
	b := &stubActivityBroker{activities: []broker.Activity{{Type: "CFEE", Amount: -1.25}, {Type: "CFEE", Amount: -0.75}}}
	p := NewFeePatchPipeline(&noopFeeStore{}, b, zerolog.Nop())

	rows, err := p.Transform(context.Background(), []any{pendingFeeRecord{TradeID: "t1", EntryOrderID: "e1"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0][0])
	assert.InDelta(t, 2.0, rows[0][1].(float64), 0.001)
	assert.Equal(t, true, rows[0][4])
}

func TestFeePatch_Transform_ExcludesReversedActivityFromTotal(t *testing.T) {
	b := &stubActivityBroker{activities: []broker.Activity{
		{Type: "CFEE", Amount: -1.25},
		{Type: "CFEE", Amount: -1.25, RawJSON: []byte(`{"status":"reversed"}`)},
	}}
	p := NewFeePatchPipeline(&noopFeeStore{}, b, zerolog.Nop())

	rows, err := p.Transform(context.Background(), []any{pendingFeeRecord{TradeID: "t1", EntryOrderID: "e1"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 1.25, rows[0][1].(float64), 0.001)
}

func TestActivityIsReversal(t *testing.T) {
	assert.True(t, activityIsReversal([]byte(`{"status":"reversed"}`)))
	assert.True(t, activityIsReversal([]byte(`{"status":"void"}`)))
	assert.False(t, activityIsReversal([]byte(`{"status":"executed"}`)))
	assert.False(t, activityIsReversal(nil))
	assert.False(t, activityIsReversal([]byte(`not-json`)))
}

func TestFeePatch_Transform_SkipsWhenNoActivitiesYetVisible(t *testing.T) {
	b := &stubActivityBroker{activities: nil}
	p := NewFeePatchPipeline(&noopFeeStore{}, b, zerolog.Nop())

	rows, err := p.Transform(context.Background(), []any{pendingFeeRecord{TradeID: "t1"}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type noopFeeStore struct{}

func (noopFeeStore) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
