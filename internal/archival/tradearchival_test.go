package archival

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/domain"
)

type stubClosedPositions struct {
	closed  []domain.Position
	deleted []string
}

func (s *stubClosedPositions) GetClosedPositions(ctx context.Context, limit int64) ([]domain.Position, error) {
	return s.closed, nil
}
func (s *stubClosedPositions) DeletePositions(ctx context.Context, ids []string) error {
	s.deleted = append(s.deleted, ids...)
	return nil
}

type stubOrderBroker struct {
	broker.Broker
	order *broker.Order
	err   error
}

func (s *stubOrderBroker) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*broker.Order, error) {
	return s.order, s.err
}

func TestTradeArchival_Transform_LongPnL(t *testing.T) {
	pos := domain.Position{
		PositionID: "p1", Symbol: "AAPL", AssetClass: domain.AssetClassEquity, Side: domain.SideBuy,
		Qty: 10, EntryFillPrice: 100, ExitFillPrice: 110,
		TargetEntryPrice: 100, CreatedAt: time.Now().Add(-time.Hour), ExitTime: time.Now(),
	}
	b := &stubOrderBroker{order: &broker.Order{OrderID: "o1", FilledPrice: 100, FilledQty: 10}}
	p := NewTradeArchivalPipeline(&stubClosedPositions{closed: []domain.Position{pos}}, b, zerolog.Nop())

	rows, err := p.Transform(context.Background(), []any{pos})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	pnlUSD := row[10].(float64)
	assert.InDelta(t, 100.0, pnlUSD, 0.01) // (110-100)*10 - 0 fees
}

func TestTradeArchival_Transform_ShortPnLIsInverted(t *testing.T) {
	pos := domain.Position{
		PositionID: "p1", Symbol: "AAPL", AssetClass: domain.AssetClassEquity, Side: domain.SideSell,
		Qty: 10, EntryFillPrice: 100, ExitFillPrice: 90,
		TargetEntryPrice: 100, CreatedAt: time.Now().Add(-time.Hour), ExitTime: time.Now(),
	}
	b := &stubOrderBroker{order: &broker.Order{OrderID: "o1", FilledPrice: 100, FilledQty: 10}}
	p := NewTradeArchivalPipeline(&stubClosedPositions{closed: []domain.Position{pos}}, b, zerolog.Nop())

	rows, err := p.Transform(context.Background(), []any{pos})
	require.NoError(t, err)
	pnlUSD := rows[0][10].(float64)
	assert.InDelta(t, 100.0, pnlUSD, 0.01) // short: (100-90)*10
}

func TestTradeArchival_Transform_FallsBackWhenOrderNotFound(t *testing.T) {
	pos := domain.Position{
		PositionID: "p1", Symbol: "BTC/USD", AssetClass: domain.AssetClassCrypto, Side: domain.SideBuy,
		Qty: 1, EntryFillPrice: 50000, ExitFillPrice: 51000, CreatedAt: time.Now(), ExitTime: time.Now(),
	}
	b := &stubOrderBroker{err: broker.ErrNotFound}
	p := NewTradeArchivalPipeline(&stubClosedPositions{closed: []domain.Position{pos}}, b, zerolog.Nop())

	rows, err := p.Transform(context.Background(), []any{pos})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 50000.0, rows[0][6]) // entry_price falls back to stored fill price
}

func TestTradeArchival_Cleanup_DeletesArchivedPositions(t *testing.T) {
	pos := domain.Position{PositionID: "p1", EntryFillPrice: 1, ExitFillPrice: 1, Qty: 1}
	store := &stubClosedPositions{closed: []domain.Position{pos}}
	b := &stubOrderBroker{err: broker.ErrNotFound}
	p := NewTradeArchivalPipeline(store, b, zerolog.Nop())

	_, err := p.Transform(context.Background(), []any{pos})
	require.NoError(t, err)
	require.NoError(t, p.Cleanup(context.Background(), nil, nil))
	assert.Equal(t, []string{"p1"}, store.deleted)
}
