package execution

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBroker struct {
	account      *broker.Account
	submitted    []broker.OrderRequest
	submitResult *broker.Order
	submitErr    error
	orders       map[string]*broker.Order
	openPosErr   error
	ordersList   []broker.Order
	canceled     []string
}

func (s *stubBroker) GetAccount(ctx context.Context) (*broker.Account, error) { return s.account, nil }
func (s *stubBroker) GetPortfolioHistory(ctx context.Context, period, timeframe string) (*broker.PortfolioHistory, error) {
	return nil, nil
}
func (s *stubBroker) GetAllPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (s *stubBroker) GetOpenPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	if s.openPosErr != nil {
		return nil, s.openPosErr
	}
	return &broker.Position{Symbol: symbol}, nil
}
func (s *stubBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	s.submitted = append(s.submitted, req)
	return s.submitResult, s.submitErr
}
func (s *stubBroker) GetOrderByID(ctx context.Context, orderID string) (*broker.Order, error) {
	if o, ok := s.orders[orderID]; ok {
		return o, nil
	}
	return nil, broker.ErrNotFound
}
func (s *stubBroker) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*broker.Order, error) {
	return nil, broker.ErrNotFound
}
func (s *stubBroker) GetOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	return s.ordersList, nil
}
func (s *stubBroker) ReplaceOrder(ctx context.Context, orderID string, req broker.OrderRequest) (*broker.Order, error) {
	return &broker.Order{OrderID: "replaced-" + orderID, Status: broker.OrderStatusAccepted}, nil
}
func (s *stubBroker) CancelOrder(ctx context.Context, orderID string) error {
	s.canceled = append(s.canceled, orderID)
	return nil
}
func (s *stubBroker) GetActivities(ctx context.Context, filter broker.ActivityFilter) ([]broker.Activity, error) {
	return nil, nil
}

var _ broker.Broker = (*stubBroker)(nil)

func testConfig() *config.Config {
	return &config.Config{
		Environment:        config.EnvProd,
		EnableExecution:    true,
		AlpacaPaperTrading: true,
		RiskPerTrade:       100.0,
		MaxPositionSize:    1_000_000.0,
	}
}

func TestExecuteSignal_GatedOffWhenNotPaperTrading(t *testing.T) {
	b := &stubBroker{}
	cfg := testConfig()
	cfg.AlpacaPaperTrading = false
	e := NewEngine(b, cfg, zerolog.Nop())

	pos, err := e.ExecuteSignal(context.Background(), &domain.Signal{Symbol: "BTC/USD", EntryPrice: 100, SuggestedStop: 95, TakeProfit1: 110})
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, b.submitted)
}

func TestExecuteSignal_CryptoUsesSimpleMarketOrder(t *testing.T) {
	b := &stubBroker{submitResult: &broker.Order{OrderID: "o1", FilledPrice: 101}}
	e := NewEngine(b, testConfig(), zerolog.Nop())

	s := &domain.Signal{
		SignalID: "sig1", Symbol: "BTC/USD", AssetClass: domain.AssetClassCrypto,
		Side: domain.SideBuy, EntryPrice: 100, SuggestedStop: 95, TakeProfit1: 110,
		CreatedAt: time.Now(),
	}
	pos, err := e.ExecuteSignal(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Len(t, b.submitted, 1)
	assert.False(t, b.submitted[0].Bracket)
	assert.Equal(t, 101.0, pos.EntryFillPrice)
	// risk_per_trade(100) / risk_per_share(5) = 20
	assert.InDelta(t, 20.0, pos.Qty, 1e-9)
}

func TestExecuteSignal_EquityUsesBracketOrder(t *testing.T) {
	b := &stubBroker{submitResult: &broker.Order{OrderID: "o2", FilledPrice: 50}}
	e := NewEngine(b, testConfig(), zerolog.Nop())

	s := &domain.Signal{
		SignalID: "sig2", Symbol: "AAPL", AssetClass: domain.AssetClassEquity,
		Side: domain.SideBuy, EntryPrice: 50, SuggestedStop: 49, TakeProfit1: 53,
		CreatedAt: time.Now(),
	}
	_, err := e.ExecuteSignal(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, b.submitted, 1)
	assert.True(t, b.submitted[0].Bracket)
}

func TestCalculateRealizedPnL_ScaleOutPlusFinalExit(t *testing.T) {
	pos := &domain.Position{
		Side: domain.SideBuy, EntryFillPrice: 100, OriginalQty: 10, Qty: 5,
		ScaledOutQty: 5, ExitFillPrice: 120,
		ScaledOutPrices: []domain.ScaleOut{{Qty: 5, Price: 110}},
	}
	usd, pct := CalculateRealizedPnL(pos)
	// scaled: (110-100)*5=50; final: (120-100)*5=100; total=150
	assert.InDelta(t, 150.0, usd, 1e-6)
	assert.InDelta(t, 15.0, pct, 1e-6) // 150/(100*10)*100
}

func TestScaleOutPosition_UpdatesRemainingQty(t *testing.T) {
	b := &stubBroker{submitResult: &broker.Order{OrderID: "close1", FilledPrice: 105}}
	e := NewEngine(b, testConfig(), zerolog.Nop())

	pos := &domain.Position{PositionID: "p1", Symbol: "BTC/USD", Side: domain.SideBuy, Qty: 10}
	err := e.ScaleOutPosition(context.Background(), pos, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pos.Qty, 1e-9)
	assert.InDelta(t, 5.0, pos.ScaledOutQty, 1e-9)
	require.Len(t, pos.ScaledOutPrices, 1)
}

func TestMoveStopToBreakeven_BuyAppliesPositiveBuffer(t *testing.T) {
	b := &stubBroker{orders: map[string]*broker.Order{"sl1": {OrderID: "sl1", Status: broker.OrderStatusNew}}}
	e := NewEngine(b, testConfig(), zerolog.Nop())

	pos := &domain.Position{PositionID: "p1", Side: domain.SideBuy, EntryFillPrice: 100, SLOrderID: "sl1"}
	err := e.MoveStopToBreakeven(context.Background(), pos)
	require.NoError(t, err)
	assert.True(t, pos.BreakevenApplied)
	assert.Greater(t, pos.CurrentStopLoss, 100.0)
}

func TestClosePositionEmergency_CancelsLegsAndSubmitsMarketClose(t *testing.T) {
	b := &stubBroker{submitResult: &broker.Order{OrderID: "close2"}}
	e := NewEngine(b, testConfig(), zerolog.Nop())

	pos := &domain.Position{PositionID: "p1", Symbol: "BTC/USD", Side: domain.SideBuy, Qty: 2, TPOrderID: "tp1", SLOrderID: "sl1"}
	err := e.ClosePositionEmergency(context.Background(), pos)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tp1", "sl1"}, b.canceled)
	assert.Equal(t, domain.PositionClosed, pos.Status)
}
