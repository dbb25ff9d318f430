package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/domain"
)

type stubBroker struct {
	positions  []broker.Position
	orders     []broker.Order
	openPosErr map[string]error
}

func (s *stubBroker) GetAccount(ctx context.Context) (*broker.Account, error) { return nil, nil }
func (s *stubBroker) GetPortfolioHistory(ctx context.Context, period, timeframe string) (*broker.PortfolioHistory, error) {
	return nil, nil
}
func (s *stubBroker) GetAllPositions(ctx context.Context) ([]broker.Position, error) {
	return s.positions, nil
}
func (s *stubBroker) GetOpenPosition(ctx context.Context, symbol string) (*broker.Position, error) {
	if err, ok := s.openPosErr[symbol]; ok {
		return nil, err
	}
	for _, p := range s.positions {
		if p.Symbol == symbol {
			return &p, nil
		}
	}
	return nil, broker.ErrNotFound
}
func (s *stubBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	return nil, nil
}
func (s *stubBroker) GetOrderByID(ctx context.Context, orderID string) (*broker.Order, error) {
	return nil, broker.ErrNotFound
}
func (s *stubBroker) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*broker.Order, error) {
	return nil, broker.ErrNotFound
}
func (s *stubBroker) GetOrders(ctx context.Context, filter broker.OrderFilter) ([]broker.Order, error) {
	return s.orders, nil
}
func (s *stubBroker) ReplaceOrder(ctx context.Context, orderID string, req broker.OrderRequest) (*broker.Order, error) {
	return nil, nil
}
func (s *stubBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (s *stubBroker) GetActivities(ctx context.Context, filter broker.ActivityFilter) ([]broker.Activity, error) {
	return nil, nil
}

var _ broker.Broker = (*stubBroker)(nil)

type stubPositions struct {
	open     []domain.Position
	closed   []domain.Position
	updated  []domain.Position
}

func (s *stubPositions) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return s.open, nil
}
func (s *stubPositions) GetClosedPositions(ctx context.Context, limit int64) ([]domain.Position, error) {
	return s.closed, nil
}
func (s *stubPositions) Update(ctx context.Context, p *domain.Position) error {
	s.updated = append(s.updated, *p)
	return nil
}

type stubNotifier struct{ criticals []string }

func (n *stubNotifier) SendSignal(ctx context.Context, s *domain.Signal, threadName string) (string, error) {
	return "", nil
}
func (n *stubNotifier) SendMessage(ctx context.Context, content string, threadID string, assetClass domain.AssetClass) error {
	return nil
}
func (n *stubNotifier) SendTrailUpdate(ctx context.Context, s *domain.Signal, oldStop float64, assetClass domain.AssetClass) error {
	return nil
}
func (n *stubNotifier) SendSignalUpdate(ctx context.Context, s *domain.Signal) error { return nil }
func (n *stubNotifier) SendTradeClose(ctx context.Context, s *domain.Signal, p *domain.Position, pnlUSD, pnlPct float64, duration string, reason domain.ExitReason) error {
	return nil
}
func (n *stubNotifier) SendShadowSignal(ctx context.Context, s *domain.Signal) error { return nil }
func (n *stubNotifier) SendCritical(ctx context.Context, message string) error {
	n.criticals = append(n.criticals, message)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{Environment: config.EnvProd, MinReconcileAgeMinutes: 5}
}

func TestRun_SkipsOutsideProd(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = config.EnvDev
	r := New(&stubBroker{}, &stubPositions{}, &stubNotifier{}, cfg, zerolog.Nop())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.CriticalIssues, 1)
}

func TestRun_ZombieYoungerThanMinAgeIsReportedNotHealed(t *testing.T) {
	pos := domain.Position{Symbol: "BTC/USD", PositionID: "p1", Side: domain.SideBuy, CreatedAt: time.Now()}
	r := New(&stubBroker{}, &stubPositions{open: []domain.Position{pos}}, &stubNotifier{}, testConfig(), zerolog.Nop())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USD"}, report.Zombies)
	assert.Zero(t, report.ReconciledCount)
}

func TestRun_ZombieHealedViaManualExitOrder(t *testing.T) {
	pos := domain.Position{
		Symbol: "AAPL", PositionID: "p1", Side: domain.SideBuy,
		CreatedAt: time.Now().Add(-1 * time.Hour),
	}
	b := &stubBroker{orders: []broker.Order{{OrderID: "close1", Symbol: "AAPL", Side: "sell", FilledPrice: 105}}}
	posStore := &stubPositions{open: []domain.Position{pos}}
	r := New(b, posStore, &stubNotifier{}, testConfig(), zerolog.Nop())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ReconciledCount)
	assert.Empty(t, report.Zombies)
	require.Len(t, posStore.updated, 1)
	assert.Equal(t, domain.PositionClosed, posStore.updated[0].Status)
	assert.Equal(t, domain.ExitReasonManualExit, posStore.updated[0].ExitReason)
}

func TestRun_ZombieWithNoMatchingOrderLeftOpenWithCriticalIssue(t *testing.T) {
	pos := domain.Position{
		Symbol: "AAPL", PositionID: "p1", Side: domain.SideBuy,
		CreatedAt: time.Now().Add(-1 * time.Hour),
	}
	n := &stubNotifier{}
	r := New(&stubBroker{}, &stubPositions{open: []domain.Position{pos}}, n, testConfig(), zerolog.Nop())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, report.Zombies)
	assert.Zero(t, report.ReconciledCount)
	assert.Len(t, n.criticals, 1)
}

func TestRun_OrphanDetectedAndAlerted(t *testing.T) {
	n := &stubNotifier{}
	b := &stubBroker{positions: []broker.Position{{Symbol: "ETH/USD"}}}
	r := New(b, &stubPositions{}, n, testConfig(), zerolog.Nop())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH/USD"}, report.Orphans)
	assert.Len(t, n.criticals, 1)
}

func TestRun_ReverseOrphanDetected(t *testing.T) {
	n := &stubNotifier{}
	closedPos := domain.Position{Symbol: "MSFT", PositionID: "p2"}
	b := &stubBroker{positions: []broker.Position{{Symbol: "MSFT"}}}
	r := New(b, &stubPositions{closed: []domain.Position{closedPos}}, n, testConfig(), zerolog.Nop())

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, report.ReverseOrphans)
}
