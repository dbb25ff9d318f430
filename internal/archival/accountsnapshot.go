package archival

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/pkg/formulas"
)

// AccountSnapshotPipeline captures equity/cash and performance metrics
// (drawdown, Calmar ratio) once per day — grounded on
// original_source/pipelines/account_snapshot.py, reusing
// pkg/formulas.CalculateMaxDrawdown (built for Sharpe-family ratios in
// the teacher) generalized to the Calmar guardrails below. Cleanup is
// always a no-op: the source (the broker's own account API) is
// read-only, matching the Python override that skips the cleanup step
// entirely.
type AccountSnapshotPipeline struct {
	Broker broker.Broker
	Log    zerolog.Logger
	Now    func() time.Time
}

func NewAccountSnapshotPipeline(b broker.Broker, log zerolog.Logger) *AccountSnapshotPipeline {
	return &AccountSnapshotPipeline{Broker: b, Log: log.With().Str("job", "account_snapshot").Logger(), Now: time.Now}
}

func (p *AccountSnapshotPipeline) Name() string         { return "account_snapshot" }
func (p *AccountSnapshotPipeline) StagingTable() string { return "stg_accounts_import" }
func (p *AccountSnapshotPipeline) FactTable() string    { return "snapshot_accounts" }
func (p *AccountSnapshotPipeline) IDColumn() string     { return "account_id" }
func (p *AccountSnapshotPipeline) Columns() []string {
	return []string{"account_id", "ds", "equity", "cash", "calmar_ratio", "sharpe_ratio", "drawdown_pct"}
}

type accountSnapshot struct {
	account *broker.Account
	history *broker.PortfolioHistory
}

func (p *AccountSnapshotPipeline) Extract(ctx context.Context) ([]any, error) {
	account, err := p.Broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	history, err := p.Broker.GetPortfolioHistory(ctx, "1A", "1D")
	if err != nil {
		return nil, fmt.Errorf("fetch portfolio history: %w", err)
	}
	return []any{accountSnapshot{account: account, history: history}}, nil
}

// Transform computes current drawdown and the Calmar ratio, applying the
// same three guardrails as the Python source: fewer than 30 days of
// history, a non-positive starting equity, or a zero max drawdown all
// collapse the ratio to 0 rather than dividing by zero or annualizing
// off too little data.
func (p *AccountSnapshotPipeline) Transform(ctx context.Context, records []any) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		snap := rec.(accountSnapshot)
		equity := snap.account.Equity
		cash := snap.account.Cash
		curve := snap.history.Equity

		allEquities := append(append([]float64{}, curve...), equity)
		peak := maxOf(allEquities, equity)

		drawdownPct := 0.0
		if peak > 0 {
			drawdownPct = (peak - equity) / peak * 100.0
		}

		rows = append(rows, Row{
			"primary", p.Now().UTC().Format("2006-01-02"),
			round2(equity), round2(cash), round2(calmarRatio(curve, equity)),
			round2(sharpeRatio(curve, equity)), round4(drawdownPct),
		})
	}
	return rows, nil
}

func (p *AccountSnapshotPipeline) Cleanup(ctx context.Context, records []any, rows []Row) error {
	return nil
}

// calmarRatio computes annualized-return / max-drawdown over curve, with
// current equity appended to capture today's drawdown too.
func calmarRatio(curve []float64, currentEquity float64) float64 {
	const minHistoryDays = 30

	if len(curve) < minHistoryDays {
		return 0.0
	}
	startEquity := curve[0]
	if startEquity <= 0 {
		return 0.0
	}

	days := len(curve)
	annualizedReturn := math.Pow(currentEquity/startEquity, 252.0/float64(days)) - 1.0

	maxDD := 0.0
	if dd := formulas.CalculateMaxDrawdown(append(append([]float64{}, curve...), currentEquity)); dd != nil {
		maxDD = *dd
	}
	if maxDD == 0 {
		return 0.0
	}
	if math.IsNaN(annualizedReturn) || math.IsInf(annualizedReturn, 0) {
		return 0.0
	}
	return annualizedReturn / maxDD
}

// sharpeRatio reports the daily-equity-curve Sharpe ratio (0% risk-free
// rate) alongside Calmar, giving the snapshot a volatility-adjusted
// return metric Calmar alone doesn't capture (Calmar only penalizes
// drawdown depth, not day-to-day variance).
func sharpeRatio(curve []float64, currentEquity float64) float64 {
	prices := append(append([]float64{}, curve...), currentEquity)
	sharpe := formulas.CalculateSharpeFromPrices(prices, 0.0)
	if sharpe == nil {
		return 0.0
	}
	return *sharpe
}

func maxOf(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
