// Package risk implements the Capital Preservation Layer: five ordered,
// fail-fast gates invoked before execution, grounded on
// original_source/engine/risk.py generalized to fail-closed per spec.md
// §4.6 (the Python draft fails some gates open on error; the spec is
// authoritative and blocks on any internal error).
package risk

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Result is the outcome of one gate or the whole pipeline.
type Result struct {
	Passed bool
	Reason string
	Gate   string
}

func blocked(gate, reason string) Result { return Result{Passed: false, Reason: reason, Gate: gate} }

var passed = Result{Passed: true}

// PositionRepository is the narrow read interface the engine needs from
// internal/repository.
type PositionRepository interface {
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
}

// CorrelationBars supplies 90-day daily closes for the correlation gate.
type CorrelationBars interface {
	Closes(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]float64, error)
}

// Config is the subset of env-controlled thresholds the engine reads.
type Config struct {
	MaxDailyDrawdownPct float64
	MaxCryptoPositions  int
	MaxEquityPositions  int
	MinAssetBPUSD       float64
}

// Engine runs the five gates in order against a candidate Signal.
type Engine struct {
	Broker     broker.Broker
	Repository PositionRepository
	Bars       CorrelationBars
	Config     Config
}

func NewEngine(b broker.Broker, repo PositionRepository, bars CorrelationBars, cfg Config) *Engine {
	return &Engine{Broker: b, Repository: repo, Bars: bars, Config: cfg}
}

// Validate orchestrates all five gates, fail-fast in the fixed order
// mandated by spec.md §4.6.
func (e *Engine) Validate(ctx context.Context, s *domain.Signal) Result {
	if r := e.checkDailyDrawdown(ctx); !r.Passed {
		return r
	}
	if r := e.checkDuplicateSymbol(ctx, s); !r.Passed {
		return r
	}
	if r := e.checkSectorCap(ctx, s); !r.Passed {
		return r
	}
	if r := e.checkCorrelation(ctx, s); !r.Passed {
		return r
	}
	if r := e.checkBuyingPower(ctx, s); !r.Passed {
		return r
	}
	return passed
}

// checkDailyDrawdown: (equity - last_equity)/last_equity < -|MAX_DAILY_DRAWDOWN_PCT| blocks.
// Zero last_equity passes. Any internal error blocks (fail-closed).
func (e *Engine) checkDailyDrawdown(ctx context.Context) Result {
	account, err := e.Broker.GetAccount(ctx)
	if err != nil {
		return blocked("drawdown", fmt.Sprintf("error checking drawdown: %v", err))
	}
	if account.LastEquity == 0 {
		return passed
	}
	drawdownPct := (account.Equity - account.LastEquity) / account.LastEquity
	threshold := -absF(e.Config.MaxDailyDrawdownPct)
	if drawdownPct < threshold {
		return blocked("drawdown", fmt.Sprintf("daily drawdown limit hit: %.4f < %.4f", drawdownPct, threshold))
	}
	return passed
}

// checkDuplicateSymbol blocks any open Position with the same symbol (no
// pyramiding).
func (e *Engine) checkDuplicateSymbol(ctx context.Context, s *domain.Signal) Result {
	positions, err := e.Repository.GetOpenPositions(ctx)
	if err != nil {
		return blocked("duplicate", fmt.Sprintf("error checking duplicate: %v", err))
	}
	for _, p := range positions {
		if p.Symbol == s.Symbol {
			return blocked("duplicate", fmt.Sprintf("duplicate position: %s is already open (%s)", s.Symbol, p.PositionID))
		}
	}
	return passed
}

// checkSectorCap: broker is the source of truth. Blocks when filled
// positions + pending BUY orders in the same asset class >= the
// configured cap.
func (e *Engine) checkSectorCap(ctx context.Context, s *domain.Signal) Result {
	limit := e.Config.MaxEquityPositions
	if s.AssetClass == domain.AssetClassCrypto {
		limit = e.Config.MaxCryptoPositions
	}

	positions, err := e.Broker.GetAllPositions(ctx)
	if err != nil {
		return blocked("sector_cap", fmt.Sprintf("error checking sector cap: %v", err))
	}
	filled := 0
	for _, p := range positions {
		if p.AssetClass == s.AssetClass {
			filled++
		}
	}

	orders, err := e.Broker.GetOrders(ctx, broker.OrderFilter{Status: "open"})
	if err != nil {
		return blocked("sector_cap", fmt.Sprintf("error checking sector cap: %v", err))
	}
	pendingBuys := 0
	for _, o := range orders {
		if o.AssetClass == s.AssetClass && strings.EqualFold(o.Side, "buy") {
			pendingBuys++
		}
	}

	total := filled + pendingBuys
	if total >= limit {
		return blocked("sector_cap", fmt.Sprintf("max %s positions reached: %d/%d (%d filled + %d pending)",
			s.AssetClass, total, limit, filled, pendingBuys))
	}
	return passed
}

// checkCorrelation computes the Pearson correlation of 90-day daily
// closes between the candidate and every open position; any pair > 0.8
// blocks. Missing data for the candidate or any existing position blocks
// (fail-closed), per spec.md §4.6 — this is stricter than the Python
// draft's "skip if no market provider".
func (e *Engine) checkCorrelation(ctx context.Context, s *domain.Signal) Result {
	positions, err := e.Repository.GetOpenPositions(ctx)
	if err != nil {
		return blocked("correlation", fmt.Sprintf("error checking correlation: %v", err))
	}
	if len(positions) == 0 {
		return passed
	}

	candidateCloses, err := e.Bars.Closes(ctx, s.Symbol, s.AssetClass, 90)
	if err != nil || len(candidateCloses) == 0 {
		return blocked("correlation", fmt.Sprintf("missing candidate price history for %s", s.Symbol))
	}

	for _, p := range positions {
		otherCloses, err := e.Bars.Closes(ctx, p.Symbol, p.AssetClass, 90)
		if err != nil || len(otherCloses) == 0 {
			return blocked("correlation", fmt.Sprintf("missing price history for open position %s", p.Symbol))
		}
		n := min(len(candidateCloses), len(otherCloses))
		if n < 2 {
			return blocked("correlation", fmt.Sprintf("insufficient overlapping history for %s", p.Symbol))
		}
		corr := stat.Correlation(candidateCloses[len(candidateCloses)-n:], otherCloses[len(otherCloses)-n:], nil)
		if corr > 0.8 {
			return blocked("correlation", fmt.Sprintf("correlation with %s too high: %.3f", p.Symbol, corr))
		}
	}
	return passed
}

// checkBuyingPower: crypto uses non-marginable BP, equity uses Reg-T BP.
func (e *Engine) checkBuyingPower(ctx context.Context, s *domain.Signal) Result {
	account, err := e.Broker.GetAccount(ctx)
	if err != nil {
		return blocked("buying_power", fmt.Sprintf("error checking buying power: %v", err))
	}
	available := account.RegTBuyingPower
	if s.AssetClass == domain.AssetClassCrypto {
		available = account.NonMarginableBuyingPower
	}
	if available < e.Config.MinAssetBPUSD {
		return blocked("buying_power", fmt.Sprintf("insufficient buying power: %.2f < %.2f", available, e.Config.MinAssetBPUSD))
	}
	return passed
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
