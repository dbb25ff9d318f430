package archival

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/domain"
)

// cryptoTakerFeePct is the base-tier taker fee used for the initial fee
// estimate at T+0; FeePatchPipeline reconciles it against the broker's
// actual CFEE activity once visible (spec.md §4.10), grounded on
// rejected_signal_archival.py's CRYPTO_TAKER_FEE_PCT constant.
const cryptoTakerFeePct = 0.0025

// ClosedPositionStore is the narrow repository slice TradeArchivalPipeline
// needs.
type ClosedPositionStore interface {
	GetClosedPositions(ctx context.Context, limit int64) ([]domain.Position, error)
	DeletePositions(ctx context.Context, positionIDs []string) error
}

// TradeArchivalPipeline moves CLOSED positions from the operational store
// to the analytical fact_trades table, enriching with the broker's own
// order record for exact fill details — grounded on
// original_source/pipelines/trade_archival.py's "Enrich-Extract-Load"
// pattern.
type TradeArchivalPipeline struct {
	Positions ClosedPositionStore
	Broker    broker.Broker
	Log       zerolog.Logger

	loaded []domain.Position
}

func NewTradeArchivalPipeline(positions ClosedPositionStore, b broker.Broker, log zerolog.Logger) *TradeArchivalPipeline {
	return &TradeArchivalPipeline{Positions: positions, Broker: b, Log: log.With().Str("job", "trade_archival").Logger()}
}

func (p *TradeArchivalPipeline) Name() string         { return "trade_archival" }
func (p *TradeArchivalPipeline) StagingTable() string { return "stg_trades_import" }
func (p *TradeArchivalPipeline) FactTable() string    { return "fact_trades" }
func (p *TradeArchivalPipeline) IDColumn() string     { return "trade_id" }
func (p *TradeArchivalPipeline) Columns() []string {
	return []string{
		"trade_id", "strategy_id", "asset_class", "symbol", "side",
		"qty", "entry_price", "exit_price", "entry_time", "exit_time",
		"pnl_usd", "pnl_pct", "fees_usd", "slippage_pct", "trade_duration",
		"exit_reason", "fee_finalized", "fee_calculation_type",
		"actual_fee_usd", "entry_order_id", "exit_order_id",
	}
}

// Extract returns CLOSED positions eligible for archival. The operational
// store only ever holds CLOSED or OPEN positions (FAILED positions never
// reach the broker and are dropped at execution time), so no status
// filter is required beyond what GetClosedPositions already applies.
func (p *TradeArchivalPipeline) Extract(ctx context.Context) ([]any, error) {
	const batchLimit = 500
	positions, err := p.Positions.GetClosedPositions(ctx, batchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch closed positions: %w", err)
	}
	records := make([]any, len(positions))
	for i, pos := range positions {
		records[i] = pos
	}
	return records, nil
}

// Transform enriches each position with the broker's own order record
// (the source of truth for entry price/qty) before computing PnL, fee,
// and slippage metrics. Fees are the position's recorded commission, or,
// for crypto with no commission recorded, a taker-fee estimate on entry
// plus exit notional.
func (p *TradeArchivalPipeline) Transform(ctx context.Context, records []any) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	p.loaded = p.loaded[:0]

	for _, rec := range records {
		pos := rec.(domain.Position)

		entryPrice, qty := pos.EntryFillPrice, pos.Qty
		var entryOrderID string
		// position_id doubles as the entry order's client order id
		// (spec.md §4.5's idempotency key), so it is the lookup key here
		// rather than the broker-assigned order id.
		if order, err := p.Broker.GetOrderByClientOrderID(ctx, pos.PositionID); err == nil && order != nil {
			if order.FilledPrice > 0 {
				entryPrice = order.FilledPrice
			}
			if order.FilledQty > 0 {
				qty = order.FilledQty
			}
			entryOrderID = order.OrderID
		} else {
			p.Log.Warn().Str("position_id", pos.PositionID).Err(err).
				Msg("broker order not found, falling back to stored fill data")
			entryOrderID = pos.BrokerOrderID
		}

		fees := pos.Commission
		feeType := "ESTIMATED"
		if fees == 0 && pos.AssetClass == domain.AssetClassCrypto {
			fees = (entryPrice*qty + pos.ExitFillPrice*qty) * cryptoTakerFeePct
		}

		pnlGross := (pos.ExitFillPrice - entryPrice) * qty
		if pos.Side == domain.SideSell {
			pnlGross = (entryPrice - pos.ExitFillPrice) * qty
		}
		pnlUSD := pnlGross - fees
		costBasis := entryPrice * qty
		pnlPct := 0.0
		if costBasis != 0 {
			pnlPct = pnlUSD / costBasis * 100.0
		}

		slippagePct := 0.0
		if pos.TargetEntryPrice != 0 {
			if pos.Side == domain.SideBuy {
				slippagePct = (entryPrice - pos.TargetEntryPrice) / pos.TargetEntryPrice * 100.0
			} else {
				slippagePct = (pos.TargetEntryPrice - entryPrice) / pos.TargetEntryPrice * 100.0
			}
		}

		duration := int64(0)
		if !pos.ExitTime.IsZero() && !pos.CreatedAt.IsZero() {
			duration = int64(pos.ExitTime.Sub(pos.CreatedAt).Seconds())
		}

		rows = append(rows, Row{
			pos.PositionID, pos.SignalID, string(pos.AssetClass), pos.Symbol, string(pos.Side),
			qty, entryPrice, pos.ExitFillPrice, pos.CreatedAt, exitTimeOrZero(pos),
			round2(pnlUSD), round4(pnlPct), round2(fees), round4(slippagePct), duration,
			string(pos.ExitReason), false, feeType,
			nil, entryOrderID, pos.ExitOrderID,
		})
		p.loaded = append(p.loaded, pos)
	}

	return rows, nil
}

// Cleanup deletes every successfully archived position from the
// operational store, matching base.py's batch-delete cleanup step.
func (p *TradeArchivalPipeline) Cleanup(ctx context.Context, records []any, rows []Row) error {
	if len(p.loaded) == 0 {
		return nil
	}
	ids := make([]string, len(p.loaded))
	for i, pos := range p.loaded {
		ids[i] = pos.PositionID
	}
	return p.Positions.DeletePositions(ctx, ids)
}

func exitTimeOrZero(pos domain.Position) time.Time {
	if pos.ExitTime.IsZero() {
		return pos.CreatedAt
	}
	return pos.ExitTime
}

func round2(v float64) float64 { return float64(int64(v*100+sign(v)*0.5)) / 100 }
func round4(v float64) float64 { return float64(int64(v*10000+sign(v)*0.5)) / 10000 }
func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
