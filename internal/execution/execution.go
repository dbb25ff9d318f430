// Package execution bridges a parameterised Signal to a live broker trade:
// bracket orders for equities, simple market orders for crypto, plus the
// position-lifecycle operations (sync, scale-out, breakeven, trailing stop,
// emergency close) that keep a Position in step with broker state. Grounded
// on original_source/engine/execution.py, generalized from the Alpaca SDK
// calls onto the internal/broker.Broker capability interface.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// breakevenBufferPct nudges the post-TP1 stop slightly past entry so a
// single tick of slippage doesn't immediately re-trigger it.
const breakevenBufferPct = 0.001

// fillPollAttempts bounds how many times ExecuteSignal polls for a
// just-submitted order's fill price before giving up and using the
// signal's entry price instead.
const fillPollAttempts = 3

// Engine manages the complete order lifecycle from Signal to broker trade.
type Engine struct {
	Broker broker.Broker
	Config *config.Config
	Log    zerolog.Logger
}

// NewEngine builds an Engine against b, gated by cfg's environment/paper-
// trading/enable-execution switches.
func NewEngine(b broker.Broker, cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{Broker: b, Config: cfg, Log: log.With().Str("component", "execution").Logger()}
}

// ExecuteSignal submits a broker order for s and returns the resulting
// Position. Outside PROD it submits nothing and returns a synthesized
// THEORETICAL position instead. It returns nil when execution is gated off
// (paper-trading disabled, or ENABLE_EXECUTION=false) — never an error in
// the gated-off case, since skipping execution is an expected outcome, not
// a failure.
func (e *Engine) ExecuteSignal(ctx context.Context, s *domain.Signal) (*domain.Position, error) {
	if !e.Config.AlpacaPaperTrading {
		e.Log.Warn().Str("symbol", s.Symbol).Msg("execution blocked: paper trading must be enabled")
		return nil, nil
	}
	if e.Config.Environment != config.EnvProd {
		e.Log.Info().Str("symbol", s.Symbol).Str("env", string(e.Config.Environment)).Msg("theoretical mode: synthesizing fill instead of submitting an order")
		return e.theoreticalFill(s), nil
	}
	if !e.Config.EnableExecution {
		e.Log.Debug().Msg("execution disabled: ENABLE_EXECUTION=false")
		return nil, nil
	}
	if err := validateSignal(s); err != nil {
		return nil, err
	}

	qty := e.calculateQty(s)
	if qty <= 0 {
		return nil, fmt.Errorf("execution: invalid quantity for %s: %v", s.Symbol, qty)
	}

	req := broker.OrderRequest{
		ClientOrderID: s.SignalID,
		Symbol:        s.Symbol,
		Side:          sideToWire(s.Side),
		Qty:           qty,
		Type:          broker.OrderTypeMarket,
		TimeInForce:   "gtc",
	}
	// Equities get an atomic bracket; crypto is forced to a simple market
	// order since brokers don't offer bracket orders on crypto pairs
	// (spec.md §9 open question 2).
	if s.AssetClass == domain.AssetClassEquity {
		req.Bracket = true
		req.TakeProfit = round2(s.TakeProfit1)
		req.StopLoss = round2(s.SuggestedStop)
	}

	e.Log.Info().Str("symbol", s.Symbol).Float64("qty", qty).Str("side", req.Side).Msg("submitting order")

	order, err := e.Broker.SubmitOrder(ctx, req)
	if err != nil {
		e.Log.Error().Err(err).Str("symbol", s.Symbol).Str("signal_id", s.SignalID).Msg("order execution failed")
		return nil, fmt.Errorf("execution: submit order for %s: %w", s.Symbol, err)
	}

	fillPrice := order.FilledPrice
	if fillPrice <= 0 {
		if polled, ok := e.pollForFill(ctx, order.OrderID); ok {
			fillPrice = polled
		} else {
			fillPrice = s.EntryPrice
		}
	}

	pos := &domain.Position{
		PositionID:       s.SignalID,
		SignalID:         s.SignalID,
		Symbol:           s.Symbol,
		AssetClass:       s.AssetClass,
		Side:             s.Side,
		Status:           domain.PositionOpen,
		TradeType:        domain.TradeTypeExecuted,
		Qty:              qty,
		OriginalQty:      qty,
		EntryFillPrice:   fillPrice,
		TargetEntryPrice: s.EntryPrice,
		CurrentStopLoss:  s.SuggestedStop,
		BrokerOrderID:    order.OrderID,
		CreatedAt:        s.CreatedAt,
	}
	return pos, nil
}

// theoreticalFill synthesizes the Position a live fill would have produced,
// without ever touching the broker: fill price is entry nudged by
// THEORETICAL_SLIPPAGE_PCT in the unfavorable direction (spec.md §4.7,
// grounded on original_source/tests/engine/test_theoretical_execution.py).
func (e *Engine) theoreticalFill(s *domain.Signal) *domain.Position {
	qty := e.calculateQty(s)

	slippage := e.Config.TheoreticalSlippagePct
	fillPrice := s.EntryPrice * (1 + slippage)
	if s.Side == domain.SideSell {
		fillPrice = s.EntryPrice * (1 - slippage)
	}
	fillPrice = round2(fillPrice)

	slippagePct := 0.0
	if s.EntryPrice > 0 {
		slippagePct = round4((fillPrice - s.EntryPrice) / s.EntryPrice * 100)
	}

	return &domain.Position{
		PositionID:       s.SignalID,
		SignalID:         s.SignalID,
		Symbol:           s.Symbol,
		AssetClass:       s.AssetClass,
		Side:             s.Side,
		Status:           domain.PositionOpen,
		TradeType:        domain.TradeTypeTheoretical,
		Qty:              qty,
		OriginalQty:      qty,
		EntryFillPrice:   fillPrice,
		TargetEntryPrice: s.EntryPrice,
		EntrySlippagePct: slippagePct,
		CurrentStopLoss:  s.SuggestedStop,
		CreatedAt:        s.CreatedAt,
	}
}

// pollForFill retries GetOrderByID on a bounded backoff schedule to catch
// the fill price of an order that filled after SubmitOrder's response was
// already serialized (common for crypto market orders against a busy
// exchange).
func (e *Engine) pollForFill(ctx context.Context, orderID string) (float64, bool) {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
	for attempt := 0; attempt < fillPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(b.Duration()):
		}
		order, err := e.Broker.GetOrderByID(ctx, orderID)
		if err != nil || order == nil {
			continue
		}
		if order.FilledPrice > 0 {
			return order.FilledPrice, true
		}
	}
	return 0, false
}

func validateSignal(s *domain.Signal) error {
	if s.TakeProfit1 <= 0 {
		return fmt.Errorf("execution: take_profit_1 is required for %s", s.Symbol)
	}
	if s.SuggestedStop <= 0 {
		return fmt.Errorf("execution: suggested_stop must be positive for %s", s.Symbol)
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("execution: entry_price must be positive for %s", s.Symbol)
	}
	return nil
}

// calculateQty sizes the position so a stop-out loses exactly
// RISK_PER_TRADE dollars: qty = risk_per_trade / |entry - stop|, capped by
// MAX_POSITION_SIZE notional (an addition beyond the Python draft, per
// SPEC_FULL.md's risk controls).
func (e *Engine) calculateQty(s *domain.Signal) float64 {
	riskPerShare := decimal.NewFromFloat(s.EntryPrice).Sub(decimal.NewFromFloat(s.SuggestedStop)).Abs()
	if riskPerShare.IsZero() {
		return 0
	}
	qty := decimal.NewFromFloat(e.Config.RiskPerTrade).Div(riskPerShare)

	notionalCap := decimal.NewFromFloat(e.Config.MaxPositionSize)
	entry := decimal.NewFromFloat(s.EntryPrice)
	if !entry.IsZero() {
		maxQty := notionalCap.Div(entry)
		if qty.GreaterThan(maxQty) {
			qty = maxQty
		}
	}

	places := int32(4)
	if s.AssetClass == domain.AssetClassCrypto {
		places = 6
	}
	f, _ := qty.Round(places).Float64()
	return f
}

// GetOrderDetails retrieves order by id, translating ErrNotFound into
// (nil, nil) rather than propagating it — a missing order is an expected
// outcome for callers probing broker state, not a failure.
func (e *Engine) GetOrderDetails(ctx context.Context, orderID string) (*broker.Order, error) {
	order, err := e.Broker.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			e.Log.Warn().Str("order_id", orderID).Msg("order not found")
			return nil, nil
		}
		return nil, fmt.Errorf("execution: get order %s: %w", orderID, err)
	}
	return order, nil
}

// SyncPositionStatus reconciles pos against the broker's view of its
// parent order and TP/SL legs, detecting externally-closed (TP/SL filled)
// and manually-closed positions. Skipped outside PROD.
func (e *Engine) SyncPositionStatus(ctx context.Context, pos *domain.Position) (*domain.Position, error) {
	if e.Config.Environment != config.EnvProd {
		return pos, nil
	}
	if pos.BrokerOrderID == "" {
		e.Log.Warn().Str("position_id", pos.PositionID).Msg("cannot sync: no broker order id")
		return pos, nil
	}

	order, err := e.GetOrderDetails(ctx, pos.BrokerOrderID)
	if err != nil {
		return pos, err
	}
	if order == nil {
		pos.RejectionReason = "parent order not found at broker"
		return pos, nil
	}

	switch order.Status {
	case broker.OrderStatusFilled:
		if !order.FilledAt.IsZero() {
			pos.CreatedAt = order.FilledAt
		}
		if order.FilledPrice > 0 {
			pos.EntryFillPrice = order.FilledPrice
		}
		if pos.TargetEntryPrice > 0 {
			pos.EntrySlippagePct = round4((pos.EntryFillPrice - pos.TargetEntryPrice) / pos.TargetEntryPrice * 100)
		}
		pos.Commission = order.Commission

		for _, leg := range order.Legs {
			switch leg.Type {
			case broker.OrderTypeLimit:
				pos.TPOrderID = leg.OrderID
			case broker.OrderTypeStop:
				pos.SLOrderID = leg.OrderID
			}
		}
	case broker.OrderStatusCanceled, broker.OrderStatusRejected:
		pos.RejectionReason = fmt.Sprintf("order %s", order.Status)
		pos.Status = domain.PositionClosed
	}

	e.detectLegFill(ctx, pos, pos.TPOrderID, domain.ExitReasonTPHit)
	if pos.Status != domain.PositionClosed {
		e.detectLegFill(ctx, pos, pos.SLOrderID, domain.ExitReasonStopLoss)
	}

	if pos.Status == domain.PositionClosed {
		e.finalizeClosedMetrics(pos)
	}

	if pos.Status == domain.PositionOpen {
		e.detectManualExit(ctx, pos)
	}

	return pos, nil
}

func (e *Engine) detectLegFill(ctx context.Context, pos *domain.Position, legOrderID string, reason domain.ExitReason) {
	if legOrderID == "" {
		return
	}
	leg, err := e.GetOrderDetails(ctx, legOrderID)
	if err != nil || leg == nil || leg.Status != broker.OrderStatusFilled {
		return
	}
	pos.Status = domain.PositionClosed
	pos.ExitFillPrice = leg.FilledPrice
	pos.ExitTime = leg.FilledAt
	pos.ExitReason = reason
	e.Log.Info().Str("position_id", pos.PositionID).Str("reason", string(reason)).Msg("position closed")
}

func (e *Engine) finalizeClosedMetrics(pos *domain.Position) {
	if !pos.CreatedAt.IsZero() && !pos.ExitTime.IsZero() {
		pos.TradeDurationSeconds = pos.ExitTime.Sub(pos.CreatedAt).Seconds()
	}
	if pos.ExitFillPrice > 0 {
		target := pos.ExitFillPrice
		if pos.ExitReason == domain.ExitReasonStopLoss {
			target = pos.CurrentStopLoss
		}
		if target > 0 {
			pos.ExitSlippagePct = round4((pos.ExitFillPrice - target) / target * 100)
		}
	}
	pnlUSD, pnlPct := CalculateRealizedPnL(pos)
	pos.RealizedPnLUSD = pnlUSD
	pos.RealizedPnLPct = pnlPct
}

// detectManualExit checks whether pos, still marked OPEN, has actually
// been closed outside the system (e.g. a human flattening it on the
// broker's own UI) by probing for an open position at the broker.
func (e *Engine) detectManualExit(ctx context.Context, pos *domain.Position) {
	_, err := e.Broker.GetOpenPosition(ctx, pos.Symbol)
	if err == nil {
		return
	}
	if !errors.Is(err, broker.ErrNotFound) {
		return
	}
	e.Log.Warn().Str("position_id", pos.PositionID).Msg("position not found at broker: manual exit detected")

	// A position missing at the broker is only confirmed manually-exited
	// once a matching closing order is found; a search error or no match
	// leaves it OPEN for the next sync pass rather than closing blind
	// (spec.md §4.7/§8: no matching broker close order means stay OPEN,
	// mirrored from reconciler.verifyManualExit).
	closeSide := oppositeSide(pos.Side)
	orders, searchErr := e.Broker.GetOrders(ctx, broker.OrderFilter{Symbol: pos.Symbol, Status: "filled", Side: sideToWire(closeSide), Limit: 5})
	if searchErr != nil {
		e.Log.Warn().Err(searchErr).Str("position_id", pos.PositionID).Msg("manual exit check: failed to search closing orders, leaving position open")
		return
	}
	for _, o := range orders {
		if o.OrderID == pos.TPOrderID || o.OrderID == pos.SLOrderID {
			continue
		}
		pos.Status = domain.PositionClosed
		pos.ExitReason = domain.ExitReasonManualExit
		pos.ExitFillPrice = o.FilledPrice
		pos.ExitTime = o.FilledAt
		return
	}
	e.Log.Warn().Str("position_id", pos.PositionID).Msg("manual exit check: no matching closing order found, leaving position open")
}

// ModifyStopLoss replaces the SL leg's stop price (used for Chandelier
// Exit trailing). Returns true (without a broker call) outside PROD to
// keep theoretical-mode position tracking consistent.
func (e *Engine) ModifyStopLoss(ctx context.Context, pos *domain.Position, newStop float64) (bool, error) {
	if e.Config.Environment != config.EnvProd {
		return true, nil
	}
	if pos.SLOrderID == "" {
		return false, fmt.Errorf("execution: no sl_order_id for %s", pos.PositionID)
	}

	sl, err := e.GetOrderDetails(ctx, pos.SLOrderID)
	if err != nil {
		return false, err
	}
	if sl == nil {
		return false, fmt.Errorf("execution: sl order %s not found", pos.SLOrderID)
	}
	switch sl.Status {
	case broker.OrderStatusNew, broker.OrderStatusAccepted:
	default:
		return false, fmt.Errorf("execution: sl order %s in non-replaceable state %s", pos.SLOrderID, sl.Status)
	}

	replaced, err := e.Broker.ReplaceOrder(ctx, pos.SLOrderID, broker.OrderRequest{StopLoss: round2(newStop)})
	if err != nil {
		return false, fmt.Errorf("execution: replace stop for %s: %w", pos.PositionID, err)
	}
	e.Log.Info().Str("position_id", pos.PositionID).Float64("old_stop", pos.CurrentStopLoss).Float64("new_stop", newStop).Msg("stop modified")
	pos.SLOrderID = replaced.OrderID
	pos.CurrentStopLoss = newStop
	return true, nil
}

// ScaleOutPosition closes scalePct of pos at market (TP1 automation:
// scale out 50% on the first target).
func (e *Engine) ScaleOutPosition(ctx context.Context, pos *domain.Position, scalePct float64) error {
	if e.Config.Environment != config.EnvProd {
		return nil
	}
	if pos.Qty <= 0 {
		return fmt.Errorf("execution: cannot scale out %s: no quantity", pos.PositionID)
	}

	scaleQty, _ := decimal.NewFromFloat(pos.Qty).Mul(decimal.NewFromFloat(scalePct)).Round(8).Float64()
	if scaleQty <= 0 {
		return fmt.Errorf("execution: scale-out qty too small for %s", pos.PositionID)
	}

	closeSide := oppositeSide(pos.Side)
	order, err := e.Broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        sideToWire(closeSide),
		Qty:         scaleQty,
		Type:        broker.OrderTypeMarket,
		TimeInForce: "gtc",
	})
	if err != nil {
		return fmt.Errorf("execution: scale-out order for %s: %w", pos.PositionID, err)
	}

	pos.ScaledOutQty += scaleQty
	pos.ScaledOutPrices = append(pos.ScaledOutPrices, domain.ScaleOut{
		Qty:     scaleQty,
		Price:   order.FilledPrice,
		Ts:      order.FilledAt,
		OrderID: order.OrderID,
	})
	remaining, _ := decimal.NewFromFloat(pos.Qty).Sub(decimal.NewFromFloat(scaleQty)).Round(8).Float64()
	pos.Qty = remaining

	e.Log.Info().Str("position_id", pos.PositionID).Float64("scale_qty", scaleQty).Float64("remaining_qty", pos.Qty).Msg("scale out")
	return nil
}

// MoveStopToBreakeven moves pos's stop to entry plus a small favorable
// buffer, protecting the runner after a scale-out.
func (e *Engine) MoveStopToBreakeven(ctx context.Context, pos *domain.Position) error {
	if pos.EntryFillPrice <= 0 {
		return fmt.Errorf("execution: cannot move to breakeven %s: no entry price", pos.PositionID)
	}
	buffer := 1 + breakevenBufferPct
	if pos.Side == domain.SideSell {
		buffer = 1 - breakevenBufferPct
	}
	breakeven := round2(pos.EntryFillPrice * buffer)

	ok, err := e.ModifyStopLoss(ctx, pos, breakeven)
	if err != nil || !ok {
		return err
	}
	pos.BreakevenApplied = true
	e.Log.Info().Str("position_id", pos.PositionID).Float64("breakeven", breakeven).Msg("breakeven applied")
	return nil
}

// ClosePositionEmergency cancels TP/SL legs best-effort and submits a
// market order to flatten pos immediately. Used for structural
// invalidation, manual kill, or system shutdown.
func (e *Engine) ClosePositionEmergency(ctx context.Context, pos *domain.Position) error {
	if e.Config.Environment != config.EnvProd {
		return nil
	}

	if pos.TPOrderID != "" {
		if err := e.Broker.CancelOrder(ctx, pos.TPOrderID); err != nil {
			e.Log.Debug().Err(err).Str("order_id", pos.TPOrderID).Msg("could not cancel TP leg (may be filled)")
		}
	}
	if pos.SLOrderID != "" {
		if err := e.Broker.CancelOrder(ctx, pos.SLOrderID); err != nil {
			e.Log.Debug().Err(err).Str("order_id", pos.SLOrderID).Msg("could not cancel SL leg (may be filled)")
		}
	}

	closeSide := oppositeSide(pos.Side)
	order, err := e.Broker.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        sideToWire(closeSide),
		Qty:         pos.Qty,
		Type:        broker.OrderTypeMarket,
		TimeInForce: "gtc",
	})
	if err != nil {
		return fmt.Errorf("execution: emergency close for %s: %w", pos.PositionID, err)
	}
	e.Log.Info().Str("position_id", pos.PositionID).Str("close_order_id", order.OrderID).Msg("emergency close submitted")
	pos.Status = domain.PositionClosed
	return nil
}

// CalculateRealizedPnL aggregates PnL across every scale-out plus the
// final exit of the remaining quantity, weighted by each tranche's qty.
func CalculateRealizedPnL(pos *domain.Position) (pnlUSD, pnlPct float64) {
	entry := pos.EntryFillPrice
	if entry <= 0 {
		return 0, 0
	}
	isLong := pos.Side == domain.SideBuy

	scaledPnL := 0.0
	for _, s := range pos.ScaledOutPrices {
		if isLong {
			scaledPnL += (s.Price - entry) * s.Qty
		} else {
			scaledPnL += (entry - s.Price) * s.Qty
		}
	}

	finalPnL := 0.0
	if pos.ExitFillPrice > 0 {
		if isLong {
			finalPnL = (pos.ExitFillPrice - entry) * pos.Qty
		} else {
			finalPnL = (entry - pos.ExitFillPrice) * pos.Qty
		}
	}

	pnlUSD = round2(scaledPnL + finalPnL)

	totalQty := pos.OriginalQty
	if totalQty <= 0 {
		totalQty = pos.Qty + pos.ScaledOutQty
	}
	if totalQty > 0 {
		pnlPct = round4(pnlUSD / (entry * totalQty) * 100)
	}
	return pnlUSD, pnlPct
}

func oppositeSide(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

func sideToWire(s domain.Side) string {
	if s == domain.SideBuy {
		return "buy"
	}
	return "sell"
}

func round2(f float64) float64 { r, _ := decimal.NewFromFloat(f).Round(2).Float64(); return r }
func round4(f float64) float64 { r, _ := decimal.NewFromFloat(f).Round(4).Float64(); return r }
