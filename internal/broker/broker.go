// Package broker defines the capability interface the execution engine,
// risk engine, and reconciler use to talk to a live trading broker, plus
// one HTTP adapter implementation shaped after the Tradernet client this
// system's teacher codebase used for its own broker integration.
package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
)

// ErrNotFound signals a 404-equivalent: "no such order" or "no open
// position for this symbol". Per spec.md §7 this is not an error the
// caller should propagate — it is interpreted positionally (sync treats a
// missing open position as a manual-exit candidate; fee lookups treat a
// missing activity as a zero fee).
var ErrNotFound = errors.New("broker: not found")

// OrderType distinguishes bracket parent/leg semantics.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus mirrors the broker's own order lifecycle vocabulary.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderLeg is one child order of a bracket (take-profit or stop-loss).
type OrderLeg struct {
	OrderID     string
	Type        OrderType
	LimitPrice  float64
	StopPrice   float64
	Status      OrderStatus
	FilledPrice float64
	FilledAt    time.Time
}

// OrderRequest describes a new order submission. Equities submit a
// bracket (Market parent + Limit TP leg + Stop SL leg, GTC); crypto
// submits a simple market order with no broker-side bracket (spec.md
// §4.7, §9 open question 2).
type OrderRequest struct {
	ClientOrderID string // = signal.SignalID, for idempotent resubmission
	Symbol        string
	Side          string // "buy" | "sell"
	Qty           float64
	Type          OrderType
	TimeInForce   string // "day" | "gtc"
	Bracket       bool
	TakeProfit    float64 // limit price of the TP leg, when Bracket
	StopLoss      float64 // stop price of the SL leg, when Bracket
}

// Order is the broker's view of a (possibly bracket) order.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	AssetClass    domain.AssetClass
	Qty           float64
	Status        OrderStatus
	FilledQty     float64
	FilledPrice   float64
	FilledAt      time.Time
	SubmittedAt   time.Time
	Commission    float64
	Legs          []OrderLeg
}

// Position is the broker's view of an open position for a symbol.
type Position struct {
	Symbol     string
	Side       string
	AssetClass domain.AssetClass
	Qty        float64
}

// InferAssetClass classifies symbol the way Alpaca's own wire symbols do:
// crypto pairs carry a "/" (e.g. "BTC/USD"), equities don't. Used whenever
// a wire response doesn't carry asset_class directly.
func InferAssetClass(symbol string) domain.AssetClass {
	if strings.Contains(symbol, "/") {
		return domain.AssetClassCrypto
	}
	return domain.AssetClassEquity
}

// Account carries the fields the risk engine and archival pipelines
// need from the broker's account snapshot.
type Account struct {
	Equity                float64
	LastEquity            float64
	Cash                   float64
	NonMarginableBuyingPower float64
	RegTBuyingPower        float64
	Status                 string
	PatternDayTrader       bool
	DaytradeCount          int
	Multiplier             float64
	Currency               string
	CryptoTierTakerRate    float64
}

// PortfolioHistory is a time series of account equity, used by the
// account-snapshot archival pipeline to compute drawdown/Calmar.
type PortfolioHistory struct {
	Equity    []float64
	Timestamp []time.Time
}

// Activity is a single raw broker activity record (e.g. a CFEE crypto
// fee event), used by the fee-patch pipeline.
type Activity struct {
	Type      string
	OrderID   string
	Symbol    string
	Amount    float64
	Date      time.Time
	RawJSON   []byte
}

// ActivityFilter narrows an activities query.
type ActivityFilter struct {
	Types     []string
	Symbol    string
	From, To  time.Time
	OrderIDs  []string
}

// OrderFilter narrows a get-orders query (used by the risk engine's
// sector-cap gate and the reconciler's manual-exit search).
type OrderFilter struct {
	Symbol string
	Status string // "open" | "filled" | "" (any)
	Side   string
	Limit  int
}

// Broker is the capability set spec.md §6 requires. Implementations must
// translate a 404-equivalent response into ErrNotFound rather than a
// generic error, so callers can apply the not-found taxonomy from §7.
type Broker interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetPortfolioHistory(ctx context.Context, period, timeframe string) (*PortfolioHistory, error)

	GetAllPositions(ctx context.Context) ([]Position, error)
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error) // ErrNotFound when absent

	SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*Order, error) // ErrNotFound when absent
	GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	ReplaceOrder(ctx context.Context, orderID string, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error

	GetActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error)
}
