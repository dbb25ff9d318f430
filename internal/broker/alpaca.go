package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	json "github.com/segmentio/encoding/json"
	"github.com/rs/zerolog"
)

// AlpacaClient is an HTTP adapter over an Alpaca-shaped trading REST API,
// following the post/get/parseResponse pattern of the teacher's Tradernet
// client. Broker-transient failures (timeouts, 5xx) are retried with
// bounded backoff by retryablehttp per spec.md §7's "Broker-transient"
// taxonomy; a 404 response is translated to ErrNotFound rather than a
// generic error.
type AlpacaClient struct {
	baseURL string
	apiKey  string
	apiSecret string
	client  *retryablehttp.Client
	log     zerolog.Logger
}

// NewAlpacaClient builds an adapter against baseURL using apiKey/apiSecret
// header auth.
func NewAlpacaClient(baseURL, apiKey, apiSecret string, log zerolog.Logger) *AlpacaClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	rc.HTTPClient.Timeout = 30 * time.Second

	return &AlpacaClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    rc,
		log:       log.With().Str("client", "alpaca").Logger(),
	}
}

type apiError struct {
	Message string `json:"message"`
}

func (c *AlpacaClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("alpaca: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("alpaca: build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("alpaca: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("alpaca: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return fmt.Errorf("alpaca: %s %s -> %d %s", method, path, resp.StatusCode, apiErr.Message)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("alpaca: decode response: %w", err)
	}
	return nil
}

type accountResponse struct {
	Equity                   string `json:"equity"`
	LastEquity               string `json:"last_equity"`
	Cash                     string `json:"cash"`
	NonMarginableBuyingPower string `json:"non_marginable_buying_power"`
	RegTBuyingPower          string `json:"regt_buying_power"`
	Status                   string `json:"status"`
	PatternDayTrader         bool   `json:"pattern_day_trader"`
	DaytradeCount            int    `json:"daytrade_count"`
	Multiplier               string `json:"multiplier"`
	Currency                 string `json:"currency"`
	CryptoTierTakerRate      string `json:"crypto_tier_taker_rate"`
}

func parseFloatOrZero(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%f", &f)
	return f
}

// GetAccount fetches the account snapshot used by the risk engine's
// drawdown/buying-power gates and the archival account-snapshot pipeline.
func (c *AlpacaClient) GetAccount(ctx context.Context) (*Account, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v2/account", nil, &resp); err != nil {
		return nil, err
	}
	return &Account{
		Equity:                   parseFloatOrZero(resp.Equity),
		LastEquity:               parseFloatOrZero(resp.LastEquity),
		Cash:                     parseFloatOrZero(resp.Cash),
		NonMarginableBuyingPower: parseFloatOrZero(resp.NonMarginableBuyingPower),
		RegTBuyingPower:          parseFloatOrZero(resp.RegTBuyingPower),
		Status:                   resp.Status,
		PatternDayTrader:         resp.PatternDayTrader,
		DaytradeCount:            resp.DaytradeCount,
		Multiplier:               parseFloatOrZero(resp.Multiplier),
		Currency:                 resp.Currency,
		CryptoTierTakerRate:      parseFloatOrZero(resp.CryptoTierTakerRate),
	}, nil
}

// GetPortfolioHistory fetches the equity time series for the account
// snapshot pipeline's drawdown/Calmar computation.
func (c *AlpacaClient) GetPortfolioHistory(ctx context.Context, period, timeframe string) (*PortfolioHistory, error) {
	var resp struct {
		Equity    []float64 `json:"equity"`
		Timestamp []int64   `json:"timestamp"`
	}
	path := fmt.Sprintf("/v2/account/portfolio/history?period=%s&timeframe=%s", period, timeframe)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := &PortfolioHistory{Equity: resp.Equity, Timestamp: make([]time.Time, len(resp.Timestamp))}
	for i, ts := range resp.Timestamp {
		out.Timestamp[i] = time.Unix(ts, 0).UTC()
	}
	return out, nil
}

type positionResponse struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Qty    string `json:"qty"`
}

// GetAllPositions lists every broker-open position, used by the risk
// engine's sector-cap/correlation gates and the reconciler.
func (c *AlpacaClient) GetAllPositions(ctx context.Context) ([]Position, error) {
	var resp []positionResponse
	if err := c.do(ctx, http.MethodGet, "/v2/positions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Position, len(resp))
	for i, p := range resp {
		out[i] = Position{Symbol: p.Symbol, Side: p.Side, AssetClass: InferAssetClass(p.Symbol), Qty: parseFloatOrZero(p.Qty)}
	}
	return out, nil
}

// GetOpenPosition returns ErrNotFound when the broker reports no open
// position for symbol (spec.md §4.7's "no open position" sync branch).
func (c *AlpacaClient) GetOpenPosition(ctx context.Context, symbol string) (*Position, error) {
	var resp positionResponse
	if err := c.do(ctx, http.MethodGet, "/v2/positions/"+symbol, nil, &resp); err != nil {
		return nil, err
	}
	return &Position{Symbol: resp.Symbol, Side: resp.Side, AssetClass: InferAssetClass(resp.Symbol), Qty: parseFloatOrZero(resp.Qty)}, nil
}

type orderRequestWire struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Qty           string  `json:"qty"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	OrderClass    string  `json:"order_class,omitempty"`
	TakeProfit    *tpSL   `json:"take_profit,omitempty"`
	StopLoss      *tpSL   `json:"stop_loss,omitempty"`
}

type tpSL struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

type legWire struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	LimitPrice  string `json:"limit_price"`
	StopPrice   string `json:"stop_price"`
	Status      string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
	FilledAt    string `json:"filled_at"`
}

type orderWire struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Qty           string    `json:"qty"`
	Status        string    `json:"status"`
	FilledQty     string    `json:"filled_qty"`
	FilledAvgPrice string   `json:"filled_avg_price"`
	FilledAt      string    `json:"filled_at"`
	SubmittedAt   string    `json:"submitted_at"`
	Legs          []legWire `json:"legs"`
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (o orderWire) toOrder() *Order {
	legs := make([]OrderLeg, len(o.Legs))
	for i, l := range o.Legs {
		legs[i] = OrderLeg{
			OrderID:     l.ID,
			Type:        OrderType(l.Type),
			LimitPrice:  parseFloatOrZero(l.LimitPrice),
			StopPrice:   parseFloatOrZero(l.StopPrice),
			Status:      OrderStatus(l.Status),
			FilledPrice: parseFloatOrZero(l.FilledAvgPrice),
			FilledAt:    parseTimeOrZero(l.FilledAt),
		}
	}
	return &Order{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		AssetClass:    InferAssetClass(o.Symbol),
		Qty:           parseFloatOrZero(o.Qty),
		Status:        OrderStatus(o.Status),
		FilledQty:     parseFloatOrZero(o.FilledQty),
		FilledPrice:   parseFloatOrZero(o.FilledAvgPrice),
		FilledAt:      parseTimeOrZero(o.FilledAt),
		SubmittedAt:   parseTimeOrZero(o.SubmittedAt),
		Legs:          legs,
	}
}

// SubmitOrder submits req with ClientOrderID carried through verbatim for
// broker-side idempotency: resubmitting the same ClientOrderID returns the
// already-accepted order rather than creating a duplicate (spec.md §5).
func (c *AlpacaClient) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	wire := orderRequestWire{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           fmt.Sprintf("%v", req.Qty),
		Type:          string(req.Type),
		TimeInForce:   req.TimeInForce,
	}
	if req.Bracket {
		wire.OrderClass = "bracket"
		wire.TakeProfit = &tpSL{LimitPrice: fmt.Sprintf("%v", req.TakeProfit)}
		wire.StopLoss = &tpSL{StopPrice: fmt.Sprintf("%v", req.StopLoss)}
	}

	var resp orderWire
	if err := c.do(ctx, http.MethodPost, "/v2/orders", wire, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// GetOrderByID returns ErrNotFound on a 404 (spec.md §4.7).
func (c *AlpacaClient) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	var resp orderWire
	if err := c.do(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// GetOrderByClientOrderID looks up an order by the idempotency key.
func (c *AlpacaClient) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*Order, error) {
	var resp orderWire
	path := "/v2/orders:by_client_order_id?client_order_id=" + clientOrderID
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// GetOrders lists orders matching filter, used by the risk engine's
// sector-cap gate (pending BUY count) and the reconciler's manual-exit
// candidate search.
func (c *AlpacaClient) GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	path := "/v2/orders?status=" + filter.Status
	if filter.Symbol != "" {
		path += "&symbols=" + filter.Symbol
	}
	if filter.Side != "" {
		path += "&side=" + filter.Side
	}
	if filter.Limit > 0 {
		path += fmt.Sprintf("&limit=%d", filter.Limit)
	}
	var resp []orderWire
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Order, len(resp))
	for i, o := range resp {
		out[i] = *o.toOrder()
	}
	return out, nil
}

// ReplaceOrder submits a replacement for orderID, used by
// modify_stop_loss to move the SL leg's stop price.
func (c *AlpacaClient) ReplaceOrder(ctx context.Context, orderID string, req OrderRequest) (*Order, error) {
	wire := map[string]string{"qty": fmt.Sprintf("%v", req.Qty)}
	if req.StopLoss > 0 {
		wire["stop_price"] = fmt.Sprintf("%v", req.StopLoss)
	}
	var resp orderWire
	if err := c.do(ctx, http.MethodPatch, "/v2/orders/"+orderID, wire, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// CancelOrder cancels orderID, used by close_position_emergency's
// best-effort leg cancellation.
func (c *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil, nil)
}

type activityWire struct {
	ActivityType string `json:"activity_type"`
	OrderID      string `json:"order_id"`
	Symbol       string `json:"symbol"`
	NetAmount    string `json:"net_amount"`
	Date         string `json:"date"`
}

// GetActivities fetches raw activity records (e.g. CFEE crypto fee
// events) for the fee-patch pipeline, keeping only those whose order id
// is in filter.OrderIDs when that list is given. A 404 from the activity
// endpoint is returned as an empty result, not an error.
func (c *AlpacaClient) GetActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error) {
	path := "/v2/account/activities"
	if len(filter.Types) > 0 {
		path += "?activity_types=" + filter.Types[0]
		for _, t := range filter.Types[1:] {
			path += "," + t
		}
	}
	var resp []json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	wanted := make(map[string]bool, len(filter.OrderIDs))
	for _, id := range filter.OrderIDs {
		if id != "" {
			wanted[id] = true
		}
	}
	out := make([]Activity, 0, len(resp))
	for _, raw := range resp {
		var a activityWire
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("alpaca: decode activity: %w", err)
		}
		if filter.Symbol != "" && a.Symbol != filter.Symbol {
			continue
		}
		if len(filter.OrderIDs) > 0 && !wanted[a.OrderID] {
			continue
		}
		out = append(out, Activity{
			Type:    a.ActivityType,
			OrderID: a.OrderID,
			Symbol:  a.Symbol,
			Amount:  parseFloatOrZero(a.NetAmount),
			Date:    parseTimeOrZero(a.Date),
			RawJSON: raw,
		})
	}
	return out, nil
}

var _ Broker = (*AlpacaClient)(nil)
