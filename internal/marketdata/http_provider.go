package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/relvacode/iso8601"
	"github.com/rs/zerolog"
)

// HTTPProvider fetches daily bars from an upstream REST bar service,
// following the same get/parse shape as the broker HTTP adapter. Wire
// timestamps are parsed leniently with iso8601, since upstream providers
// are inconsistent about fractional seconds and timezone suffixes.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewHTTPProvider builds an adapter against baseURL.
func NewHTTPProvider(baseURL string, log zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("component", "marketdata_http").Logger(),
	}
}

type barWire struct {
	Ts     string  `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// GetDailyBars fetches lookbackDays of daily bars for symbol. An empty
// upstream series is returned as an empty (not nil-error) slice, per
// spec.md §4.1's "empty input -> empty output" failure mode.
func (p *HTTPProvider) GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error) {
	url := fmt.Sprintf("%s/bars?symbol=%s&asset_class=%s&lookback_days=%d", p.baseURL, symbol, assetClass, lookbackDays)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("marketdata: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("marketdata: %s -> %d", url, resp.StatusCode)
	}

	var wire []barWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("marketdata: decode response: %w", err)
	}

	bars := make([]domain.Bar, 0, len(wire))
	for _, w := range wire {
		ts, parseErr := iso8601.ParseString(w.Ts)
		if parseErr != nil {
			p.log.Warn().Str("ts", w.Ts).Err(parseErr).Msg("skipping bar with unparseable timestamp")
			continue
		}
		bars = append(bars, domain.Bar{
			Ts: ts, Open: w.Open, High: w.High, Low: w.Low, Close: w.Close, Volume: w.Volume,
		})
	}
	return bars, nil
}

var _ Provider = (*HTTPProvider)(nil)
