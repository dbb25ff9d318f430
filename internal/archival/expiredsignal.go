package archival

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/domain"
)

// ExpiredSignalStore is the narrow repository slice this pipeline needs.
type ExpiredSignalStore interface {
	GetExpiredSignals(ctx context.Context, asOf time.Time, limit int64) ([]domain.Signal, error)
	DeleteSignals(ctx context.Context, signalIDs []string) error
}

// ExpiredSignalArchivalPipeline moves EXPIRED signals (ones that never
// triggered) to the analytical store for noise analysis: did the market
// come close to the entry, and how far did it run favorably while the
// signal was still valid — grounded on
// original_source/pipelines/expired_signal_archival.py.
type ExpiredSignalArchivalPipeline struct {
	Signals  ExpiredSignalStore
	Bars     BarsProvider
	Log      zerolog.Logger
	Now      func() time.Time
	archived []domain.Signal
}

func NewExpiredSignalArchivalPipeline(signals ExpiredSignalStore, bars BarsProvider, log zerolog.Logger) *ExpiredSignalArchivalPipeline {
	return &ExpiredSignalArchivalPipeline{
		Signals: signals, Bars: bars,
		Log: log.With().Str("job", "expired_signal_archival").Logger(),
		Now: time.Now,
	}
}

func (p *ExpiredSignalArchivalPipeline) Name() string         { return "expired_signal_archival" }
func (p *ExpiredSignalArchivalPipeline) StagingTable() string { return "stg_signals_expired_import" }
func (p *ExpiredSignalArchivalPipeline) FactTable() string    { return "fact_signals_expired" }
func (p *ExpiredSignalArchivalPipeline) IDColumn() string     { return "signal_id" }
func (p *ExpiredSignalArchivalPipeline) Columns() []string {
	return []string{
		"signal_id", "strategy_id", "asset_class", "symbol", "side",
		"pattern_name", "entry_price", "max_favorable_excursion",
		"distance_to_trigger_pct", "valid_until",
	}
}

const expiredSignalBatchLimit = 500

// Extract returns signals that expired at least 24h ago, the same race
// guard the Python source uses to avoid colliding with the still-running
// main signal loop.
func (p *ExpiredSignalArchivalPipeline) Extract(ctx context.Context) ([]any, error) {
	cutoff := p.Now().Add(-24 * time.Hour)
	signals, err := p.Signals.GetExpiredSignals(ctx, cutoff, expiredSignalBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch expired signals: %w", err)
	}
	records := make([]any, len(signals))
	for i, s := range signals {
		records[i] = s
	}
	return records, nil
}

func (p *ExpiredSignalArchivalPipeline) Transform(ctx context.Context, records []any) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	p.archived = p.archived[:0]

	for _, rec := range records {
		s := rec.(domain.Signal)

		var mfe, distancePct float64
		bars, err := p.Bars.GetDailyBars(ctx, s.Symbol, s.AssetClass, 30)
		if err != nil {
			p.Log.Warn().Err(err).Str("signal_id", s.SignalID).Msg("failed to fetch bars for MFE")
		} else {
			mfe, distancePct = maxFavorableExcursion(s, bars)
		}

		rows = append(rows, Row{
			s.SignalID, s.StrategyID, string(s.AssetClass), s.Symbol, string(s.Side),
			s.PatternName, s.EntryPrice, round4(mfe), round4(distancePct), s.ValidUntil,
		})
		p.archived = append(p.archived, s)
	}
	return rows, nil
}

func (p *ExpiredSignalArchivalPipeline) Cleanup(ctx context.Context, records []any, rows []Row) error {
	if len(p.archived) == 0 {
		return nil
	}
	ids := make([]string, len(p.archived))
	for i, s := range p.archived {
		ids[i] = s.SignalID
	}
	return p.Signals.DeleteSignals(ctx, ids)
}

// maxFavorableExcursion reports how far price ran in the signal's
// favor, and how close it came to the entry trigger, over bars spanning
// the signal's validity window.
func maxFavorableExcursion(s domain.Signal, bars []domain.Bar) (mfe, distanceToTriggerPct float64) {
	closestDistance := -1.0
	for _, b := range bars {
		if b.Ts.Before(s.CreatedAt) || b.Ts.After(s.ValidUntil) {
			continue
		}
		if s.Side == domain.SideBuy {
			if excursion := b.High - s.EntryPrice; excursion > mfe {
				mfe = excursion
			}
			if d := (s.EntryPrice - b.Low) / s.EntryPrice * 100.0; closestDistance < 0 || d < closestDistance {
				closestDistance = d
			}
		} else {
			if excursion := s.EntryPrice - b.Low; excursion > mfe {
				mfe = excursion
			}
			if d := (b.High - s.EntryPrice) / s.EntryPrice * 100.0; closestDistance < 0 || d < closestDistance {
				closestDistance = d
			}
		}
	}
	if closestDistance < 0 {
		closestDistance = 0
	}
	return mfe, closestDistance
}
