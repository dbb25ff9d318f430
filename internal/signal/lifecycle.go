package signal

import (
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/indicators"
	"github.com/aristath/cryptosignals/internal/patterns"
)

// CooldownPolicy resolves the Open Question of spec.md §9 explicitly: how
// long a symbol must wait after an exit before a new signal can fire for
// a given pattern. Populated from COOLDOWN_SECONDS_<PATTERN> env vars
// (config.Config.CooldownSeconds), default 24h for every pattern.
type CooldownPolicy struct {
	Default time.Duration
	PerName map[string]time.Duration
}

// NewCooldownPolicy builds a policy from seconds-keyed-by-pattern-name
// config maps.
func NewCooldownPolicy(defaultSeconds int, perPatternSeconds map[string]int) *CooldownPolicy {
	p := &CooldownPolicy{
		Default: time.Duration(defaultSeconds) * time.Second,
		PerName: map[string]time.Duration{},
	}
	for k, v := range perPatternSeconds {
		p.PerName[k] = time.Duration(v) * time.Second
	}
	return p
}

// Active reports whether patternName is still cooling down for a symbol
// whose most recent exit was at lastExitAt, as of now.
func (p *CooldownPolicy) Active(patternName string, lastExitAt, now time.Time) bool {
	if lastExitAt.IsZero() {
		return false
	}
	d := p.Default
	if custom, ok := p.PerName[patternName]; ok {
		d = custom
	}
	return now.Before(lastExitAt.Add(d))
}

// Generator orchestrates data -> indicators -> patterns -> signal, per
// spec.md §2's control-flow summary and §4.5's public operation
// signatures. It holds no state beyond the parameter factory and pivot
// threshold; pivots and indicator series are passed in with the bars on
// each call, so the caller owns history length and caching.
type Generator struct {
	Factory      *Factory
	PctThreshold float64
}

// NewGenerator builds a Generator with the given TTL (spec.md §4.4's
// delete_at) and ZigZag reversal threshold.
func NewGenerator(ttl time.Duration, pctThreshold float64) *Generator {
	return &Generator{Factory: NewFactory(ttl), PctThreshold: pctThreshold}
}

// GenerateSignal mirrors generate_signal(symbol, asset_class, bars):
// returns nil when bars is empty, when no pattern confluences at the
// latest bar, or when the pattern's cooldown is still active for this
// symbol.
func (g *Generator) GenerateSignal(symbol string, assetClass domain.AssetClass, bars []domain.Bar, cooldown *CooldownPolicy, lastExitAt time.Time, pivots []domain.Pivot, series indicators.Series) *domain.Signal {
	if len(bars) == 0 {
		return nil
	}
	i := len(bars) - 1
	result := patterns.Analyze(bars, series, pivots, i)
	if result.Primary == nil {
		return nil
	}
	if cooldown != nil && cooldown.Active(string(result.Primary.Name), lastExitAt, bars[i].Ts) {
		return nil
	}
	return g.Factory.BuildSignal(symbol, assetClass, bars, pivots, series, result, i)
}

// CheckExits implements the lifecycle state machine (spec.md §4.5) over
// every active signal for one symbol, using the latest bar (and the
// prior bar for the ADX-turn-down rule). Returns the mutated subset.
func CheckExits(active []*domain.Signal, bars []domain.Bar, series indicators.Series, bearishEngulfingAtLatest bool) []*domain.Signal {
	if len(bars) == 0 {
		return nil
	}
	i := len(bars) - 1
	bar := bars[i]

	rsi, _ := indicators.At(series.RSI14, i)
	adx, _ := indicators.At(series.ADX14, i)
	adxPrev, hasAdxPrev := indicators.At(series.ADX14, i-1)
	chandelier, hasChandelier := indicators.At(series.ChandelierExitLong, i)

	var mutated []*domain.Signal

	for _, s := range active {
		changed := false

		switch s.Side {
		case domain.SideBuy:
			changed = advanceBuy(s, bar, rsi, adx, adxPrev, hasAdxPrev, chandelier, hasChandelier, bearishEngulfingAtLatest)
		case domain.SideSell:
			changed = advanceSell(s, bar, rsi, adx, adxPrev, hasAdxPrev, chandelier, hasChandelier, bearishEngulfingAtLatest)
		}

		if changed {
			mutated = append(mutated, s)
		}
	}
	return mutated
}

// advanceBuy runs the BUY-side lifecycle rules: invalidation precedence,
// then the take-profit ladder, then trailing, then expiration.
func advanceBuy(s *domain.Signal, bar domain.Bar, rsi, adx, adxPrev float64, hasAdxPrev bool, chandelier float64, hasChandelier, bearishEngulfing bool) bool {
	// 1. Invalidation precedence.
	if bar.Close < s.InvalidationPrice {
		setInvalidated(s, domain.ExitReasonStructuralInvalidation)
		return true
	}
	adxPeaking := hasAdxPrev && adx > 50 && adxPrev > adx
	if bearishEngulfing {
		setInvalidated(s, domain.ExitReasonBearishEngulfing)
		return true
	}
	if rsi > 80 {
		setInvalidated(s, domain.ExitReasonRSIOverbought)
		return true
	}
	if adxPeaking {
		setInvalidated(s, domain.ExitReasonADXPeaking)
		return true
	}

	changed := false

	// 2. Take-profit ladder.
	switch s.Status {
	case domain.StatusWaiting:
		if bar.High >= s.TakeProfit1 {
			s.Status = domain.StatusTP1Hit
			s.SuggestedStop = s.EntryPrice // breakeven
			s.ExitReason = domain.ExitReasonTP1
			changed = true
		}
	case domain.StatusTP1Hit:
		if bar.High >= s.TakeProfit2 {
			s.Status = domain.StatusTP2Hit
			changed = true
		}
	}

	// From {TP1_HIT, TP2_HIT}: chandelier-exit runner close.
	if (s.Status == domain.StatusTP1Hit || s.Status == domain.StatusTP2Hit) && hasChandelier {
		if bar.Close <= chandelier {
			s.Status = domain.StatusTP3Hit
			s.ExitReason = domain.ExitReasonTPHit
			changed = true
		} else {
			// 3. Trailing update (no status change unless closed above).
			if chandelier > s.TakeProfit3 {
				s.PreviousTP3 = s.TakeProfit3
				s.TakeProfit3 = chandelier
				s.TrailUpdated = true
				changed = true
			}
		}
	}

	// 4. Expiration: only from WAITING, and only before any TP hit.
	if s.Status == domain.StatusWaiting {
		if s.CreatedAt.Add(24 * time.Hour).Before(bar.Ts) {
			s.Status = domain.StatusExpired
			s.ExitReason = domain.ExitReasonExpired
			changed = true
		}
	}

	return changed
}

// advanceSell mirrors advanceBuy with every inequality reversed for a
// short signal.
func advanceSell(s *domain.Signal, bar domain.Bar, rsi, adx, adxPrev float64, hasAdxPrev bool, chandelier float64, hasChandelier, bearishEngulfing bool) bool {
	if bar.Close > s.InvalidationPrice {
		setInvalidated(s, domain.ExitReasonStructuralInvalidation)
		return true
	}
	adxPeaking := hasAdxPrev && adx > 50 && adxPrev > adx
	if rsi < 20 {
		setInvalidated(s, domain.ExitReasonRSIOverbought)
		return true
	}
	if adxPeaking {
		setInvalidated(s, domain.ExitReasonADXPeaking)
		return true
	}

	changed := false

	switch s.Status {
	case domain.StatusWaiting:
		if bar.Low <= s.TakeProfit1 {
			s.Status = domain.StatusTP1Hit
			s.SuggestedStop = s.EntryPrice
			s.ExitReason = domain.ExitReasonTP1
			changed = true
		}
	case domain.StatusTP1Hit:
		if bar.Low <= s.TakeProfit2 {
			s.Status = domain.StatusTP2Hit
			changed = true
		}
	}

	if (s.Status == domain.StatusTP1Hit || s.Status == domain.StatusTP2Hit) && hasChandelier {
		if bar.Close >= chandelier {
			s.Status = domain.StatusTP3Hit
			s.ExitReason = domain.ExitReasonTPHit
			changed = true
		} else if chandelier < s.TakeProfit3 {
			s.PreviousTP3 = s.TakeProfit3
			s.TakeProfit3 = chandelier
			s.TrailUpdated = true
			changed = true
		}
	}

	if s.Status == domain.StatusWaiting {
		if s.CreatedAt.Add(24 * time.Hour).Before(bar.Ts) {
			s.Status = domain.StatusExpired
			s.ExitReason = domain.ExitReasonExpired
			changed = true
		}
	}

	return changed
}

func setInvalidated(s *domain.Signal, reason domain.ExitReason) {
	s.Status = domain.StatusInvalidated
	s.ExitReason = reason
}

// ToPatch converts the mutable fields CheckExits touched into the typed
// patch update_signal_atomic accepts (spec.md §4.5's closing sentence:
// "All mutations are persisted via update_signal_atomic... which only
// writes the changed fields").
func ToPatch(s *domain.Signal) domain.SignalPatch {
	status := s.Status
	reason := s.ExitReason
	stop := s.SuggestedStop
	tp3 := s.TakeProfit3
	return domain.SignalPatch{
		Status:        &status,
		ExitReason:    &reason,
		SuggestedStop: &stop,
		TakeProfit3:   &tp3,
	}
}
