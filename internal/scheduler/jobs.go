package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/archival"
	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/execution"
	"github.com/aristath/cryptosignals/internal/indicators"
	"github.com/aristath/cryptosignals/internal/marketdata"
	"github.com/aristath/cryptosignals/internal/notifier"
	"github.com/aristath/cryptosignals/internal/observability"
	"github.com/aristath/cryptosignals/internal/patterns"
	"github.com/aristath/cryptosignals/internal/pivot"
	"github.com/aristath/cryptosignals/internal/reconciler"
	"github.com/aristath/cryptosignals/internal/repository"
	"github.com/aristath/cryptosignals/internal/risk"
	"github.com/aristath/cryptosignals/internal/signal"
)

// jobLocker is the mutual-exclusion contract every Job below acquires
// before running, satisfied by repository.JobLockRepository. Grounded on
// the teacher's internal/scheduler/health_check.go, which wraps its Run()
// body in an identical acquire/defer-release pair around a
// *locking.Manager.
type jobLocker interface {
	AcquireLock(ctx context.Context, jobName string) (bool, error)
	ReleaseLock(ctx context.Context, jobName string) error
}

// ReconcileJob runs one reconciler.Reconciler pass per scheduled tick,
// grounded on health_check.go's lock-run-release shape.
type ReconcileJob struct {
	Reconciler *reconciler.Reconciler
	Locks      jobLocker
	Notifier   notifier.Notifier
	Metrics    *observability.Metrics
	Log        zerolog.Logger
}

func NewReconcileJob(r *reconciler.Reconciler, locks jobLocker, n notifier.Notifier, m *observability.Metrics, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{Reconciler: r, Locks: locks, Notifier: n, Metrics: m, Log: log.With().Str("job", "reconcile").Logger()}
}

func (j *ReconcileJob) Name() string { return "reconcile" }

func (j *ReconcileJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	acquired, err := j.Locks.AcquireLock(ctx, j.Name())
	if err != nil {
		return err
	}
	if !acquired {
		j.Log.Debug().Msg("another instance holds the reconcile lock, skipping")
		if j.Metrics != nil {
			j.Metrics.JobLockContention.WithLabelValues(j.Name()).Inc()
		}
		return nil
	}
	defer func() {
		if err := j.Locks.ReleaseLock(ctx, j.Name()); err != nil {
			j.Log.Warn().Err(err).Msg("failed to release reconcile lock")
		}
	}()

	start := time.Now()
	report, err := j.Reconciler.Run(ctx)
	if err != nil {
		return err
	}

	if j.Metrics != nil {
		j.Metrics.ReconcileAnomaly.WithLabelValues("zombie").Add(float64(len(report.Zombies)))
		j.Metrics.ReconcileAnomaly.WithLabelValues("orphan").Add(float64(len(report.Orphans)))
		j.Metrics.ReconcileAnomaly.WithLabelValues("reverse_orphan").Add(float64(len(report.ReverseOrphans)))
	}

	if len(report.Zombies)+len(report.Orphans)+len(report.ReverseOrphans) > 0 && j.Notifier != nil {
		_ = j.Notifier.SendCritical(ctx, "reconciler found "+itoa(len(report.Zombies))+" zombies, "+
			itoa(len(report.Orphans))+" orphans, "+itoa(len(report.ReverseOrphans))+" reverse-orphans")
	}

	j.Log.Info().Str("duration", observability.FormatDuration(time.Since(start))).Msg("reconcile pass complete")
	return nil
}

// ArchivalJob runs every registered archival.Pipeline through one
// archival.Engine pass, in slice order (cmd/server registers trade
// archival, fee patch, rejected and expired signal archival, account
// snapshot, and strategy sync last since it touches a different dimension
// table entirely).
type ArchivalJob struct {
	Engine    *archival.Engine
	Pipelines []archival.Pipeline
	Locks     jobLocker
	Metrics   *observability.Metrics
	Log       zerolog.Logger
}

func NewArchivalJob(engine *archival.Engine, pipelines []archival.Pipeline, locks jobLocker, m *observability.Metrics, log zerolog.Logger) *ArchivalJob {
	return &ArchivalJob{Engine: engine, Pipelines: pipelines, Locks: locks, Metrics: m, Log: log.With().Str("job", "archive").Logger()}
}

func (j *ArchivalJob) Name() string { return "archive" }

func (j *ArchivalJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	acquired, err := j.Locks.AcquireLock(ctx, j.Name())
	if err != nil {
		return err
	}
	if !acquired {
		j.Log.Debug().Msg("another instance holds the archive lock, skipping")
		if j.Metrics != nil {
			j.Metrics.JobLockContention.WithLabelValues(j.Name()).Inc()
		}
		return nil
	}
	defer func() {
		if err := j.Locks.ReleaseLock(ctx, j.Name()); err != nil {
			j.Log.Warn().Err(err).Msg("failed to release archive lock")
		}
	}()

	var firstErr error
	for _, p := range j.Pipelines {
		start := time.Now()
		err := j.Engine.Run(ctx, p)
		outcome := "success"
		if err != nil {
			outcome = "error"
			j.Log.Error().Err(err).Str("pipeline", p.Name()).Msg("pipeline run failed")
			if firstErr == nil {
				firstErr = err
			}
		}
		if j.Metrics != nil {
			j.Metrics.PipelineRuns.WithLabelValues(p.Name(), outcome).Inc()
			j.Metrics.PipelineDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
		}
	}
	return firstErr
}

// SymbolLoopJob runs the full generate -> validate -> execute pipeline
// (spec.md §2's control-flow summary) over every configured symbol, once
// per scheduled tick. Each symbol's failure is logged and isolated so one
// bad fetch doesn't block the rest of the universe, mirroring the
// teacher's per-work-type isolation in its scheduler loop.
type SymbolLoopJob struct {
	Config    *config.Config
	Bars      marketdata.Provider
	Signals   SignalStore
	Positions PositionStore
	Risk      *risk.Engine
	Exec      *execution.Engine
	Notifier  notifier.Notifier
	Metrics   *observability.Metrics
	Locks     jobLocker
	Log       zerolog.Logger

	generator *signal.Generator
	cooldown  *signal.CooldownPolicy
}

// SignalStore is the narrow persistence slice SymbolLoopJob needs from
// internal/repository.SignalRepository.
type SignalStore interface {
	GetActiveSignals(ctx context.Context, symbol string) ([]domain.Signal, error)
	GetMostRecentExit(ctx context.Context, symbol string) (time.Time, error)
	Save(ctx context.Context, s *domain.Signal) error
	SaveRejectedSignal(ctx context.Context, rs *domain.RejectedSignal) error
	UpdateSignalAtomic(ctx context.Context, signalID string, patch domain.SignalPatch) error
}

// PositionStore is the narrow persistence slice SymbolLoopJob needs from
// internal/repository.PositionRepository, to persist freshly-executed
// positions and look one up by symbol for lifecycle-driven position
// management (scale-out, breakeven, trailing, emergency close).
type PositionStore interface {
	Save(ctx context.Context, p *domain.Position) error
	GetOpenPositionBySymbol(ctx context.Context, symbol string) (*domain.Position, error)
}

func NewSymbolLoopJob(cfg *config.Config, bars marketdata.Provider, signals SignalStore, positions PositionStore, riskEngine *risk.Engine, exec *execution.Engine, n notifier.Notifier, m *observability.Metrics, locks jobLocker, log zerolog.Logger) *SymbolLoopJob {
	return &SymbolLoopJob{
		Config:    cfg,
		Bars:      bars,
		Signals:   signals,
		Positions: positions,
		Risk:      riskEngine,
		Exec:      exec,
		Notifier:  n,
		Metrics:   m,
		Locks:     locks,
		Log:       log.With().Str("job", "symbol_loop").Logger(),
		generator: signal.NewGenerator(time.Duration(cfg.TTLDaysProd)*24*time.Hour, 0.03),
		cooldown:  signal.NewCooldownPolicy(cfg.DefaultCooldownSeconds, cfg.CooldownSeconds),
	}
}

func (j *SymbolLoopJob) Name() string { return "symbol_loop" }

func (j *SymbolLoopJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	acquired, err := j.Locks.AcquireLock(ctx, j.Name())
	if err != nil {
		return err
	}
	if !acquired {
		j.Log.Debug().Msg("another instance holds the symbol-loop lock, skipping")
		if j.Metrics != nil {
			j.Metrics.JobLockContention.WithLabelValues(j.Name()).Inc()
		}
		return nil
	}
	defer func() {
		if err := j.Locks.ReleaseLock(ctx, j.Name()); err != nil {
			j.Log.Warn().Err(err).Msg("failed to release symbol-loop lock")
		}
	}()

	for _, symbol := range j.Config.CryptoSymbols {
		j.processSymbol(ctx, symbol, domain.AssetClassCrypto)
	}
	for _, symbol := range j.Config.EquitySymbols {
		j.processSymbol(ctx, symbol, domain.AssetClassEquity)
	}
	return nil
}

func (j *SymbolLoopJob) processSymbol(ctx context.Context, symbol string, assetClass domain.AssetClass) {
	log := j.Log.With().Str("symbol", symbol).Logger()

	active, err := j.Signals.GetActiveSignals(ctx, symbol)
	if err != nil {
		log.Error().Err(err).Msg("failed to check active signals")
		return
	}

	bars, err := j.Bars.GetDailyBars(ctx, symbol, assetClass, 250)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch bars")
		return
	}
	if len(bars) == 0 {
		return
	}

	series := indicators.Compute(bars)

	// Active signals for this symbol advance their lifecycle against the
	// same bars (spec.md §2); a symbol already carrying an active signal
	// does not also generate a new one this tick.
	if len(active) > 0 {
		j.advanceLifecycle(ctx, symbol, assetClass, active, bars, series, log)
		return
	}

	lastExitAt, err := j.Signals.GetMostRecentExit(ctx, symbol)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch most recent exit")
		return
	}

	pivots := pivot.FindPivots(bars, 0.03)

	s := j.generator.GenerateSignal(symbol, assetClass, bars, j.cooldown, lastExitAt, pivots, series)
	if s == nil {
		return
	}

	if j.Metrics != nil {
		j.Metrics.SignalsGenerated.WithLabelValues(string(assetClass), s.PatternName).Inc()
	}

	result := j.Risk.Validate(ctx, s)
	if !result.Passed {
		if j.Metrics != nil {
			j.Metrics.SignalsRejected.WithLabelValues(result.Gate).Inc()
		}
		if err := j.Signals.SaveRejectedSignal(ctx, &domain.RejectedSignal{
			Signal:          *s,
			RejectionReason: result.Reason,
			RejectedAt:      time.Now().UTC(),
		}); err != nil {
			log.Error().Err(err).Msg("failed to save rejected signal")
		}
		return
	}

	if err := j.Signals.Save(ctx, s); err != nil {
		log.Error().Err(err).Msg("failed to save signal")
		return
	}

	if j.Notifier != nil {
		if _, err := j.Notifier.SendSignal(ctx, s, string(assetClass)); err != nil {
			log.Warn().Err(err).Msg("failed to send signal notification")
		}
	}

	if j.Metrics != nil {
		j.Metrics.OrdersSubmitted.WithLabelValues(string(assetClass), string(s.Side)).Inc()
	}

	pos, err := j.Exec.ExecuteSignal(ctx, s)
	if err != nil {
		log.Error().Err(err).Msg("execution failed")
		return
	}
	if pos != nil && j.Positions != nil {
		if err := j.Positions.Save(ctx, pos); err != nil {
			log.Error().Err(err).Str("position_id", pos.PositionID).Msg("failed to save position")
		}
	}
}

// advanceLifecycle runs signal.CheckExits over every active signal for
// symbol, persists every mutation via UpdateSignalAtomic, and drives the
// matching position operation (scale-out, breakeven, trailing stop,
// emergency close) and notification for each transition (spec.md §4.5,
// §4.7's "TP1 automation" note).
func (j *SymbolLoopJob) advanceLifecycle(ctx context.Context, symbol string, assetClass domain.AssetClass, active []domain.Signal, bars []domain.Bar, series indicators.Series, log zerolog.Logger) {
	ptrs := make([]*domain.Signal, len(active))
	for i := range active {
		ptrs[i] = &active[i]
	}

	bearish := patterns.BearishEngulfingAt(bars, len(bars)-1)
	mutated := signal.CheckExits(ptrs, bars, series, bearish)

	for _, s := range mutated {
		if err := j.Signals.UpdateSignalAtomic(ctx, s.SignalID, signal.ToPatch(s)); err != nil {
			log.Error().Err(err).Str("signal_id", s.SignalID).Msg("failed to persist lifecycle transition")
			continue
		}

		if s.TrailUpdated {
			j.handleTrailUpdate(ctx, symbol, assetClass, s, log)
			continue
		}
		j.handleStatusChange(ctx, symbol, assetClass, s, log)
	}
}

// handleTrailUpdate pushes a trailing take_profit_3 move to the broker
// stop and notifies only when movement since the last notification is
// ≥1% (spec.md §4.5 step 3 / scenario 5).
func (j *SymbolLoopJob) handleTrailUpdate(ctx context.Context, symbol string, assetClass domain.AssetClass, s *domain.Signal, log zerolog.Logger) {
	pos := j.lookupPosition(ctx, symbol, log)
	if pos != nil {
		if _, err := j.Exec.ModifyStopLoss(ctx, pos, s.TakeProfit3); err != nil {
			log.Warn().Err(err).Str("signal_id", s.SignalID).Msg("failed to trail broker stop")
		} else if j.Positions != nil {
			if err := j.Positions.Save(ctx, pos); err != nil {
				log.Error().Err(err).Str("position_id", pos.PositionID).Msg("failed to persist trailed position")
			}
		}
	}

	ref := s.LastNotifiedTP3
	if ref <= 0 {
		ref = s.PreviousTP3
	}
	movementPct := 100.0
	if ref > 0 {
		movementPct = absPct((s.TakeProfit3 - ref) / ref * 100)
	}
	if movementPct < 1.0 {
		return
	}

	last := s.TakeProfit3
	if err := j.Signals.UpdateSignalAtomic(ctx, s.SignalID, domain.SignalPatch{LastNotifiedTP3: &last}); err != nil {
		log.Error().Err(err).Str("signal_id", s.SignalID).Msg("failed to persist last_notified_tp3")
	}
	if j.Notifier != nil {
		if err := j.Notifier.SendTrailUpdate(ctx, s, ref, assetClass); err != nil {
			log.Warn().Err(err).Str("signal_id", s.SignalID).Msg("failed to send trail update notification")
		}
	}
}

// handleStatusChange drives the position-side consequence of a signal
// status transition (TP1 scale-out + breakeven, terminal-status emergency
// close) and notifies.
func (j *SymbolLoopJob) handleStatusChange(ctx context.Context, symbol string, assetClass domain.AssetClass, s *domain.Signal, log zerolog.Logger) {
	pos := j.lookupPosition(ctx, symbol, log)

	switch s.Status {
	case domain.StatusTP1Hit:
		if pos != nil {
			if err := j.Exec.ScaleOutPosition(ctx, pos, 0.5); err != nil {
				log.Warn().Err(err).Str("position_id", pos.PositionID).Msg("scale-out failed")
			}
			if err := j.Exec.MoveStopToBreakeven(ctx, pos); err != nil {
				log.Warn().Err(err).Str("position_id", pos.PositionID).Msg("move-to-breakeven failed")
			}
			j.savePosition(ctx, pos, log)
		}
	case domain.StatusTP3Hit, domain.StatusInvalidated:
		if pos != nil {
			if err := j.Exec.ClosePositionEmergency(ctx, pos); err != nil {
				log.Warn().Err(err).Str("position_id", pos.PositionID).Msg("emergency close failed")
			}
			j.savePosition(ctx, pos, log)
			if pos.Status == domain.PositionClosed && j.Notifier != nil {
				pnlUSD, pnlPct := execution.CalculateRealizedPnL(pos)
				duration := observability.FormatDuration(time.Duration(pos.TradeDurationSeconds) * time.Second)
				if err := j.Notifier.SendTradeClose(ctx, s, pos, pnlUSD, pnlPct, duration, s.ExitReason); err != nil {
					log.Warn().Err(err).Str("signal_id", s.SignalID).Msg("failed to send trade close notification")
				}
				return
			}
		}
	}

	if j.Notifier != nil {
		if err := j.Notifier.SendSignalUpdate(ctx, s); err != nil {
			log.Warn().Err(err).Str("signal_id", s.SignalID).Msg("failed to send signal update notification")
		}
	}
}

func (j *SymbolLoopJob) savePosition(ctx context.Context, pos *domain.Position, log zerolog.Logger) {
	if j.Positions == nil {
		return
	}
	if err := j.Positions.Save(ctx, pos); err != nil {
		log.Error().Err(err).Str("position_id", pos.PositionID).Msg("failed to persist position")
	}
}

func (j *SymbolLoopJob) lookupPosition(ctx context.Context, symbol string, log zerolog.Logger) *domain.Position {
	if j.Positions == nil {
		return nil
	}
	pos, err := j.Positions.GetOpenPositionBySymbol(ctx, symbol)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Error().Err(err).Msg("failed to load open position")
		}
		return nil
	}
	return pos
}

func absPct(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
