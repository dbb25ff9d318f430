// Package reconciler implements the State Reconciler (spec.md §4.9):
// detects and resolves synchronization gaps between broker state and the
// operational store, grounded on
// original_source/engine/reconciler.py (read in full) — zombie/orphan/
// reverse-orphan detection, age-based race guard, manual-exit candidate-
// order exclusion set.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/broker"
	"github.com/aristath/cryptosignals/internal/config"
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/notifier"
)

// defaultMinAgeMinutes is the race-condition guard: a DB-open position
// younger than this is never healed, since it may simply not have
// propagated to the broker yet.
const defaultMinAgeMinutes = 5

// PositionStore is the narrow slice of internal/repository the
// reconciler needs.
type PositionStore interface {
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	GetClosedPositions(ctx context.Context, limit int64) ([]domain.Position, error)
	Update(ctx context.Context, p *domain.Position) error
}

// Reconciler runs one reconciliation pass per Run call.
type Reconciler struct {
	Broker        broker.Broker
	Positions     PositionStore
	Notifier      notifier.Notifier
	Config        *config.Config
	Log           zerolog.Logger
	MinAgeMinutes int
}

// New builds a Reconciler with the spec's default 5-minute race guard.
func New(b broker.Broker, positions PositionStore, n notifier.Notifier, cfg *config.Config, log zerolog.Logger) *Reconciler {
	minAge := cfg.MinReconcileAgeMinutes
	if minAge <= 0 {
		minAge = defaultMinAgeMinutes
	}
	return &Reconciler{
		Broker:        b,
		Positions:     positions,
		Notifier:      n,
		Config:        cfg,
		Log:           log.With().Str("component", "reconciler").Logger(),
		MinAgeMinutes: minAge,
	}
}

// Run executes one full reconciliation pass, gated to PROD per spec.md
// §4.9. Outside PROD it returns a report noting the skip rather than
// touching any state.
func (r *Reconciler) Run(ctx context.Context) (*domain.ReconciliationReport, error) {
	start := time.Now()
	report := &domain.ReconciliationReport{ID: uuid.NewString(), RanAt: start}

	if r.Config.Environment != config.EnvProd {
		r.Log.Warn().Str("environment", string(r.Config.Environment)).Msg("reconciliation skipped: not PROD")
		report.CriticalIssues = []string{fmt.Sprintf("reconciliation disabled in %s", r.Config.Environment)}
		return report, nil
	}

	brokerPositions, err := r.Broker.GetAllPositions(ctx)
	if err != nil {
		report.CriticalIssues = append(report.CriticalIssues, fmt.Sprintf("failed to fetch broker positions: %v", err))
	}

	dbPositions, err := r.Positions.GetOpenPositions(ctx)
	if err != nil {
		report.CriticalIssues = append(report.CriticalIssues, fmt.Sprintf("failed to fetch open positions: %v", err))
	}

	zombieCandidates, orphanCandidates := detectDiscrepancies(brokerPositions, dbPositions)

	zombies, healed, zombieIssues := r.healZombies(ctx, zombieCandidates, dbPositions)
	report.Zombies = zombies
	report.ReconciledCount = healed
	report.CriticalIssues = append(report.CriticalIssues, zombieIssues...)

	orphans, orphanIssues := r.handleOrphans(ctx, orphanCandidates)
	report.Orphans = orphans
	report.CriticalIssues = append(report.CriticalIssues, orphanIssues...)

	reverseOrphans, reverseIssues := r.checkReverseOrphans(ctx)
	report.ReverseOrphans = reverseOrphans
	report.CriticalIssues = append(report.CriticalIssues, reverseIssues...)

	report.DurationSeconds = time.Since(start).Seconds()
	r.Log.Info().
		Int("zombies", len(report.Zombies)).
		Int("orphans", len(report.Orphans)).
		Int("reverse_orphans", len(report.ReverseOrphans)).
		Int("reconciled", report.ReconciledCount).
		Int("critical_issues", len(report.CriticalIssues)).
		Float64("duration_seconds", report.DurationSeconds).
		Msg("reconciliation complete")

	return report, nil
}

// detectDiscrepancies computes zombie (DB-open, broker-closed) and orphan
// (broker-open, DB-missing) candidate symbol sets. Both sides are
// normalized through InferAssetClass-stable symbol text since Alpaca's
// crypto-pair separator is already present on both sides in this domain
// model (no stripping is needed, unlike the Python draft, which guarded
// against a provider that sometimes strips the "/").
func detectDiscrepancies(brokerPositions []broker.Position, dbPositions []domain.Position) ([]string, []string) {
	brokerSymbols := make(map[string]bool, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerSymbols[p.Symbol] = true
	}
	dbSymbols := make(map[string]bool, len(dbPositions))
	for _, p := range dbPositions {
		dbSymbols[p.Symbol] = true
	}

	var zombies, orphans []string
	for s := range dbSymbols {
		if !brokerSymbols[s] {
			zombies = append(zombies, s)
		}
	}
	for s := range brokerSymbols {
		if !dbSymbols[s] {
			orphans = append(orphans, s)
		}
	}
	return zombies, orphans
}

// healZombies attempts to verify a manual exit for each zombie candidate
// young enough to act on; candidates still within the race-condition
// window are reported as zombies but left untouched.
func (r *Reconciler) healZombies(ctx context.Context, zombieSymbols []string, dbPositions []domain.Position) ([]string, int, []string) {
	bySymbol := make(map[string]*domain.Position, len(dbPositions))
	for i := range dbPositions {
		bySymbol[dbPositions[i].Symbol] = &dbPositions[i]
	}

	var finalZombies []string
	var issues []string
	healed := 0

	for _, symbol := range zombieSymbols {
		pos, ok := bySymbol[symbol]
		if !ok {
			continue
		}

		age := time.Since(pos.CreatedAt)
		if age < time.Duration(r.MinAgeMinutes)*time.Minute {
			r.Log.Warn().Str("symbol", symbol).Dur("age", age).Msg("skipping young zombie candidate")
			finalZombies = append(finalZombies, symbol)
			continue
		}

		verified, err := r.verifyManualExit(ctx, pos)
		if err != nil {
			issues = append(issues, fmt.Sprintf("failed to heal zombie %s: %v", symbol, err))
			finalZombies = append(finalZombies, symbol)
			continue
		}
		if !verified {
			issue := fmt.Sprintf("exit gap for %s: missing from broker with no matching closing order", symbol)
			r.Log.Error().Str("symbol", symbol).Msg(issue)
			issues = append(issues, issue)
			finalZombies = append(finalZombies, symbol)
			if err := r.Notifier.SendCritical(ctx, issue); err != nil {
				r.Log.Warn().Err(err).Msg("failed to notify exit gap")
			}
			continue
		}

		if err := r.Positions.Update(ctx, pos); err != nil {
			issues = append(issues, fmt.Sprintf("failed to persist healed zombie %s: %v", symbol, err))
			finalZombies = append(finalZombies, symbol)
			continue
		}
		healed++
		r.Log.Warn().Str("symbol", symbol).Str("position_id", pos.PositionID).Msg("zombie healed")
	}

	return finalZombies, healed, issues
}

// verifyManualExit searches recent filled broker orders for the opposite
// side of pos's entry, excluding the position's own known TP/SL/entry/
// client ids (spec.md §4.9's race-condition guard). On a match, pos is
// mutated in place to CLOSED/MANUAL_EXIT and the caller persists it.
func (r *Reconciler) verifyManualExit(ctx context.Context, pos *domain.Position) (bool, error) {
	closeSide := oppositeSide(pos.Side)
	orders, err := r.Broker.GetOrders(ctx, broker.OrderFilter{
		Symbol: pos.Symbol,
		Status: "filled",
		Side:   sideToWire(closeSide),
		Limit:  500,
	})
	if err != nil {
		return false, fmt.Errorf("search closing orders: %w", err)
	}

	ignored := map[string]bool{
		pos.TPOrderID:     true,
		pos.SLOrderID:     true,
		pos.BrokerOrderID: true,
		pos.PositionID:    true,
	}
	delete(ignored, "")

	for _, o := range orders {
		if ignored[o.OrderID] || ignored[o.ClientOrderID] {
			continue
		}
		pos.Status = domain.PositionClosed
		pos.ExitReason = domain.ExitReasonManualExit
		if o.FilledPrice > 0 {
			pos.ExitFillPrice = o.FilledPrice
		}
		if !o.FilledAt.IsZero() {
			pos.ExitTime = o.FilledAt
		}
		pos.ExitOrderID = o.OrderID

		r.Log.Info().Str("symbol", pos.Symbol).Str("order_id", o.OrderID).Msg("manual exit verified")
		return true, nil
	}

	return false, nil
}

// handleOrphans alerts on broker positions the operational store has no
// record of. The reconciler never closes unknown broker positions — that
// decision requires a human.
func (r *Reconciler) handleOrphans(ctx context.Context, orphanSymbols []string) ([]string, []string) {
	var issues []string
	for _, symbol := range orphanSymbols {
		issue := fmt.Sprintf("orphan position detected: %s open in broker but missing from the operational store", symbol)
		r.Log.Error().Str("symbol", symbol).Msg(issue)
		issues = append(issues, issue)
		if err := r.Notifier.SendCritical(ctx, issue); err != nil {
			r.Log.Warn().Err(err).Msg("failed to notify orphan")
		}
	}
	return orphanSymbols, issues
}

// checkReverseOrphans samples recently closed DB positions and alerts if
// the broker still reports them open.
func (r *Reconciler) checkReverseOrphans(ctx context.Context) ([]string, []string) {
	const sampleLimit = 50
	closed, err := r.Positions.GetClosedPositions(ctx, sampleLimit)
	if err != nil {
		return nil, []string{fmt.Sprintf("reverse-orphan check failed: %v", err)}
	}

	var reverseOrphans []string
	var issues []string
	for _, pos := range closed {
		_, err := r.Broker.GetOpenPosition(ctx, pos.Symbol)
		if err == broker.ErrNotFound {
			continue
		}
		if err != nil {
			r.Log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("error checking closed position")
			continue
		}
		issue := fmt.Sprintf("reverse orphan detected: %s closed in the operational store but still open in broker", pos.Symbol)
		r.Log.Error().Str("symbol", pos.Symbol).Str("position_id", pos.PositionID).Msg(issue)
		reverseOrphans = append(reverseOrphans, pos.Symbol)
		issues = append(issues, issue)
		if err := r.Notifier.SendCritical(ctx, issue); err != nil {
			r.Log.Warn().Err(err).Msg("failed to notify reverse orphan")
		}
	}
	return reverseOrphans, issues
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
