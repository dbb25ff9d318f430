// Package notifier defines the thread-keyed messaging contract spec.md §6
// names (Notifier interface) without a concrete Discord/Telegram wire
// client — the SPEC_FULL.md DOMAIN STACK table explicitly drops
// go-telegram-bot-api: only the interface and a log-only stub are in
// scope here.
package notifier

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/domain"
)

// Notifier is the thread-keyed messaging channel every signal-lifecycle
// event, risk rejection, trade close, and reconciler alert is routed
// through. In TEST mode every message routes to one sink; in LIVE, crypto
// and equity route to class-specific sinks and system messages always
// reach the test sink (spec.md §6) — routing is the concrete
// implementation's concern, not this interface's.
type Notifier interface {
	SendSignal(ctx context.Context, s *domain.Signal, threadName string) (string, error)
	SendMessage(ctx context.Context, content string, threadID string, assetClass domain.AssetClass) error
	SendTrailUpdate(ctx context.Context, s *domain.Signal, oldStop float64, assetClass domain.AssetClass) error
	SendSignalUpdate(ctx context.Context, s *domain.Signal) error
	SendTradeClose(ctx context.Context, s *domain.Signal, p *domain.Position, pnlUSD, pnlPct float64, duration string, reason domain.ExitReason) error
	SendShadowSignal(ctx context.Context, s *domain.Signal) error
	// SendCritical reports reconciler/archival/system alerts that always
	// reach the system sink regardless of asset class.
	SendCritical(ctx context.Context, message string) error
}

// LogNotifier is the log-only stub: every send is a structured zerolog
// line rather than a network call. It satisfies Notifier everywhere the
// engine needs one but no sink URL is configured, matching spec.md §6's
// "missing sink URL -> null and logged critical" behavior for the whole
// interface rather than just the URL-missing case.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds the stub implementation.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) SendSignal(ctx context.Context, s *domain.Signal, threadName string) (string, error) {
	n.log.Info().Str("signal_id", s.SignalID).Str("symbol", s.Symbol).Str("thread", threadName).Msg("signal")
	return "", nil
}

func (n *LogNotifier) SendMessage(ctx context.Context, content string, threadID string, assetClass domain.AssetClass) error {
	n.log.Info().Str("thread_id", threadID).Str("asset_class", string(assetClass)).Msg(content)
	return nil
}

func (n *LogNotifier) SendTrailUpdate(ctx context.Context, s *domain.Signal, oldStop float64, assetClass domain.AssetClass) error {
	n.log.Info().Str("signal_id", s.SignalID).Float64("old_stop", oldStop).Float64("new_stop", s.SuggestedStop).Msg("trail update")
	return nil
}

func (n *LogNotifier) SendSignalUpdate(ctx context.Context, s *domain.Signal) error {
	n.log.Info().Str("signal_id", s.SignalID).Str("status", string(s.Status)).Msg("signal update")
	return nil
}

func (n *LogNotifier) SendTradeClose(ctx context.Context, s *domain.Signal, p *domain.Position, pnlUSD, pnlPct float64, duration string, reason domain.ExitReason) error {
	n.log.Info().
		Str("signal_id", s.SignalID).
		Str("position_id", p.PositionID).
		Float64("pnl_usd", pnlUSD).
		Float64("pnl_pct", pnlPct).
		Str("duration", duration).
		Str("exit_reason", string(reason)).
		Msg("trade close")
	return nil
}

func (n *LogNotifier) SendShadowSignal(ctx context.Context, s *domain.Signal) error {
	n.log.Info().Str("signal_id", s.SignalID).Str("symbol", s.Symbol).Msg("shadow signal")
	return nil
}

func (n *LogNotifier) SendCritical(ctx context.Context, message string) error {
	n.log.Error().Msg(message)
	return nil
}
