package notifier

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/cryptosignals/internal/domain"
)

func TestLogNotifier_SendSignal_NeverErrors(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	threadID, err := n.SendSignal(context.Background(), &domain.Signal{SignalID: "sig-1", Symbol: "BTC/USD"}, "crypto")
	require.NoError(t, err)
	require.Empty(t, threadID)
}

func TestLogNotifier_SendTradeClose_NeverErrors(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	err := n.SendTradeClose(context.Background(),
		&domain.Signal{SignalID: "sig-1"},
		&domain.Position{PositionID: "sig-1"},
		150.0, 15.0, "2h30m", domain.ExitReasonTPHit)
	require.NoError(t, err)
}

func TestLogNotifier_SendCritical_NeverErrors(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	require.NoError(t, n.SendCritical(context.Background(), "orphan position detected"))
}
