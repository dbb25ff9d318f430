package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// sentryFlushTimeout bounds how long Shutdown waits for in-flight events to
// leave the process before the deferred call returns.
const sentryFlushTimeout = 2 * time.Second

// InitSentry wires fatal-init and unhandled-panic capture. A blank dsn is a
// valid, common case (no Sentry project configured for local/dev runs) —
// sentry-go silently no-ops every call in that configuration, so callers
// don't need to branch on it.
func InitSentry(dsn, environment string, log zerolog.Logger) (shutdown func(), err error) {
	if dsn == "" {
		log.Debug().Msg("SENTRY_DSN not set, crash reporting disabled")
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, err
	}

	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}

// RecoverAndReport recovers a panic in the calling goroutine, reports it to
// Sentry, and re-panics so the process still crashes loudly rather than
// limping on in a corrupted state — fatal-init capture, not a supervisor.
func RecoverAndReport() {
	if r := recover(); r != nil {
		sentry.CurrentHub().Recover(r)
		sentry.Flush(sentryFlushTimeout)
		panic(r)
	}
}
