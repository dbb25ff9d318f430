package observability

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatDuration renders d the way job-completion log lines report elapsed
// time ("3 seconds", "2 minutes") rather than Go's default "3.214s"/"2m0s" —
// readable in a log tail without doing the arithmetic.
func FormatDuration(d time.Duration) string {
	return strings.TrimSpace(humanize.RelTime(time.Now().Add(-d), time.Now(), "", ""))
}
