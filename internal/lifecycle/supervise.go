package lifecycle

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover is the last-resort fault boundary for one unit of work. It must be
// deferred directly: defer lifecycle.Recover(logger, "unit").
func Recover(logger *slog.Logger, unit string, attrs ...any) {
	r := recover()
	if r == nil {
		return
	}
	args := append([]any{
		"unit", unit,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	}, attrs...)
	logger.Error("Recovered from panic, unit of work abandoned", args...)
}

// Go runs fn on its own goroutine behind Recover so a fault in one
// connection or background loop cannot take the process down.
func Go(logger *slog.Logger, unit string, fn func()) {
	go func() {
		defer Recover(logger, unit)
		fn()
	}()
}
