// Package shutdown centralizes signal handling and fatal-exit paths for
// the daemon binaries.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hearth/pkg/logger"
)

// Notify returns a context canceled on SIGINT/SIGTERM, plus a stop func.
func Notify(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Abort logs a fatal startup error and exits. The short delay lets log
// sinks flush.
func Abort(contextMsg string, err error) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	time.Sleep(200 * time.Millisecond)
	os.Exit(2)
}
