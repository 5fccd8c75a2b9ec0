// Package signal provides shutdown signal handling for the long-running commands.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/newhook/nextpick/internal/logging"
)

var (
	mu         sync.Mutex
	blockCount int
	// pendingCancel holds the cancel of a signal received while blocked.
	pendingCancel context.CancelFunc
)

// WithSignalCancel returns a context that is cancelled when SIGINT or SIGTERM
// is received. Call the returned cancel function when done.
func WithSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logging.Info("shutdown signal received", "signal", sig.String())
			mu.Lock()
			if blockCount > 0 {
				pendingCancel = cancel
				mu.Unlock()
				return
			}
			mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Critical runs fn with signal cancellation deferred until it returns, so a
// shutdown cannot interrupt it halfway (schema migrations, journal writes).
func Critical(fn func() error) error {
	BlockSignals()
	defer UnblockSignals()
	return fn()
}

// BlockSignals defers signal cancellation. Calls can be nested.
func BlockSignals() {
	mu.Lock()
	defer mu.Unlock()
	blockCount++
}

// UnblockSignals re-enables signal cancellation and applies any cancellation
// that arrived while blocked.
func UnblockSignals() {
	mu.Lock()
	defer mu.Unlock()
	if blockCount > 0 {
		blockCount--
	}
	if blockCount == 0 && pendingCancel != nil {
		pendingCancel()
		pendingCancel = nil
	}
}
