// Package graceful supervises background goroutines whose work must not be
// lost silently: billing tails, session appends, ledger writes. Tasks are
// tracked so shutdown can drain them, and panics are recovered and logged
// instead of killing the process.
package graceful

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelrelay/modelrelay/common/logger"
)

var critical sync.WaitGroup

// GoCritical runs fn on its own goroutine. The task is registered with the
// shutdown drain; a panic inside fn is recovered and logged with the task
// name and stack.
func GoCritical(ctx context.Context, name string, fn func(ctx context.Context)) {
	critical.Add(1)
	go func() {
		defer critical.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("critical task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until all critical tasks finish or the timeout elapses.
// Returns true when everything drained.
func Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		critical.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		logger.Logger.Warn("shutdown proceeded with critical tasks still running",
			zap.Duration("timeout", timeout))
		return false
	}
}
