// Package supervise runs long-lived goroutines with panic capture and a join point.
package supervise

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PanicError wraps a value recovered from a panicking goroutine.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Name, e.Value)
}

// Group 受监督的 goroutine 组
// 每个 goroutine 的 panic 会被捕获并交给 OnPanic，Wait 等待全部退出。
type Group struct {
	wg     sync.WaitGroup
	logger *zap.Logger

	onPanic func(*PanicError)

	started  atomic.Int64
	finished atomic.Int64
	panics   atomic.Int64
}

// NewGroup creates a group. onPanic may be nil.
func NewGroup(logger *zap.Logger, onPanic func(*PanicError)) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		logger:  logger,
		onPanic: onPanic,
	}
}

// Go launches fn in a supervised goroutine.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	g.started.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.finished.Add(1)
		_ = g.Run(name, fn)
	}()
}

// Run executes fn on the calling goroutine and converts a panic into a *PanicError.
func (g *Group) Run(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
			g.panics.Add(1)
			g.logger.Error("goroutine panicked",
				zap.String("name", name),
				zap.Any("panic", r),
				zap.ByteString("stack", pe.Stack),
			)
			if g.onPanic != nil {
				g.onPanic(pe)
			}
			err = pe
		}
	}()

	fn()
	return nil
}

// Wait blocks until every goroutine launched with Go has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Stats returns group statistics.
func (g *Group) Stats() Stats {
	started := g.started.Load()
	finished := g.finished.Load()
	return Stats{
		Active:   int(started - finished),
		Started:  started,
		Finished: finished,
		Panics:   g.panics.Load(),
	}
}

// Stats contains group statistics.
type Stats struct {
	Active   int   `json:"active"`
	Started  int64 `json:"started"`
	Finished int64 `json:"finished"`
	Panics   int64 `json:"panics"`
}
