// Package channel provides bounded channel implementations.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed = errors.New("channel is closed")
	ErrFull   = errors.New("channel is full")
)

// Bounded 有界 FIFO 通道
// 发送端非阻塞，关闭后发送返回 ErrClosed 而不是 panic。
type Bounded[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool

	sends    atomic.Int64
	receives atomic.Int64
	rejects  atomic.Int64
}

// NewBounded creates a bounded channel. A non-positive capacity becomes 1.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{ch: make(chan T, capacity)}
}

// TrySend attempts a non-blocking send.
func (b *Bounded[T]) TrySend(v T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.rejects.Add(1)
		return ErrClosed
	}

	select {
	case b.ch <- v:
		b.sends.Add(1)
		return nil
	default:
		b.rejects.Add(1)
		return ErrFull
	}
}

// Receive 接收一个值，直到有值、超时、ctx 取消或通道关闭
// 超时或关闭时 ok 为 false。timeout <= 0 表示只受 ctx 约束。
func (b *Bounded[T]) Receive(ctx context.Context, timeout time.Duration) (T, bool) {
	var zero T

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case v, ok := <-b.ch:
		if !ok {
			return zero, false
		}
		b.receives.Add(1)
		return v, true
	case <-timeoutC:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// TryReceive attempts a non-blocking receive.
func (b *Bounded[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-b.ch:
		if !ok {
			var zero T
			return zero, false
		}
		b.receives.Add(1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the current number of buffered items.
func (b *Bounded[T]) Len() int {
	return len(b.ch)
}

// Cap returns the capacity.
func (b *Bounded[T]) Cap() int {
	return cap(b.ch)
}

// Close 关闭通道，未消费的值被丢弃。重复关闭是安全的。
func (b *Bounded[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
	for range b.ch {
	}
}

// Closed reports whether Close has been called.
func (b *Bounded[T]) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Stats returns channel statistics.
func (b *Bounded[T]) Stats() Stats {
	return Stats{
		Capacity: cap(b.ch),
		Length:   len(b.ch),
		Sends:    b.sends.Load(),
		Receives: b.receives.Load(),
		Rejects:  b.rejects.Load(),
	}
}

// Stats contains channel statistics.
type Stats struct {
	Capacity int   `json:"capacity"`
	Length   int   `json:"length"`
	Sends    int64 `json:"sends"`
	Receives int64 `json:"receives"`
	Rejects  int64 `json:"rejects"`
}
