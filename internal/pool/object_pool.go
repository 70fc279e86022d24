// Package pool provides object pooling on top of sync.Pool.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T) bool

	gets    atomic.Int64
	puts    atomic.Int64
	news    atomic.Int64
	dropped atomic.Int64
}

// NewPool creates a new object pool.
// reset 清理对象后返回 false 时对象被丢弃而不放回池中。
func NewPool[T any](newFunc func() T, reset func(*T) bool) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil && !p.reset(&obj) {
		p.dropped.Add(1)
		return
	}
	p.puts.Add(1)
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Gets:    p.gets.Load(),
		Puts:    p.puts.Load(),
		News:    p.news.Load(),
		Dropped: p.dropped.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Gets    int64 `json:"gets"`
	Puts    int64 `json:"puts"`
	News    int64 `json:"news"`
	Dropped int64 `json:"dropped"`
}

// HitRate returns the share of Gets served without allocating.
func (s Stats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// maxPooledBuffer 超过该容量的缓冲区不回收，避免一次大响应长期占用内存
const maxPooledBuffer = 64 << 10

// NewBufferPool returns a pool of byte buffers with the given initial capacity.
func NewBufferPool(initSize int) *Pool[*bytes.Buffer] {
	return NewPool(
		func() *bytes.Buffer {
			return bytes.NewBuffer(make([]byte, 0, initSize))
		},
		func(b **bytes.Buffer) bool {
			if (*b).Cap() > maxPooledBuffer {
				return false
			}
			(*b).Reset()
			return true
		},
	)
}

// ByteBufferPool provides pooled byte buffers for response encoding.
var ByteBufferPool = NewBufferPool(4096)
