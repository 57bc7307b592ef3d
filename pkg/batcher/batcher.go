// Package batcher groups items into batches flushed by size or time,
// whichever threshold is crossed first.
package batcher

import (
	"errors"
	"sync"
	"time"
)

// Batcher collects items of one type and hands full batches to a flush
// callback. Safe for concurrent producers.
type Batcher[T any] struct {
	mu       sync.Mutex
	pending  []T
	maxSize  int
	interval time.Duration
	flushFn  func([]T) error
	stop     chan struct{}
	done     sync.WaitGroup
	lastErr  error
}

// New starts a batcher. The background ticker flushes whatever accumulated
// after each interval; Add flushes as soon as maxSize items are pending.
func New[T any](maxSize int, interval time.Duration, flushFn func([]T) error) *Batcher[T] {
	b := &Batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flushFn:  flushFn,
		stop:     make(chan struct{}),
	}
	b.done.Add(1)
	go b.run()
	return b
}

// Add queues an item. When the size threshold is reached the full batch is
// flushed on the calling goroutine.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	b.pending = append(b.pending, item)
	var batch []T
	if len(b.pending) >= b.maxSize {
		batch = b.take()
	}
	b.mu.Unlock()
	if batch == nil {
		return nil
	}
	return b.deliver(batch)
}

// Flush forces delivery of everything pending.
func (b *Batcher[T]) Flush() error {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	return b.deliver(batch)
}

// Pending reports how many items await delivery.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// LastError returns the most recent flush failure seen by the background
// ticker.
func (b *Batcher[T]) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Close stops the ticker and delivers whatever is still pending.
func (b *Batcher[T]) Close() error {
	close(b.stop)
	b.done.Wait()
	return b.Flush()
}

func (b *Batcher[T]) run() {
	defer b.done.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.mu.Lock()
				b.lastErr = err
				b.mu.Unlock()
			}
		case <-b.stop:
			return
		}
	}
}

// take detaches the pending batch. Callers hold b.mu.
func (b *Batcher[T]) take() []T {
	if len(b.pending) == 0 {
		return nil
	}
	batch := make([]T, len(b.pending))
	copy(batch, b.pending)
	b.pending = b.pending[:0]
	return batch
}

func (b *Batcher[T]) deliver(batch []T) error {
	if len(batch) == 0 {
		return nil
	}
	if b.flushFn == nil {
		return errors.New("batcher: no flush function configured")
	}
	return b.flushFn(batch)
}
