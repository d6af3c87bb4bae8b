// internal/execinfo/log.go
package execinfo

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a non-positive size.
const DefaultSubscriberBuffer = 16

// Log is the append-only record of one execution. Records are kept in full for
// Get and are streamed to subscribers in batches on Flush. A subscriber whose
// channel is full misses that batch; Push and Flush never block.
type Log struct {
	logger *zap.Logger

	mu      sync.Mutex
	history []schemas.ExecutionInfo
	pending []schemas.ExecutionInfo
	subs    []*subscriber
	closed  bool

	dropped atomic.Int64
}

type subscriber struct {
	ch chan []schemas.ExecutionInfo
}

// New creates an empty log.
func New(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("execinfo")}
}

// Push appends a record. With flush set, the pending batch is emitted at once.
func (l *Log) Push(record schemas.ExecutionInfo, flush bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, record)
	if l.closed {
		return
	}
	l.pending = append(l.pending, record)
	if flush {
		l.flushLocked()
	}
}

// Flush emits every buffered record as one batch and clears the buffer.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *Log) flushLocked() {
	if len(l.pending) == 0 {
		return
	}
	batch := l.pending
	l.pending = nil

	for _, s := range l.subs {
		select {
		case s.ch <- batch:
		default:
			n := l.dropped.Add(1)
			l.logger.Warn("Subscriber is not keeping up; batch dropped.",
				zap.Int("batch_size", len(batch)),
				zap.Int64("dropped_total", n))
		}
	}
}

// Get returns a copy of the full history.
func (l *Log) Get() []schemas.ExecutionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schemas.ExecutionInfo, len(l.history))
	copy(out, l.history)
	return out
}

// Len returns the number of records pushed so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// Terminal returns the terminal record if the execution has ended.
func (l *Log) Terminal() (schemas.ExecutionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.history); n > 0 && l.history[n-1].IsTerminal() {
		return l.history[n-1], true
	}
	return schemas.ExecutionInfo{}, false
}

// Succeeded reports whether the execution ended with a Success record.
func (l *Log) Succeeded() bool {
	rec, ok := l.Terminal()
	return ok && rec.Type == schemas.InfoSuccess
}

// Dropped returns the number of batches lost to slow subscribers.
func (l *Log) Dropped() int64 { return l.dropped.Load() }

// Subscribe registers a bounded channel that receives every flushed batch in
// order. The returned func unsubscribes and closes the channel. Subscribing to
// a closed log returns a closed channel.
func (l *Log) Subscribe(buffer int) (<-chan []schemas.ExecutionInfo, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		ch := make(chan []schemas.ExecutionInfo)
		close(ch)
		return ch, func() {}
	}

	s := &subscriber{ch: make(chan []schemas.ExecutionInfo, buffer)}
	l.subs = append(l.subs, s)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, cur := range l.subs {
				if cur == s {
					l.subs = append(l.subs[:i], l.subs[i+1:]...)
					close(s.ch)
					return
				}
			}
		})
	}
	return s.ch, unsubscribe
}

// Close flushes what is pending and closes every subscriber channel.
// Records pushed afterwards are kept in the history only.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.flushLocked()
	for _, s := range l.subs {
		close(s.ch)
	}
	l.subs = nil
	l.closed = true
}
