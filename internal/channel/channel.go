// Package channel implements the snapshot transfer queue between the
// collection goroutine and the consumer goroutine: a bounded
// single-producer/single-consumer channel where send never blocks. Under
// backpressure the oldest queued snapshot is dropped to make room, so the
// producer's cycle timing is never coupled to the consumer's pace and the
// consumer always converges on the freshest data.
//
// New returns one Sender and one Receiver; holding the only handle to each
// half is what enforces the single-producer/single-consumer contract.
package channel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/procscope/agent/internal/models"
)

var (
	// ErrClosed is returned by Send after the receiver has closed the
	// channel. It is terminal: the collection loop treats it as the
	// shutdown signal.
	ErrClosed = errors.New("transfer channel closed")

	// ErrTimeout is returned by WaitLatest when no snapshot arrives
	// within the timeout.
	ErrTimeout = errors.New("receive timed out")
)

// DefaultDepth is the queue bound used when the configured depth is invalid.
const DefaultDepth = 2

// Sender is the producer half. Exactly one goroutine may call Send.
type Sender struct {
	q       chan *models.Snapshot
	done    chan struct{}
	dropped *atomic.Uint64
}

// Receiver is the consumer half. Exactly one goroutine may receive.
type Receiver struct {
	q         chan *models.Snapshot
	done      chan struct{}
	dropped   *atomic.Uint64
	closeOnce sync.Once
}

// New creates a transfer channel holding at most depth snapshots. A depth
// below 1 falls back to DefaultDepth.
func New(depth int) (*Sender, *Receiver) {
	if depth < 1 {
		depth = DefaultDepth
	}
	q := make(chan *models.Snapshot, depth)
	done := make(chan struct{})
	dropped := new(atomic.Uint64)
	return &Sender{q: q, done: done, dropped: dropped},
		&Receiver{q: q, done: done, dropped: dropped}
}

// Send queues a snapshot without ever blocking. When the queue is full the
// oldest queued snapshot is dropped and recycled so the new one fits. Send
// takes ownership of snap in all cases; after ErrClosed it has already been
// recycled.
func (s *Sender) Send(snap *models.Snapshot) error {
	for {
		select {
		case <-s.done:
			models.ReleaseSnapshot(snap)
			return ErrClosed
		default:
		}

		select {
		case s.q <- snap:
			return nil
		default:
		}

		// Queue full: evict the oldest entry and retry. With a single
		// producer the retry can only find more room, never less.
		select {
		case old := <-s.q:
			models.ReleaseSnapshot(old)
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns the number of snapshots discarded under backpressure.
func (s *Sender) Dropped() uint64 {
	return s.dropped.Load()
}

// Dropped mirrors the producer-side counter so the consumer can surface
// channel saturation without holding the Sender.
func (r *Receiver) Dropped() uint64 {
	return r.dropped.Load()
}

// TryLatest returns the newest queued snapshot without blocking. Anything
// older still in the queue is recycled on the way: the consumer skips
// intermediate snapshots but never observes one out of order. ok is false
// when the queue is empty.
func (r *Receiver) TryLatest() (*models.Snapshot, bool) {
	var latest *models.Snapshot
	for {
		select {
		case snap := <-r.q:
			if latest != nil {
				models.ReleaseSnapshot(latest)
			}
			latest = snap
		default:
			return latest, latest != nil
		}
	}
}

// WaitLatest blocks until a snapshot arrives, the timeout elapses, or the
// channel is closed. Like TryLatest it drains to the newest. Intended for
// tests; the consumer loop itself only ever uses TryLatest.
func (r *Receiver) WaitLatest(timeout time.Duration) (*models.Snapshot, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case snap := <-r.q:
		for {
			select {
			case newer := <-r.q:
				models.ReleaseSnapshot(snap)
				snap = newer
			default:
				return snap, nil
			}
		}
	case <-r.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close shuts the channel down from the consumer side and recycles whatever
// is still queued. Subsequent sends return ErrClosed. Close is idempotent.
func (r *Receiver) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		for {
			select {
			case snap := <-r.q:
				models.ReleaseSnapshot(snap)
			default:
				return
			}
		}
	})
}
