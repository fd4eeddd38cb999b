package venue

import (
	"context"
	"errors"
	"iter"
	"time"
)

// ErrSlowConsumer ends a Feed whose reader fell behind for longer than the
// allowed stall.
var ErrSlowConsumer = errors.New("stream consumer too slow")

// Feed is a result sequence drained by its own goroutine into a buffered
// channel, so a Stream's index lock is held only while the buffer has room.
type Feed struct {
	// C delivers results in sequence order and is closed when the
	// sequence ends or is abandoned.
	C <-chan Result

	done chan struct{}
	err  error
}

// Detach ranges over seq on a new goroutine and hands the results to the
// returned Feed. When the buffer is full and the reader takes no result
// for stall, the goroutine abandons seq, which ends a Stream and releases
// the index lock; Err then reports ErrSlowConsumer. A stall <= 0 waits on
// ctx alone.
//
// Callers that stop reading early must cancel ctx so the goroutine exits.
func Detach(ctx context.Context, seq iter.Seq[Result], buffer int, stall time.Duration) *Feed {
	ch := make(chan Result, max(buffer, 0))
	f := &Feed{C: ch, done: make(chan struct{})}

	go func() {
		defer close(f.done)
		defer close(ch)

		var timer *time.Timer
		var expired <-chan time.Time
		if stall > 0 {
			timer = time.NewTimer(stall)
			timer.Stop()
			defer timer.Stop()
			expired = timer.C
		}

		for res := range seq {
			select {
			case ch <- res:
				continue
			default:
			}

			if timer != nil {
				timer.Reset(stall)
			}
			select {
			case ch <- res:
				if timer != nil {
					timer.Stop()
				}
			case <-expired:
				f.err = ErrSlowConsumer
				return
			case <-ctx.Done():
				f.err = ctx.Err()
				return
			}
		}
		// A Stream ends quietly on cancellation.
		f.err = ctx.Err()
	}()
	return f
}

// All ranges over C.
func (f *Feed) All() iter.Seq[Result] {
	return func(yield func(Result) bool) {
		for res := range f.C {
			if !yield(res) {
				return
			}
		}
	}
}

// Err waits for the feed's goroutine to finish and reports why it stopped
// early, or nil when the sequence ran to the end.
func (f *Feed) Err() error {
	<-f.done
	return f.err
}
