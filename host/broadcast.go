package host

import (
	"context"
	"sync"

	"github.com/ardlink/go-ardlink/ardlink"
	"github.com/ardlink/go-ardlink/internal/queue"
)

// broadcastBuffer accumulates unsolicited device lines until a reader drains
// them. The queue grows without dropping; close unblocks pending readers
// with end-of-stream after the remaining lines are drained.
type broadcastBuffer struct {
	q      queue.Queue
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newBroadcastBuffer(prealloc int) *broadcastBuffer {
	return &broadcastBuffer{
		q:      queue.New(prealloc),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends a line and wakes one waiting reader. Lines pushed after close
// are discarded.
func (b *broadcastBuffer) push(line string) {
	select {
	case <-b.done:
		return
	default:
	}

	b.q.Enqueue(line)

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// read blocks until a line is available, the context is canceled, or the
// buffer is closed and drained.
func (b *broadcastBuffer) read(ctx context.Context) (string, error) {
	for {
		if item := b.q.Dequeue(); item != nil {
			// pass the wakeup on: with several readers racing, one push
			// token can be consumed by a reader that found its line via
			// the queue check instead
			if b.q.Length() > 0 {
				select {
				case b.notify <- struct{}{}:
				default:
				}
			}
			return item.(string), nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-b.done:
			// drain anything pushed before close
			if item := b.q.Dequeue(); item != nil {
				return item.(string), nil
			}
			return "", ardlink.ErrConnClosed
		case <-b.notify:
		}
	}
}

// length reports the number of buffered lines.
func (b *broadcastBuffer) length() int { return b.q.Length() }

func (b *broadcastBuffer) close() {
	b.once.Do(func() { close(b.done) })
}
