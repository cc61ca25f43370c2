package call

import (
	"context"
	"sync"

	"roomcall/native/internal/domain"
)

// lane runs one binding's blocking media and relay work in FIFO order on a
// single goroutine. link and stream are owned by that goroutine, which
// releases them when the lane stops.
type lane struct {
	mu    sync.Mutex
	queue []func(context.Context)
	wake  chan struct{}
	done  chan struct{}

	link   domain.PeerLink
	stream domain.LocalStream
}

func newLane() *lane {
	return &lane{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *lane) push(job func(context.Context)) {
	l.mu.Lock()
	l.queue = append(l.queue, job)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// run executes jobs until ctx is cancelled. It starts only once prev, the
// done channel of the previous lane, is closed. done is closed after the
// running job has returned, the lane's link and stream are released and
// prev is closed, so lanes release strictly in binding order.
func (l *lane) run(ctx context.Context, prev <-chan struct{}) {
	defer close(l.done)
	defer func() {
		if prev != nil {
			<-prev
		}
		l.release()
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}
		job := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		job(ctx)
	}
}

// release closes the link and stops the stream. It runs on the lane
// goroutine.
func (l *lane) release() {
	if l.link != nil {
		_ = l.link.Close()
		l.link = nil
	}
	if l.stream != nil {
		l.stream.Stop()
		l.stream = nil
	}
}
