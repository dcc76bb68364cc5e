package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"anchor-platform/internal/domain"
)

var (
	ErrQueueFull = errors.New("event queue is full")
	ErrClosed    = errors.New("event publisher is closed")
)

// Async hands events to a single background worker that delivers them to next in the
// order they were published. Publish never waits on delivery; when the queue is full the
// event is dropped and ErrQueueFull is returned.
type Async struct {
	next   domain.EventPublisher
	queue  chan domain.StatusChangedEvent
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// deliverCtx is cancelled when Close gives up waiting for the queue to drain.
	deliverCtx context.Context
	cancel     context.CancelFunc
}

func NewAsync(next domain.EventPublisher, queueLen int, logger *slog.Logger) *Async {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:       next,
		queue:      make(chan domain.StatusChangedEvent, max(queueLen, 1)),
		logger:     logger,
		deliverCtx: ctx,
		cancel:     cancel,
	}
	a.wg.Add(1)
	go a.work()
	return a
}

func (a *Async) Publish(_ context.Context, e domain.StatusChangedEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		return fmt.Errorf("%w: dropped event %s for transaction %s", ErrQueueFull, e.ID, e.TransactionID)
	}
}

// Pending returns the number of queued events not yet picked up by the worker.
func (a *Async) Pending() int {
	return len(a.queue)
}

func (a *Async) work() {
	defer a.wg.Done()
	for e := range a.queue {
		if err := a.next.Publish(a.deliverCtx, e); err != nil {
			a.logger.Error("event delivery failed",
				"event_id", e.ID,
				"transaction_id", e.TransactionID,
				"new_status", e.NewStatus,
				"error", err)
		}
	}
}

// Close stops accepting events and waits for the queued ones to be delivered. If ctx ends
// first, in-flight retries are cancelled and whatever is still queued fails fast.
// Close is safe to call more than once.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	defer a.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.logger.Warn("event queue did not drain in time, cancelling delivery")
		a.cancel()
		<-done
		return ctx.Err()
	}
}
