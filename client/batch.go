package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	goerrors "github.com/kbukum/govkit/errors"
)

// Common client errors.
var (
	// ErrStopped is returned to callers still queued when the client shuts
	// down.
	ErrStopped = errors.New("client stopped")
)

// batchItem is one overflow caller waiting for a batch window admission.
type batchItem struct {
	id       string
	decision chan error
	granted  bool
}

// admit reserves an execution slot. Callers under the in-flight cap are
// admitted immediately; the rest queue for the batcher, which admits at
// most BatchMax of them per BatchWindow tick. The caller must pair every
// nil return with exactly one finish().
func (c *Client) admit(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight < c.config.MaxInFlight {
		c.inFlight++
		c.mu.Unlock()
		return nil
	}

	item := &batchItem{
		id:       uuid.NewString(),
		decision: make(chan error, 1),
	}
	c.queue = append(c.queue, item)
	c.ensureBatcherLocked()
	c.mu.Unlock()

	enqueued := c.clock.Now()
	select {
	case err := <-item.decision:
		return err
	case <-ctx.Done():
		return c.abandonQueued(item, c.clock.Now().Sub(enqueued))
	}
}

// finish releases the slot taken by admit.
func (c *Client) finish() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

// abandonQueued removes a cancelled caller from the queue. An admission
// that raced the cancellation is honored and immediately released so the
// slot is not leaked. The item id identifies the abandoned call in the
// returned error.
func (c *Client) abandonQueued(item *batchItem, waited time.Duration) error {
	c.mu.Lock()
	if item.granted {
		c.mu.Unlock()
		if err := <-item.decision; err == nil {
			c.finish()
		}
	} else {
		for i, queued := range c.queue {
			if queued == item {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}
	return goerrors.Timeout(c.config.Name, waited).WithDetail("item", item.id)
}

// Start launches the batcher goroutine. It is safe to call more than once;
// enqueueing also starts the batcher on demand.
func (c *Client) Start() {
	c.mu.Lock()
	c.ensureBatcherLocked()
	c.mu.Unlock()
}

// Stop halts the batcher and fails every still-queued caller with
// ErrStopped. In-flight calls are unaffected.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stop, done := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stop)
	<-done
}

func (c *Client) ensureBatcherLocked() {
	if c.started {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.batchLoop(c.stopCh, c.doneCh)
}

func (c *Client) batchLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.config.BatchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			c.failPending()
			return
		case <-ticker.Chan():
			c.flush()
		}
	}
}

// flush admits up to BatchMax queued callers. Admissions do not re-check
// the in-flight cap: the window pacing is the control, so in-flight may
// transiently exceed MaxInFlight after a burst.
func (c *Client) flush() {
	c.mu.Lock()
	n := len(c.queue)
	if n == 0 {
		c.mu.Unlock()
		return
	}
	if n > c.config.BatchMax {
		n = c.config.BatchMax
	}
	for _, item := range c.queue[:n] {
		item.granted = true
		c.inFlight++
		item.decision <- nil
	}
	c.queue = append([]*batchItem(nil), c.queue[n:]...)
	c.mu.Unlock()

	if c.config.OnBatchFlush != nil {
		c.config.OnBatchFlush(c.config.Name, n)
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	for _, item := range pending {
		item.granted = true
		item.decision <- ErrStopped
	}
	c.mu.Unlock()
}
