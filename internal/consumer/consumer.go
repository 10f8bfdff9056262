// Package consumer implements the worker pool that drains the dispatch
// queue and ships batches through a Transport. Manager is the Go shape of
// python-beaver's ConsumerManager (fixed-size pool, respawn of exited
// consumers); it stops only when its context is cancelled, with no stop
// timeout and no forced termination of a consumer that does not return.
// QueueConsumer's retry loop generalizes the teacher's
// pkg/sender.Sender.wireMessage fixed-attempt retry into an exponential
// backoff policy via github.com/cenkalti/backoff/v4.
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/bankwing/python-beaver/internal/queue"
	"github.com/bankwing/python-beaver/internal/transport"
)

// QueueConsumer drains Items off a queue.Queue and ships Callback batches
// through a Transport, retrying transient failures and logging everything
// else, until it receives the Exit sentinel or its context is cancelled.
type QueueConsumer struct {
	ID        int
	Queue     *queue.Queue
	Transport transport.Transport
	Log       *zap.Logger

	newBackOff func() backoff.BackOff
}

// New returns a QueueConsumer reading from q and shipping through t.
func New(id int, q *queue.Queue, t transport.Transport, log *zap.Logger) *QueueConsumer {
	return &QueueConsumer{
		ID:        id,
		Queue:     q,
		Transport: t,
		Log:       log,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
		},
	}
}

// Run processes items until ctx is cancelled or an Exit item is read.
func (c *QueueConsumer) Run(ctx context.Context) {
	for {
		item, err := c.Queue.Get(ctx)
		if err != nil {
			return
		}
		switch item.Kind {
		case queue.Exit:
			return
		case queue.Callback:
			c.send(ctx, item.Batch)
		case queue.AddGlob:
			// addglob events only matter to TailManager's own bookkeeping;
			// consumers see them purely so Queue.Len() reflects real traffic.
		}
	}
}

// send ships one batch through Transport, retrying Retry results with
// exponential backoff and logging (but not retrying) Fatal ones.
func (c *QueueConsumer) send(ctx context.Context, batch queue.Batch) {
	op := func() error {
		result, err := c.Transport.Send(ctx, batch)
		switch result {
		case transport.OK:
			return nil
		case transport.Fatal:
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil && c.Log != nil {
		c.Log.Error("dropping batch after exhausting retries",
			zap.String("filename", batch.Filename), zap.Error(err))
	}
}

// Manager supervises a fixed-size pool of QueueConsumer goroutines,
// respawning any that exit early, the Go shape of python-beaver's
// ConsumerManager process-pool supervision loop.
type Manager struct {
	Count           int
	RefreshInterval time.Duration
	NewConsumer     func(id int) *QueueConsumer
	Log             *zap.Logger

	mu      sync.Mutex
	running []bool
}

// NewManager returns a Manager that keeps count consumers alive, built by
// newConsumer, checking for dead ones every refreshInterval.
func NewManager(count int, refreshInterval time.Duration, newConsumer func(id int) *QueueConsumer, log *zap.Logger) *Manager {
	return &Manager{
		Count:           count,
		RefreshInterval: refreshInterval,
		NewConsumer:     newConsumer,
		Log:             log,
		running:         make([]bool, count),
	}
}

// Run starts Count consumers and respawns any that return until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for id := 0; id < m.Count; id++ {
		wg.Add(1)
		go m.superviseWorker(ctx, id, &wg)
	}
	wg.Wait()
}

func (m *Manager) superviseWorker(ctx context.Context, id int, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.setRunning(id, true)
		c := m.NewConsumer(id)
		c.Run(ctx)
		m.setRunning(id, false)

		select {
		case <-ctx.Done():
			return
		default:
			if m.Log != nil {
				m.Log.Warn("consumer exited, respawning", zap.Int("consumer_id", id))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.respawnDelay()):
		}
	}
}

func (m *Manager) respawnDelay() time.Duration {
	if m.RefreshInterval <= 0 {
		return time.Second
	}
	return m.RefreshInterval
}

func (m *Manager) setRunning(id int, v bool) {
	m.mu.Lock()
	m.running[id] = v
	m.mu.Unlock()
}

// ActiveCount reports how many consumers are currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.running {
		if r {
			n++
		}
	}
	return n
}
