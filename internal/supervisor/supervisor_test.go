package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bankwing/python-beaver/internal/consumer"
	"github.com/bankwing/python-beaver/internal/queue"
	"github.com/bankwing/python-beaver/internal/tailmanager"
)

func TestRunRestartsTailManagerOnRefreshInterval(t *testing.T) {
	q := queue.New(4)
	var starts int32
	cm := consumer.NewManager(0, time.Millisecond, func(id int) *consumer.QueueConsumer { return nil }, nil)

	s := &Supervisor{
		Queue: q,
		NewTailManager: func() *tailmanager.Manager {
			atomic.AddInt32(&starts, 1)
			return tailmanager.New(nil, nil, q, nil)
		},
		ConsumerManager: cm,
		RefreshInterval: 20 * time.Millisecond,
		ShutdownTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Greater(t, atomic.LoadInt32(&starts), int32(1), "refresh_worker_process must cause at least one restart")
}

func TestRunWithoutRefreshIntervalStartsOnce(t *testing.T) {
	q := queue.New(4)
	var starts int32
	cm := consumer.NewManager(0, time.Millisecond, func(id int) *consumer.QueueConsumer { return nil }, nil)

	s := &Supervisor{
		Queue: q,
		NewTailManager: func() *tailmanager.Manager {
			atomic.AddInt32(&starts, 1)
			return tailmanager.New(nil, nil, q, nil)
		},
		ConsumerManager: cm,
		ShutdownTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&starts))
}
