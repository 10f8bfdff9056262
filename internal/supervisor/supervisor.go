// Package supervisor wires together config, sincedb, the dispatch queue,
// the consumer pool and the TailManager into one running process, handles
// OS signals for graceful shutdown, and periodically restarts the
// TailManager goroutine when refresh_worker_process is configured. It is
// the Go shape of python-beaver's dispatcher/tail.py run() loop and the
// teacher's pkg/logagent.Start() wiring, combined: Start()'s linear
// component construction comes from the teacher, the restart/signal loop
// comes from run().
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/consumer"
	"github.com/bankwing/python-beaver/internal/queue"
	"github.com/bankwing/python-beaver/internal/sincedb"
	"github.com/bankwing/python-beaver/internal/tailmanager"
)

// Supervisor owns the TailManager/consumer lifecycle and responds to
// SIGTERM/SIGINT/SIGQUIT by draining and shutting everything down in
// order.
type Supervisor struct {
	Config          *config.Config
	Sincedb         *sincedb.DB
	Queue           *queue.Queue
	NewTailManager  func() *tailmanager.Manager
	ConsumerManager *consumer.Manager
	Log             *zap.Logger

	RefreshInterval time.Duration
	ShutdownTimeout time.Duration

	mu        sync.Mutex
	lastStart time.Time
}

// Run blocks until a termination signal arrives or ctx is cancelled,
// restarting the TailManager whenever RefreshInterval has elapsed since it
// was last (re)started — resetting lastStart on every restart, the
// corrected behavior in place of the original implementation only
// resetting it on the very first start.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ConsumerManager.Run(ctx)
	}()

	tmCtx, cancelTM := context.WithCancel(ctx)
	s.startTailManager(tmCtx)

	ticker := time.NewTicker(s.refreshCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelTM()
			s.drain()
			wg.Wait()
			return
		case <-ticker.C:
			if s.shouldRefresh() {
				if s.Log != nil {
					s.Log.Info("worker exceeded refresh limit, restarting")
				}
				cancelTM()
				tmCtx, cancelTM = context.WithCancel(ctx)
				s.startTailManager(tmCtx)
			}
		}
	}
}

func (s *Supervisor) startTailManager(ctx context.Context) {
	s.mu.Lock()
	s.lastStart = time.Now()
	s.mu.Unlock()

	tm := s.NewTailManager()
	go tm.Run(ctx)
}

func (s *Supervisor) shouldRefresh() bool {
	if s.RefreshInterval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastStart.IsZero() && time.Since(s.lastStart) >= s.RefreshInterval
}

func (s *Supervisor) refreshCheckInterval() time.Duration {
	if s.RefreshInterval <= 0 {
		return time.Second
	}
	if s.RefreshInterval < time.Second {
		return s.RefreshInterval
	}
	return time.Second
}

// drain enqueues the exit sentinel for every consumer (best effort, the
// same queue.put_nowait(("exit", ())) semantics as cleanup() in tail.py)
// and waits up to ShutdownTimeout for the queue to empty.
func (s *Supervisor) drain() {
	if s.Log != nil {
		s.Log.Info("shutting down, please wait")
	}
	for i := 0; i < s.ConsumerManager.Count; i++ {
		s.Queue.PutNowait(queue.ExitItem)
	}

	deadline := time.Now().Add(s.ShutdownTimeout)
	for s.Queue.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if s.Sincedb != nil {
		s.Sincedb.Close()
	}
}
