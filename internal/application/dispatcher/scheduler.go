package dispatcher

import (
	"context"
	"log"
	"time"
)

// Scheduler drives the dispatcher on a fixed interval and runs the
// processed-event garbage collection opportunistically.
type Scheduler struct {
	dispatcher *Dispatcher
	interval   time.Duration
	retention  time.Duration
	gcEvery    time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(d *Dispatcher, interval, retention time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		dispatcher: d,
		interval:   interval,
		retention:  retention,
		gcEvery:    time.Hour,
	}
}

// Start launches the dispatch loop. It returns immediately; call Stop to
// drain.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the loop and blocks until the in-flight pass, if any,
// finishes.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastGC := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed pass is logged and retried on the next tick; it
			// must never take the loop down.
			if err := s.dispatcher.RunPass(ctx); err != nil {
				log.Printf("dispatcher: pass failed: %v", err)
			}
			if s.retention > 0 && time.Since(lastGC) >= s.gcEvery {
				lastGC = time.Now()
				n, err := s.dispatcher.CollectGarbage(ctx, s.retention)
				if err != nil {
					log.Printf("dispatcher: event gc failed: %v", err)
				} else if n > 0 {
					log.Printf("dispatcher: event gc removed %d processed events", n)
				}
			}
		}
	}
}
