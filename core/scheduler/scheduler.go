package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxfret/cascade/core/logger"
	"github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/internal/clock"
)

// ChainDriver is the slice of the chain engine the scheduler needs.
type ChainDriver interface {
	Remind(ctx context.Context, chainID string) (*model.DispatchChain, error)
	Timeout(ctx context.Context, chainID string, attemptIndex int) (*model.DispatchChain, error)
	Resume(ctx context.Context, chainID string) (*model.DispatchChain, error)
}

// Scheduler periodically scans in-progress chains and fires reminders and
// timeouts. It owns no chain state: every transition goes through the
// driver, whose guards make duplicate or late ticks harmless.
type Scheduler struct {
	chains   storage.ChainStore
	driver   ChainDriver
	clk      clock.Clock
	log      logger.Logger
	sink     metrics.Sink
	interval time.Duration
	workers  int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler.
func New(cfg Config, chains storage.ChainStore, driver ChainDriver, clk clock.Clock, log logger.Logger, sink metrics.Sink) (*Scheduler, error) {
	if chains == nil || driver == nil {
		return nil, fmt.Errorf("scheduler: nil parameter provided to New")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Scheduler{
		chains:   chains,
		driver:   driver,
		clk:      clk,
		log:      log,
		sink:     sink,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		workers:  cfg.Workers,
	}, nil
}

// Start launches the scan loop. It returns immediately; use Stop to halt.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Stop halts the scan loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scan over in-progress chains. Each chain is processed
// independently so one slow notification or failing store read never delays
// the others; per-chain errors are logged and retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.clk.Now()
	chains, err := s.chains.ListInProgress(ctx)
	if err != nil {
		s.log.Errorf("scan chains: %v", err)
		return
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, c := range chains {
		wg.Add(1)
		sem <- struct{}{}
		go func(c *model.DispatchChain) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processChain(ctx, c)
		}(c)
	}
	wg.Wait()

	if tr, ok := s.sink.(metrics.TickRecorder); ok {
		if err := tr.RecordTick(len(chains), s.clk.Now().Sub(start)); err != nil {
			s.log.Errorf("metrics error: %v", err)
		}
	}
	s.log.Debugf("tick scanned %d chains", len(chains))
}

func (s *Scheduler) processChain(ctx context.Context, c *model.DispatchChain) {
	cur := c.Current()
	if cur == nil || cur.Status == model.AttemptPending {
		// A failure between a committed resolution and its continuation
		// strands an in-progress chain with a pending current attempt or a
		// fully resolved cascade. Re-drive it instead of skipping forever.
		if _, err := s.driver.Resume(ctx, c.ID); err != nil {
			s.log.Errorf("resume chain %s: %v", c.ID, err)
		}
		return
	}
	if cur.Status != model.AttemptSent {
		return
	}
	now := s.clk.Now()
	switch {
	case cur.Expired(now):
		if _, err := s.driver.Timeout(ctx, c.ID, c.CurrentIndex); err != nil {
			s.log.Errorf("timeout chain %s attempt %d: %v", c.ID, c.CurrentIndex, err)
		}
	case cur.ReminderDue(now):
		if _, err := s.driver.Remind(ctx, c.ID); err != nil {
			s.log.Errorf("remind chain %s: %v", c.ID, err)
		}
	}
}
