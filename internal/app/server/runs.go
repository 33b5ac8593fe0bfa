package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"spendguard/internal/api"
	"spendguard/internal/cache"
	"spendguard/internal/runner"
)

// RunFunc performs one pass over the given users (all when empty).
type RunFunc func(ctx context.Context, users ...string) (*runner.Report, error)

// Runs serializes run triggers: at most one run is in flight and the last
// report stays readable while the next one is running.
type Runs struct {
	ctx  context.Context
	run  RunFunc
	last cache.Snapshot[*runner.Report]

	mu      sync.Mutex
	running bool
	again   bool
	wg      sync.WaitGroup
}

func NewRuns(ctx context.Context, run RunFunc) *Runs {
	return &Runs{ctx: ctx, run: run}
}

// Start begins a run in the background, or returns api.ErrBusy.
func (s *Runs) Start(users []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return api.ErrBusy
	}
	s.launch(users)
	return nil
}

// Request starts a full run, or schedules exactly one more after the
// current run when one is in flight.
func (s *Runs) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.again = true
		return
	}
	s.launch(nil)
}

// launch must be called with mu held.
func (s *Runs) launch(users []string) {
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.once(users)

			s.mu.Lock()
			if !s.again || s.ctx.Err() != nil {
				s.running = false
				s.again = false
				s.mu.Unlock()
				return
			}
			s.again = false
			users = nil
			s.mu.Unlock()
		}
	}()
}

func (s *Runs) once(users []string) {
	rep, err := s.run(s.ctx, users...)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		return
	}
	s.last.Store(rep)
}

func (s *Runs) Last() (*runner.Report, bool) {
	return s.last.Load()
}

// Wait blocks until no run is in flight.
func (s *Runs) Wait() { s.wg.Wait() }
