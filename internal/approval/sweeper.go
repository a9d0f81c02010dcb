package approval

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs CleanupExpired and Prune on a cron schedule so expiry does
// not depend on someone polling Pending.
type Sweeper struct {
	manager  *Manager
	schedule string
	retain   time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper for m. schedule is a standard cron spec or a
// descriptor such as "@every 1m". Resolved requests are kept for retain.
func NewSweeper(m *Manager, schedule string, retain time.Duration) *Sweeper {
	return &Sweeper{manager: m, schedule: schedule, retain: retain}
}

// Start registers the sweep job and starts the cron runner.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	log.Printf("[approval] sweeper started (%s)", s.schedule)
	return nil
}

// Sweep runs one expiry and prune pass.
func (s *Sweeper) Sweep() {
	expired := s.manager.CleanupExpired()
	pruned := 0
	if s.retain > 0 {
		pruned = s.manager.Prune(s.retain)
	}
	if expired > 0 || pruned > 0 {
		log.Printf("[approval] sweep expired=%d pruned=%d", expired, pruned)
	}
}

// Stop shuts down the cron runner, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	log.Printf("[approval] sweeper stopped")
}
