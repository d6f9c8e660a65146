package sweeper

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger removes batches older than maxAge and reports how many went
type Purger interface {
	Purge(maxAge time.Duration) (int, error)
}

// Sweeper periodically evicts aged batch state from memory and disk
type Sweeper struct {
	purger Purger
	maxAge time.Duration
	cron   *cron.Cron
}

// New creates a Sweeper running on the given cron schedule
func New(purger Purger, maxAge time.Duration, cronSpec string) (*Sweeper, error) {
	s := &Sweeper{
		purger: purger,
		maxAge: maxAge,
		cron:   cron.New(),
	}

	if _, err := s.cron.AddFunc(cronSpec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cronSpec, err)
	}
	return s, nil
}

// Start begins the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule; a sweep already in flight finishes
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// RunOnce purges immediately and returns the count removed
func (s *Sweeper) RunOnce() (int, error) {
	return s.purger.Purge(s.maxAge)
}

func (s *Sweeper) sweep() {
	removed, err := s.purger.Purge(s.maxAge)
	if err != nil {
		log.Printf("retention sweep: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("retention sweep removed %d batches older than %s", removed, s.maxAge)
	}
}
