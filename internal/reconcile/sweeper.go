package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the read-only reconciliation scan on a schedule and logs what
// it finds. It never repairs anything; drift is surfaced for operators.
type Sweeper struct {
	engine  *Engine
	cron    *cron.Cron
	spec    string
	timeout time.Duration
}

// NewSweeper creates a sweeper with a cron spec like "@every 1h".
func NewSweeper(engine *Engine, spec string) *Sweeper {
	return &Sweeper{
		engine:  engine,
		cron:    cron.New(),
		spec:    spec,
		timeout: 5 * time.Minute,
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule reconciliation sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("[RECONCILE] sweep scheduled: %s", s.spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.engine.Run(ctx)
	if err != nil {
		log.Printf("[RECONCILE] sweep failed: %v", err)
		return
	}

	if len(report.HangingImports) == 0 && len(report.OrphanedDocs) == 0 {
		log.Printf("[RECONCILE] sweep clean")
		return
	}
	for _, meta := range report.HangingImports {
		log.Printf("[RECONCILE] hanging import %s (%s, status=%s)", meta.Key(), meta.FileName, meta.Status)
	}
	log.Printf("[RECONCILE] sweep found %d hanging imports, %d orphaned documents",
		len(report.HangingImports), len(report.OrphanedDocs))
}
