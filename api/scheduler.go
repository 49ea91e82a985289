/*
scheduler.go - Automated recurring charge scheduler

PURPOSE:
  Periodically posts the ledger pairs for charge schedules that have
  come due (monthly rent, parking, pet fees) so that charges land
  without manual intervention.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates the due decision and posting to the engine; the pass is
    idempotent, so overlapping or repeated ticks post nothing twice
  - Per-schedule failures are logged and do not stop the pass

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewChargeScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSchedules endpoint (manual run)
  - ledger/engine.go: RunDueSchedules
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rentfold/ledger-engine/ledger"
)

// ChargeScheduler posts due recurring charges on a timer.
type ChargeScheduler struct {
	Engine        *ledger.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewChargeScheduler creates a new scheduler.
func NewChargeScheduler(engine *ledger.Engine) *ChargeScheduler {
	return &ChargeScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (cs *ChargeScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.wg.Add(1)

	go cs.run()

	log.Printf("[Scheduler] Started with check interval: %v", cs.CheckInterval)
}

// Stop stops the scheduler.
func (cs *ChargeScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (cs *ChargeScheduler) run() {
	defer cs.wg.Done()

	// Run immediately on start
	cs.checkAndPost()

	for {
		select {
		case <-cs.ticker.C:
			cs.checkAndPost()
		case <-cs.stop:
			return
		}
	}
}

func (cs *ChargeScheduler) checkAndPost() {
	ctx := context.Background()
	asOf := ledger.DateOf(cs.Engine.Now())

	log.Printf("[Scheduler] Checking for due charges as of %s", asOf)

	runs, err := cs.Engine.RunDueSchedules(ctx, asOf)
	if err != nil {
		log.Printf("[Scheduler] Error running schedules: %v", err)
		return
	}

	posted := 0
	failed := 0
	for _, run := range runs {
		if run.Err != "" {
			failed++
			log.Printf("[Scheduler] Error posting schedule %s (lease %s): %s",
				run.ScheduleID, run.LeaseID, run.Err)
			continue
		}
		if run.Posted {
			posted++
			log.Printf("[Scheduler] Posted charge for lease %s on %s",
				run.LeaseID, run.ChargeDate)
		}
	}

	if posted > 0 || failed > 0 {
		log.Printf("[Scheduler] Completed: %d posted, %d failed", posted, failed)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (cs *ChargeScheduler) RunNow() {
	cs.checkAndPost()
}
