package scheduler

import (
	"time"

	"horizon-index/src/interfaces"
	"horizon-index/src/logger"
	"horizon-index/src/models"
	"horizon-index/src/utils"
)

// -----------------------------------------------------------------------------
// DailyTrigger fires the end-of-day calculation once per eligible day at
// the configured time. It polls instead of sleeping until the deadline,
// so clock jumps and restarts recover cleanly: the last fired date is
// rebuilt from the ledger, never from memory alone.
//
// States: idle (armed for today) and fired (done for today). A failed
// calculation leaves the trigger idle, so it retries on the next poll
// while still inside the grace window.
// -----------------------------------------------------------------------------

type DailyTrigger struct {
	Config    *models.MConfig
	Engine    interfaces.IIndexEngine
	Exchanger interfaces.IDataExchanger
	Logger    *logger.Logger

	clock utils.Clock
	cal   *utils.TradingCalendar

	lastFiredDate string
	stop          chan struct{}
	done          chan struct{}
}

// -----------------------------------------------------------------------------

func NewDailyTrigger(cfg *models.MConfig, eng interfaces.IIndexEngine, exch interfaces.IDataExchanger, clock utils.Clock) *DailyTrigger {
	return &DailyTrigger{
		Config:    cfg,
		Engine:    eng,
		Exchanger: exch,
		Logger:    logger.NewLogger(cfg.LogLevel, "DailyTrigger"),
		clock:     clock,
		cal:       utils.GetCalendar(cfg.Index.CalendarMIC),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Start recovers the fired state from the ledger and runs the poll loop
// until Stop. Blocks; run it on its own goroutine.
func (t *DailyTrigger) Start() {
	defer close(t.done)

	// A ledger entry for today means the scheduled run already happened,
	// possibly in a previous process
	if last := t.Engine.LastLedgerDate(); last == utils.DateString(t.clock.Now()) {
		t.lastFiredDate = last
		t.Logger.Info("Ledger already has an entry for %s, not firing again today", last)
	}

	interval := time.Duration(t.Config.Index.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t.Logger.Info("Daily trigger armed: %02d:%02d local, polling every %s",
		t.Config.Index.CalculationHour, t.Config.Index.CalculationMinute, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.Poll()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.Poll()
		}
	}
}

// -----------------------------------------------------------------------------

// Stop terminates the poll loop and waits for it to exit.
func (t *DailyTrigger) Stop() {
	close(t.stop)
	<-t.done
}

// -----------------------------------------------------------------------------

// Poll checks the schedule once and fires when due. Exported so tests
// drive the state machine without the loop.
func (t *DailyTrigger) Poll() {
	now := t.clock.Now()
	if !t.shouldFire(now) {
		return
	}

	today := utils.DateString(now)
	t.Logger.Info("Trigger fired for %s", today)

	snapshot, err := t.Engine.CalculateEOD()
	if err != nil {
		// Stay idle so the next poll inside the grace window retries
		t.Logger.Error("Scheduled calculation failed, will retry: %v", err)
		return
	}

	t.lastFiredDate = today
	if t.Exchanger != nil {
		t.Exchanger.Broadcast(snapshot)
	}
}

// -----------------------------------------------------------------------------

// shouldFire reports whether now is inside the firing window of an
// eligible day the trigger has not fired on yet. The window opens at the
// configured hour and minute and stays open for the grace period.
func (t *DailyTrigger) shouldFire(now time.Time) bool {
	if utils.DateString(now) == t.lastFiredDate {
		return false
	}
	if !t.eligibleDay(now) {
		return false
	}

	idx := t.Config.Index
	open := time.Date(now.Year(), now.Month(), now.Day(),
		idx.CalculationHour, idx.CalculationMinute, 0, 0, now.Location())
	grace := time.Duration(idx.GraceMinutes) * time.Minute
	if grace <= 0 {
		grace = time.Minute
	}

	return !now.Before(open) && now.Before(open.Add(grace))
}

func (t *DailyTrigger) eligibleDay(now time.Time) bool {
	if t.Config.Index.RespectHolidays {
		return t.cal.IsTradingDay(now)
	}
	return utils.IsWeekday(now)
}
