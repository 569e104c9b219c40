package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/vitalcoach/internal/observability"
	"github.com/haasonsaas/vitalcoach/internal/store"
)

const defaultDebounce = 5 * time.Second

// Dispatcher schedules analysis runs. Log activity kicks a per-user
// debounce timer so bursts of writes collapse into one daily run, and a
// nightly cron sweep backfills windows missed while the process was down.
type Dispatcher struct {
	Engine   *Engine
	Store    *store.Store
	Log      *observability.Logger
	Debounce time.Duration

	// Schedule knobs. DailyHour 0 means 03:00; WeeklyWeekday follows
	// time.Weekday numbering (0 = Sunday); MonthlyDay 0 means the 1st.
	// Catch-up caps default to 3 daily, 1 weekly, 1 monthly windows.
	DailyHour         int
	WeeklyWeekday     int
	MonthlyDay        int
	MaxCatchupDaily   int
	MaxCatchupWeekly  int
	MaxCatchupMonthly int

	mu       sync.Mutex
	timers   map[int64]*time.Timer
	inflight map[string]bool
	cron     *cron.Cron
}

func (d *Dispatcher) dailyHour() int {
	if d.DailyHour > 0 && d.DailyHour < 24 {
		return d.DailyHour
	}
	return 3
}

func (d *Dispatcher) weeklyWeekday() time.Weekday {
	if d.WeeklyWeekday >= 0 && d.WeeklyWeekday <= 6 {
		return time.Weekday(d.WeeklyWeekday)
	}
	return time.Monday
}

func (d *Dispatcher) monthlyDay() int {
	if d.MonthlyDay >= 1 && d.MonthlyDay <= 28 {
		return d.MonthlyDay
	}
	return 1
}

func capOr(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}

// Kick notes log activity for the user and (re)starts their debounce
// timer. When the timer fires, today's daily analysis runs.
func (d *Dispatcher) Kick(userID int64) {
	debounce := d.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timers == nil {
		d.timers = make(map[int64]*time.Timer)
	}
	if t, ok := d.timers[userID]; ok {
		t.Stop()
	}
	d.timers[userID] = time.AfterFunc(debounce, func() {
		d.mu.Lock()
		delete(d.timers, userID)
		d.mu.Unlock()
		d.runUser(context.Background(), userID, RunDaily, time.Now().UTC(), "log_activity")
	})
}

// Start registers the nightly catch-up sweep and begins the cron loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return nil
	}
	c := cron.New()
	// The sweep fires once per server day; per-user windows are still
	// computed in each user's own zone.
	spec := fmt.Sprintf("30 %d * * *", d.dailyHour())
	if _, err := c.AddFunc(spec, func() {
		d.CatchUp(context.Background())
	}); err != nil {
		return fmt.Errorf("analysis: register catch-up: %w", err)
	}
	c.Start()
	d.cron = c
	return nil
}

// Stop halts the cron loop and pending debounce timers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		d.cron.Stop()
		d.cron = nil
	}
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
}

// CatchUp sweeps every user: recent daily windows plus the weekly and
// monthly windows that became due, skipping any the store already holds a
// completed run for.
func (d *Dispatcher) CatchUp(ctx context.Context) {
	users, err := d.Store.ListUsers(ctx)
	if err != nil {
		if d.Log != nil {
			d.Log.Error(ctx, "analysis: catch-up user list failed", "error", err)
		}
		return
	}
	for _, u := range users {
		d.catchUpUser(ctx, u.ID)
	}
}

func (d *Dispatcher) catchUpUser(ctx context.Context, userID int64) {
	settings, err := d.Store.GetSettings(ctx, userID)
	if err != nil {
		return
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil || settings.Timezone == "" {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	// Daily: yesterday back through the catch-up cap. Today's window is
	// still open, so it is left to activity kicks.
	for i := 1; i <= capOr(d.MaxCatchupDaily, 3); i++ {
		target := now.AddDate(0, 0, -i)
		if d.windowDone(ctx, userID, RunDaily, target, loc) {
			break
		}
		d.runUser(ctx, userID, RunDaily, target, "scheduled")
	}

	// Weekly windows close at the start of the configured weekday; monthly
	// on the configured day of month. The closed window's target date is
	// the day before the boundary.
	boundary := now
	for i := 0; i < capOr(d.MaxCatchupWeekly, 1); i++ {
		for boundary.Weekday() != d.weeklyWeekday() {
			boundary = boundary.AddDate(0, 0, -1)
		}
		target := boundary.AddDate(0, 0, -1)
		if d.windowDone(ctx, userID, RunWeekly, target, loc) {
			break
		}
		d.runUser(ctx, userID, RunWeekly, target, "scheduled")
		boundary = boundary.AddDate(0, 0, -7)
	}

	boundary = now
	for i := 0; i < capOr(d.MaxCatchupMonthly, 1); i++ {
		for boundary.Day() != d.monthlyDay() {
			boundary = boundary.AddDate(0, 0, -1)
		}
		target := boundary.AddDate(0, 0, -1)
		if d.windowDone(ctx, userID, RunMonthly, target, loc) {
			break
		}
		d.runUser(ctx, userID, RunMonthly, target, "scheduled")
		boundary = boundary.AddDate(0, 0, -1)
	}
}

// windowDone reports whether a completed run already covers the window
// ending at the target date.
func (d *Dispatcher) windowDone(ctx context.Context, userID int64, runType string, target time.Time, loc *time.Location) bool {
	_, end, err := Window(runType, target, loc)
	if err != nil {
		return true
	}
	latest, err := d.Store.LatestAnalysisRun(ctx, userID, runType)
	if err != nil {
		return false
	}
	return !latest.PeriodEnd.Before(end)
}

// runUser executes one run behind the in-flight set, so a debounce fire
// and a sweep never double-run the same slot.
func (d *Dispatcher) runUser(ctx context.Context, userID int64, runType string, target time.Time, trigger string) {
	key := fmt.Sprintf("%d:%s:%s", userID, runType, target.Format("2006-01-02"))
	d.mu.Lock()
	if d.inflight == nil {
		d.inflight = make(map[string]bool)
	}
	if d.inflight[key] {
		d.mu.Unlock()
		return
	}
	d.inflight[key] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, key)
		d.mu.Unlock()
	}()

	user, err := d.Store.GetUser(ctx, userID)
	if err != nil {
		return
	}
	settings, err := d.Store.GetSettings(ctx, userID)
	if err != nil {
		return
	}
	if _, err := d.Engine.Run(ctx, user, settings, runType, target, trigger, false); err != nil && d.Log != nil {
		d.Log.Error(ctx, "analysis: run failed",
			"user_id", userID, "run_type", runType, "error", err)
	}
}
