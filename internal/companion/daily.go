package companion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultResetSchedule runs the daily reset at midnight.
const DefaultResetSchedule = "0 0 * * *"

// DailyReset clears the daily plan on a cron schedule.
type DailyReset struct {
	svc  *Service
	cron *cron.Cron
	log  *slog.Logger
}

// NewDailyReset schedules svc.ResetDailyTasks at spec, a standard five-field
// cron expression evaluated in loc. A nil loc means time.Local.
func NewDailyReset(svc *Service, spec string, loc *time.Location, log *slog.Logger) (*DailyReset, error) {
	if spec == "" {
		spec = DefaultResetSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = slog.Default()
	}
	d := &DailyReset{
		svc:  svc,
		cron: cron.New(cron.WithLocation(loc)),
		log:  log,
	}
	if _, err := d.cron.AddFunc(spec, d.run); err != nil {
		return nil, fmt.Errorf("companion: daily reset schedule %q: %w", spec, err)
	}
	return d, nil
}

// Start runs one catch-up reset and starts the scheduler.
func (d *DailyReset) Start(ctx context.Context) {
	if _, err := d.svc.ResetDailyTasks(ctx); err != nil {
		d.log.Error("companion: catch-up daily reset failed", "err", err)
	}
	d.cron.Start()
}

// Stop stops the scheduler and waits for a running reset to finish or ctx
// to expire.
func (d *DailyReset) Stop(ctx context.Context) {
	done := d.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled run. It is zero until Start.
func (d *DailyReset) Next() time.Time {
	entries := d.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (d *DailyReset) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	changed, err := d.svc.ResetDailyTasks(ctx)
	if err != nil {
		d.log.Error("companion: daily reset failed", "err", err)
		return
	}
	d.log.Info("companion: daily reset", "changed", changed)
}
