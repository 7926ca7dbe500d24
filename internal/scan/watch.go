package scan

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"scancal/internal/apperr"
	appLog "scancal/internal/log"
)

// Watcher rescans on a cron schedule. Every tick starts a new session; a
// scan still running at the next tick is superseded, not skipped.
type Watcher struct {
	scanner  *Scanner
	schedule cron.Schedule
	loc      *time.Location
	// OnResult, when set, is called after every scan.
	OnResult func(Result, error)
}

// NewWatcher parses expr as a standard five-field cron expression or a
// descriptor such as "@every 10m".
func NewWatcher(scanner *Scanner, expr string, loc *time.Location) (*Watcher, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, apperr.Config(err, "parse watch schedule "+expr)
	}
	return NewWatcherWithSchedule(scanner, sched, loc), nil
}

func NewWatcherWithSchedule(scanner *Scanner, sched cron.Schedule, loc *time.Location) *Watcher {
	if loc == nil {
		loc = time.Local
	}
	return &Watcher{scanner: scanner, schedule: sched, loc: loc}
}

// Run blocks until ctx is done, scanning on every tick. The running scan
// is canceled on return.
func (w *Watcher) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(w.loc), cron.WithLogger(cronLogger{}))
	c.Schedule(w.schedule, cron.FuncJob(func() {
		res, err := w.scanner.Scan(ctx)
		if w.OnResult != nil {
			w.OnResult(res, err)
		}
	}))

	c.Start()
	appLog.Info("watch: started", "next", w.schedule.Next(time.Now().In(w.loc)))

	<-ctx.Done()
	w.scanner.Cancel()
	<-c.Stop().Done()
	appLog.Info("watch: stopped")
	return nil
}

// cronLogger routes cron's own logging to the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
