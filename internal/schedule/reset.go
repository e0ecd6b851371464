// Package schedule runs the daily maintenance task: at local midnight,
// remote-file references past their retention are purged from every
// conversation thread and one persistence flush is forced.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/state"
	"github.com/harmonia-ai/muse/pkg/logger"
)

// retention keeps file references alive for one persistence cycle; anything
// older than a day is unusable on the provider side anyway.
const retention = 24 * time.Hour

// Reset owns the midnight cron entry.
type Reset struct {
	cron   *cron.Cron
	store  *state.Store
	writer *state.Writer
	logger *logger.Logger
}

// NewReset schedules the daily reset in the local time zone.
func NewReset(store *state.Store, writer *state.Writer, log *logger.Logger) *Reset {
	r := &Reset{
		cron:   cron.New(cron.WithLocation(time.Local)),
		store:  store,
		writer: writer,
		logger: log,
	}
	// Standard 5-field expression: midnight every day. The cron runner
	// reschedules the entry for the following midnight itself.
	if _, err := r.cron.AddFunc("0 0 * * *", r.run); err != nil {
		log.Error("failed to schedule daily reset", zap.Error(err))
	}
	return r
}

// Start begins the schedule.
func (r *Reset) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running task to finish.
func (r *Reset) Stop(ctx context.Context) {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

func (r *Reset) run() {
	removed := r.store.PurgeFileParts(time.Now().Add(-retention))
	r.logger.Info("daily reset purged file references", zap.Int("removed", removed))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := r.writer.Flush(ctx); err != nil {
		r.logger.Warn("daily reset flush did not complete", zap.Error(err))
	}
}
