// Package maintenance runs the store's periodic housekeeping: a cache
// eviction sweep on a short interval and a snapshot flush on a longer one.
// Both go through the store's public methods and therefore take the same
// locks as foreground operations.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type target interface {
	SweepCache() int
	Flush(ctx context.Context) error
}

type Config struct {
	SweepInterval time.Duration
	FlushInterval time.Duration
}

type Runner struct {
	sched gocron.Scheduler
	log   *slog.Logger
}

// New registers the sweep and flush jobs. Intervals <= 0 disable the
// corresponding job.
func New(st target, cfg Config, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "maintenance"))

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if cfg.SweepInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.SweepInterval),
			gocron.NewTask(func() {
				if n := st.SweepCache(); n > 0 {
					log.Info("eviction sweep", slog.Int("expired", n))
				}
			}),
			gocron.WithName("cache-sweep"),
		)
		if err != nil {
			return nil, fmt.Errorf("register cache-sweep job: %w", err)
		}
	}

	if cfg.FlushInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.FlushInterval),
			gocron.NewTask(func() {
				if err := st.Flush(context.Background()); err != nil {
					log.Error("scheduled flush failed", slog.Any("err", err))
					return
				}
				log.Debug("scheduled flush complete")
			}),
			gocron.WithName("snapshot-flush"),
		)
		if err != nil {
			return nil, fmt.Errorf("register snapshot-flush job: %w", err)
		}
	}

	return &Runner{sched: sched, log: log}, nil
}

func (r *Runner) Start() {
	r.sched.Start()
	r.log.Info("maintenance started", slog.Int("jobs", len(r.sched.Jobs())))
}

// Stop waits for in-flight jobs to finish; a flush mid-write is never cut
// short.
func (r *Runner) Stop() error {
	return r.sched.Shutdown()
}
