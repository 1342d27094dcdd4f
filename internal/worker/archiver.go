package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/jwalitptl/mdm-api/pkg/logger"
)

// Archiver runs the scheduled shift-window sweep that archives encounters
// whose twelve hours are up.
type Archiver struct {
	service   ArchiveService
	scheduler *gocron.Scheduler
	interval  time.Duration
	logger    *logger.Logger
}

type ArchiveService interface {
	ArchiveExpired(ctx context.Context) (int, error)
}

func NewArchiver(service ArchiveService, interval time.Duration, log *logger.Logger) *Archiver {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Archiver{
		service:   service,
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		logger:    log,
	}
}

// Start schedules the sweep and blocks until the context is cancelled.
func (a *Archiver) Start(ctx context.Context) error {
	_, err := a.scheduler.Every(a.interval).Do(func() {
		a.sweep(ctx)
	})
	if err != nil {
		return err
	}

	a.scheduler.StartAsync()
	<-ctx.Done()
	a.scheduler.Stop()
	return nil
}

func (a *Archiver) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	archived, err := a.service.ArchiveExpired(sweepCtx)
	if err != nil {
		a.logger.Error(err, "shift-window sweep failed")
		return
	}
	if archived > 0 {
		a.logger.Info("archived expired encounters", "count", archived)
	}
}
