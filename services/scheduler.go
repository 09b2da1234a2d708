package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"arcane-scribe/internal/database"
	"arcane-scribe/models"

	"github.com/go-co-op/gocron"
)

const staleReaperTag = "stale-processing-reaper"

// Scheduler runs periodic maintenance jobs
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Scheduler{scheduler: s, logger: logger}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// ScheduleInterval schedules a job to run at regular intervals
func (s *Scheduler) ScheduleInterval(tag string, every time.Duration, job func() error) error {
	_, err := s.scheduler.Every(every).Tag(tag).Do(func() {
		if err := job(); err != nil {
			s.logger.Error("scheduled job failed", "job", tag, "error", err)
		}
	})
	return err
}

func (s *Scheduler) Jobs() []*gocron.Job {
	return s.scheduler.Jobs()
}

// ScheduleStaleReaper checks every interval for documents stuck in processing
// longer than maxAge and marks them failed.
func (s *Scheduler) ScheduleStaleReaper(docs database.DocumentStore, interval, maxAge time.Duration) error {
	return s.ScheduleInterval(staleReaperTag, interval, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := ReapStaleDocuments(ctx, docs, maxAge, time.Now())
		if n > 0 {
			s.logger.Warn("marked stale documents failed", "count", n)
		}
		return err
	})
}

// ReapStaleDocuments marks documents that stayed in processing since before
// now-maxAge as failed and returns how many were updated.
func ReapStaleDocuments(ctx context.Context, docs database.DocumentStore, maxAge time.Duration, now time.Time) (int, error) {
	stale, err := docs.ListStale(ctx, models.StatusProcessing, now.Add(-maxAge))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, d := range stale {
		err := database.UpdateStatus(ctx, docs, d.TenantKey, d.DocumentID, models.StatusFailed, map[string]any{
			"error_message": fmt.Sprintf("indexing did not finish within %s", maxAge),
		})
		if err != nil {
			return reaped, fmt.Errorf("mark %s failed: %w", d.DocumentID, err)
		}
		reaped++
	}
	return reaped, nil
}
