package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"brokerdesk/internal/types"
)

// DailyStats is the read-only snapshot produced by the nightly stats job.
type DailyStats struct {
	Date                  string `json:"date"`
	TotalLeads            int64  `json:"total_leads"`
	AssignmentsLast7Days  int64  `json:"assignments_last_7_days"`
	PendingConversions    int64  `json:"pending_conversions"`
	ClientsConvertedToday int64  `json:"clients_converted_today"`
}

// StatsDB provides the aggregate queries behind the daily stats job. All
// reads; callers never mutate through this interface.
type StatsDB interface {
	// CountLeads counts non-deleted leads.
	CountLeads(ctx context.Context) (int64, error)

	// CountAssignmentsSince counts assignments fetched at or after cutoff.
	CountAssignmentsSince(ctx context.Context, cutoff time.Time) (int64, error)

	// CountPendingConversions counts non-client, non-deleted leads in a
	// conversion attempt whose deadline is still in the future.
	CountPendingConversions(ctx context.Context, now time.Time) (int64, error)

	// CountClientsConvertedBetween counts leads flipped to client within
	// [from, to).
	CountClientsConvertedBetween(ctx context.Context, from, to time.Time) (int64, error)
}

// MetricsEmitter forwards collected statistics to an external metrics
// backend. May be nil; emission is best-effort.
type MetricsEmitter interface {
	EmitDailyStats(ctx context.Context, stats DailyStats) error
}

// StatsService implements the read-only daily statistics job.
type StatsService struct {
	db        StatsDB
	emitter   MetricsEmitter
	publisher NotificationPublisher
	logger    *slog.Logger
}

// NewStatsService creates a StatsService. Emitter and publisher may be nil.
func NewStatsService(db StatsDB, emitter MetricsEmitter, publisher NotificationPublisher, logger *slog.Logger) *StatsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsService{db: db, emitter: emitter, publisher: publisher, logger: logger}
}

// Collect gathers the daily aggregates as of now. The four counts are
// independent reads and run concurrently; a failed query aborts the whole
// collection since a partial snapshot is worse than none.
func (s *StatsService) Collect(ctx context.Context, now time.Time) (DailyStats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats := DailyStats{Date: dayStart.Format("2006-01-02")}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.db.CountLeads(gctx)
		if err != nil {
			return fmt.Errorf("counting leads: %w", err)
		}
		stats.TotalLeads = n
		return nil
	})
	g.Go(func() error {
		n, err := s.db.CountAssignmentsSince(gctx, now.Add(-7*24*time.Hour))
		if err != nil {
			return fmt.Errorf("counting recent assignments: %w", err)
		}
		stats.AssignmentsLast7Days = n
		return nil
	})
	g.Go(func() error {
		n, err := s.db.CountPendingConversions(gctx, now)
		if err != nil {
			return fmt.Errorf("counting pending conversions: %w", err)
		}
		stats.PendingConversions = n
		return nil
	})
	g.Go(func() error {
		n, err := s.db.CountClientsConvertedBetween(gctx, dayStart, dayStart.Add(24*time.Hour))
		if err != nil {
			return fmt.Errorf("counting conversions today: %w", err)
		}
		stats.ClientsConvertedToday = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return DailyStats{}, err
	}

	s.logger.InfoContext(ctx, "daily lead statistics collected",
		"date", stats.Date,
		"total_leads", stats.TotalLeads,
		"assignments_last_7_days", stats.AssignmentsLast7Days,
		"pending_conversions", stats.PendingConversions,
		"clients_converted_today", stats.ClientsConvertedToday,
	)

	if s.emitter != nil {
		if err := s.emitter.EmitDailyStats(ctx, stats); err != nil {
			s.logger.WarnContext(ctx, "failed to emit daily stats metrics", "error", err)
		}
	}

	if s.publisher != nil {
		msg := types.NotificationMessage{
			Kind: types.NotificationDailyStats,
			Body: fmt.Sprintf(
				"Daily lead stats for %s: %d leads, %d assignments in the last 7 days, %d pending conversions, %d clients converted today.",
				stats.Date, stats.TotalLeads, stats.AssignmentsLast7Days,
				stats.PendingConversions, stats.ClientsConvertedToday,
			),
			TraceID:    uuid.New().String(),
			OccurredAt: now,
		}
		if err := s.publisher.PublishNotification(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "failed to publish daily stats notification", "error", err)
		}
	}

	return stats, nil
}
