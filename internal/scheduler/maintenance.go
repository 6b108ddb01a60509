package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Default housekeeping settings.
const (
	DefaultMaintenanceSchedule = "@every 1h"
	DefaultRetention           = 7 * 24 * time.Hour
	// DefaultStaleSending is how long a reply may sit in sending before it is
	// considered abandoned by a crashed sender.
	DefaultStaleSending = 5 * time.Minute
)

// Maintainer is the part of the store housekeeping needs.
type Maintainer interface {
	PruneInbound(cutoff time.Time) (int, error)
	PruneOutbox(cutoff time.Time) (int, error)
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)
}

// MaintenanceStats counts what one pass changed.
type MaintenanceStats struct {
	PrunedInbound int
	PrunedOutbox  int
	Requeued      int
}

// RunMaintenance prunes webhook dedup records and delivered replies older
// than retention, and requeues replies stuck in sending.
func RunMaintenance(st Maintainer, retention, staleSending time.Duration, now time.Time) (MaintenanceStats, error) {
	var stats MaintenanceStats
	var errs []error
	var err error

	if stats.Requeued, err = st.RequeueStaleSendingMessages(now.Add(-staleSending)); err != nil {
		errs = append(errs, err)
	}
	if stats.PrunedInbound, err = st.PruneInbound(now.Add(-retention)); err != nil {
		errs = append(errs, err)
	}
	if stats.PrunedOutbox, err = st.PruneOutbox(now.Add(-retention)); err != nil {
		errs = append(errs, err)
	}
	return stats, errors.Join(errs...)
}

// ScheduleMaintenance registers the housekeeping job on s.
func ScheduleMaintenance(s *Scheduler, st Maintainer, expr string, retention time.Duration) error {
	return s.AddJob("maintenance", expr, func(ctx context.Context) {
		stats, err := RunMaintenance(st, retention, DefaultStaleSending, time.Now())
		if err != nil {
			slog.Error("Scheduler: maintenance failed", "error", err)
		}
		slog.Info("Scheduler: maintenance done", "pruned_inbound", stats.PrunedInbound,
			"pruned_outbox", stats.PrunedOutbox, "requeued", stats.Requeued)
	})
}
