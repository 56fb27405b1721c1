package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
	"github.com/zhouzirui/chat-relay/internal/observability"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/events"
	"github.com/zhouzirui/chat-relay/internal/service/status"
)

// DefaultInterval is the pause between sweeps.
const DefaultInterval = 10 * time.Second

// ClosureNotifier tells the engagement platform that a chat has ended.
type ClosureNotifier interface {
	NotifyClosed(ctx context.Context, session chat.Session) error
}

// Config configures a Reconciler.
type Config struct {
	Store    *chatservice.Store
	Oracle   status.Oracle
	Notifier ClosureNotifier
	Events   events.Publisher
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Interval time.Duration
}

// Reconciler periodically evicts sessions whose conversation has ended. It is
// the only component that removes sessions from the store.
type Reconciler struct {
	store    *chatservice.Store
	oracle   status.Oracle
	notifier ClosureNotifier
	events   events.Publisher
	metrics  *observability.Metrics
	logger   *slog.Logger
	interval time.Duration
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		store:    cfg.Store,
		oracle:   cfg.Oracle,
		notifier: cfg.Notifier,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "reconcile"),
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled. It returns nil on cancellation.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciliation loop started", "interval", r.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciliation loop stopped")
			return nil
		case <-timer.C:
		}

		r.Sweep(ctx)
		timer.Reset(r.interval)
	}
}

// Sweep runs a single pass and returns the number of sessions removed.
func (r *Reconciler) Sweep(ctx context.Context) int {
	removed := 0
	for _, session := range r.store.Snapshot() {
		if ctx.Err() != nil {
			break
		}

		finished, err := r.oracle.IsFinished(ctx, session.DisplayName)
		if err != nil {
			r.metrics.OracleError()
			r.logger.Error("status lookup failed",
				"user_id", session.UserID,
				"display_name", session.DisplayName,
				"error", err)
			continue
		}

		if !finished {
			continue
		}

		// Only sessions the customer already completed are evicted. Closed is
		// read again under the store lock since a message may have reopened
		// the chat while the status query was in flight.
		current, ok := r.store.RemoveIf(session.UserID, func(s chat.Session) bool { return s.Closed })
		if !ok {
			continue
		}
		session = current

		r.logger.Info("chat is finished",
			"user_id", session.UserID,
			"display_name", session.DisplayName)

		removed++
		r.metrics.SessionClosed()
		if r.events != nil {
			r.events.Publish(events.NewEvent(events.TypeClosed, session))
		}

		start := time.Now()
		err = r.notifier.NotifyClosed(ctx, session)
		r.metrics.ObserveForward(observability.TargetEngagement, start, err)
		if err != nil {
			r.logger.Error("closure notice failed", "user_id", session.UserID, "error", err)
		}
	}

	r.metrics.SetActiveSessions(r.store.Len())
	r.metrics.ReconcilePass()
	if removed > 0 {
		r.logger.Debug("reconciliation pass complete", "removed", removed)
	}
	return removed
}
