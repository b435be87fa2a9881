package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind names a loyalty event.
type EventKind string

const (
	EventPointsEarned        EventKind = "points.earned"
	EventPointsSpent         EventKind = "points.spent"
	EventTierChanged         EventKind = "tier.changed"
	EventBadgeUnlocked       EventKind = "badge.unlocked"
	EventStreakMilestone     EventKind = "streak.milestone"
	EventQuizCompleted       EventKind = "quiz.completed"
	EventRedemptionCompleted EventKind = "redemption.completed"
)

// Event is published after the change it describes has committed.
type Event struct {
	Kind       EventKind              `json:"kind"`
	UserID     uint                   `json:"user_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers events to the outside world.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// LogNotifier writes events to the log.
type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	if n.Log == nil {
		return nil
	}
	n.Log.Infow("loyalty event", "kind", ev.Kind, "user_id", ev.UserID, "data", ev.Data)
	return nil
}

// MultiNotifier fans an event out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers events in the background. Delivery failures are logged
// and never reach the request that produced the event.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	clock    Clock
	log      *zap.SugaredLogger
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil notifier drops every event.
func NewDispatcher(n Notifier, timeout time.Duration, clock Clock, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout, clock: clock, log: log}
}

// Emit queues ev for delivery and returns immediately.
func (d *Dispatcher) Emit(kind EventKind, userID uint, data map[string]interface{}) {
	if d == nil || d.notifier == nil {
		return
	}
	ev := Event{Kind: kind, UserID: userID, OccurredAt: d.clock.Now().UTC(), Data: data}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorw("event notifier panicked", "kind", ev.Kind, "user_id", ev.UserID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, ev); err != nil {
			d.log.Warnw("event delivery failed", "kind", ev.Kind, "user_id", ev.UserID, "error", err)
		}
	}()
}

// Wait blocks until every emitted event has been handled.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
