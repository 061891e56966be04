package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"quill/api/internal/metrics"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionDeleted     Action = "deleted"
	ActionCommented   Action = "commented"
	ActionMemberAdded Action = "member_added"
)

const (
	ResourceProject  = "project"
	ResourceDocument = "document"
	ResourceComment  = "comment"
	ResourceMember   = "member"
)

type ActivitySink interface {
	InsertActivity(context.Context, store.ActivityRecord) error
}

// ActivityRecorder appends audit entries. Record never reports failure to
// the caller; once the breaker opens, entries are dropped without touching
// the store until it half-opens again.
type ActivityRecorder struct {
	sink    ActivitySink
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewActivityRecorder(sink ActivitySink, logger *zap.Logger, collector *metrics.Collector, maxFailures uint32) *ActivityRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFailures == 0 {
		maxFailures = 5
	}
	named := logger.Named("activity")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "activity-log",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			named.Warn("breaker state changed", zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return &ActivityRecorder{
		sink:    sink,
		breaker: breaker,
		logger:  named,
		metrics: collector,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *ActivityRecorder) Record(ctx context.Context, projectID, userID string, action Action, resourceType, resourceID string) {
	if r == nil || r.sink == nil {
		return
	}
	record := store.ActivityRecord{
		ID:           util.NewID("act"),
		ProjectID:    projectID,
		UserID:       userID,
		Action:       string(action),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    r.now(),
	}
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, r.sink.InsertActivity(ctx, record)
	})
	if err == nil {
		return
	}

	reason := "store_error"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "breaker_open"
	}
	r.metrics.ActivityDropped(reason)
	r.logger.Warn("activity record dropped",
		zap.String("reason", reason),
		zap.String("project_id", projectID),
		zap.String("action", string(action)),
		zap.String("resource_type", resourceType),
		zap.String("resource_id", resourceID),
		zap.Error(err),
	)
}
