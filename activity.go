package allowlist

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates workflow events.
type ActivityEventType string

const (
	ActivityEventStageChanged     ActivityEventType = "member.stage.changed"
	ActivityEventIdentitiesLinked ActivityEventType = "identities.linked"
	ActivityEventWalletSubmitted  ActivityEventType = "wallet.submitted"
	ActivityEventRoleGranted      ActivityEventType = "role.granted"
	ActivityEventRoleGrantFailed  ActivityEventType = "role.grant_failed"
	ActivityEventPassIssued       ActivityEventType = "pass.issued"
	ActivityEventRejected         ActivityEventType = "workflow.rejected"
)

// ActivityEvent captures audit friendly information about a workflow step.
type ActivityEvent struct {
	EventType  ActivityEventType
	MemberID   string
	Discord    string
	Twitter    string
	FromStage  MemberStage
	ToStage    MemberStage
	Reason     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing and telemetry.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink and joins their errors.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoggingActivitySink writes every event to a logger.
type LoggingActivitySink struct {
	Logger Logger
}

// NewLoggingActivitySink creates a sink that logs events.
func NewLoggingActivitySink(logger Logger) *LoggingActivitySink {
	return &LoggingActivitySink{Logger: normalizeLogger(logger)}
}

// Record implements ActivitySink.
func (s *LoggingActivitySink) Record(_ context.Context, event ActivityEvent) error {
	args := []any{"event", string(event.EventType)}
	if event.MemberID != "" {
		args = append(args, "member", event.MemberID)
	}
	if event.Discord != "" {
		args = append(args, "discord", event.Discord)
	}
	if event.Twitter != "" {
		args = append(args, "twitter", event.Twitter)
	}
	if event.FromStage != "" || event.ToStage != "" {
		args = append(args, "from", string(event.FromStage), "to", string(event.ToStage))
	}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}

	switch event.EventType {
	case ActivityEventRejected, ActivityEventRoleGrantFailed:
		s.Logger.Warn("workflow activity", args...)
	default:
		s.Logger.Info("workflow activity", args...)
	}
	return nil
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
