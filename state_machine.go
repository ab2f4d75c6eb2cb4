package allowlist

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_MEMBER_STAGE_TRANSITION"
	textCodeTerminalStage     = "TERMINAL_MEMBER_STAGE"
)

// ErrInvalidTransition is returned when a requested stage change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid member stage transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalStage is returned when attempting to move a verified member.
var ErrTerminalStage = goerrors.New("member stage is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalStage).
	WithCode(goerrors.CodeConflict)

// StageUpdate carries the fields written by a transition. Linking needs
// complete Identities, verification needs a checksummed Address.
type StageUpdate struct {
	Identities Identities
	Address    string
	Reason     string
}

// MemberStateMachine defines lifecycle operations for members.
type MemberStateMachine interface {
	Transition(ctx context.Context, member *Member, target MemberStage, update StageUpdate) (*Member, error)
	CurrentStage(member *Member) MemberStage
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*memberStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *memberStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish stage changes.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *memberStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *memberStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewMemberStateMachine returns the default implementation backed by store.
func NewMemberStateMachine(store MemberStore, opts ...StateMachineOption) MemberStateMachine {
	sm := &memberStateMachine{
		store: store,
		transitions: map[MemberStage]map[MemberStage]struct{}{
			StageSeeded: {
				StageLinked: {},
			},
			StageLinked: {
				StageLinked:   {},
				StageVerified: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type memberStateMachine struct {
	store        MemberStore
	transitions  map[MemberStage]map[MemberStage]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

func (sm *memberStateMachine) Transition(ctx context.Context, member *Member, target MemberStage, update StageUpdate) (*Member, error) {
	if member == nil {
		return nil, withSource(ErrInvalidTransition, nil, map[string]any{
			"target": target,
			"reason": "member is nil",
		})
	}

	from := member.Stage()
	if from == StageVerified {
		return nil, withSource(ErrTerminalStage, nil, map[string]any{
			"member": member.ID,
			"to":     target,
		})
	}

	if !sm.canTransition(from, target) {
		return nil, withSource(ErrInvalidTransition, nil, map[string]any{
			"member": member.ID,
			"from":   from,
			"to":     target,
		})
	}

	switch target {
	case StageLinked:
		if !update.Identities.Complete() {
			return nil, withSource(ErrInvalidTransition, nil, map[string]any{
				"member": member.ID,
				"reason": "incomplete identities",
			})
		}
		if err := sm.store.LinkIdentities(ctx, member.ID, update.Identities); err != nil {
			return nil, err
		}
		member.Apply(update.Identities)
	case StageVerified:
		if update.Address == "" {
			return nil, withSource(ErrInvalidTransition, nil, map[string]any{
				"member": member.ID,
				"reason": "missing address",
			})
		}
		if err := sm.store.BindAddress(ctx, member.ID, update.Address); err != nil {
			return nil, err
		}
		member.Address = update.Address
	}

	now := sm.now()
	member.UpdatedAt = &now

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventStageChanged,
		MemberID:   member.ID,
		Discord:    member.Discord,
		Twitter:    member.Twitter,
		FromStage:  from,
		ToStage:    target,
		Reason:     update.Reason,
		OccurredAt: now,
	})

	return member, nil
}

func (sm *memberStateMachine) CurrentStage(member *Member) MemberStage {
	return member.Stage()
}

func (sm *memberStateMachine) canTransition(from, to MemberStage) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *memberStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error", "error", err)
	}
}
