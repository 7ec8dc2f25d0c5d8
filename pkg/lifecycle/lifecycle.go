// Package lifecycle guards SignatureTrack status changes with a finite-state machine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/Layr-Labs/cosigner-go/pkg/types"
	"github.com/looplab/fsm"
)

// Events driving a track between statuses
const (
	EventProgress = "progress"
	EventApprove  = "approve"
	EventDeny     = "deny"
	EventExecute  = "execute"
)

var (
	pending   = string(types.StatusPendingSigners)
	partial   = string(types.StatusPartiallyCompleted)
	signed    = string(types.StatusSigned)
	denied    = string(types.StatusDenied)
	completed = string(types.StatusSignedAndExecuted)
)

var trackEvents = fsm.Events{
	{Name: EventProgress, Src: []string{pending, partial}, Dst: partial},
	{Name: EventApprove, Src: []string{pending, partial}, Dst: signed},
	{Name: EventDeny, Src: []string{pending, partial}, Dst: denied},
	{Name: EventExecute, Src: []string{signed}, Dst: completed},
}

// eventFor names the event whose destination is the given status
func eventFor(to types.SignatureStatus) (string, bool) {
	switch to {
	case types.StatusPartiallyCompleted:
		return EventProgress, true
	case types.StatusSigned:
		return EventApprove, true
	case types.StatusDenied:
		return EventDeny, true
	case types.StatusSignedAndExecuted:
		return EventExecute, true
	}
	return "", false
}

// New returns a machine positioned at the given status
func New(current types.SignatureStatus) *fsm.FSM {
	return fsm.NewFSM(string(current), trackEvents, fsm.Callbacks{})
}

// Transition checks that a track may move from one status to another.
// Staying in partially_completed is allowed; every other move must be an edge
// of the track graph or ErrInvalidTransition is returned.
func Transition(ctx context.Context, from, to types.SignatureStatus) error {
	if from == to && from == types.StatusPartiallyCompleted {
		return nil
	}

	event, ok := eventFor(to)
	if !ok {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
	}

	machine := New(from)
	if err := machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s: %v", types.ErrInvalidTransition, from, to, err)
	}
	if machine.Current() != string(to) {
		return fmt.Errorf("%w: %s -> %s ended in %s", types.ErrInvalidTransition, from, to, machine.Current())
	}
	return nil
}

// Apply moves the track to a new status after checking the transition
func Apply(ctx context.Context, track *types.SignatureTrack, to types.SignatureStatus) error {
	if err := Transition(ctx, track.Status, to); err != nil {
		return fmt.Errorf("track %s: %w", track.ID, err)
	}
	track.Status = to
	return nil
}
