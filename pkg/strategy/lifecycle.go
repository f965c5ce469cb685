package strategy

import (
	"time"

	"github.com/metrolab/wafersample/pkg/errcode"
)

// State is the lifecycle position of a strategy version.
type State string

const (
	StateDraft      State = "draft"
	StateReview     State = "review"
	StateApproved   State = "approved"
	StateActive     State = "active"
	StateDeprecated State = "deprecated"
)

// States lists the lifecycle states in promotion order.
func States() []State {
	return []State{StateDraft, StateReview, StateApproved, StateActive, StateDeprecated}
}

// ValidState reports whether s is a known lifecycle state.
func ValidState(s State) bool {
	for _, k := range States() {
		if s == k {
			return true
		}
	}
	return false
}

// NextState returns the promotion successor of s. Deprecated is terminal.
func NextState(s State) (State, bool) {
	switch s {
	case StateDraft:
		return StateReview, true
	case StateReview:
		return StateApproved, true
	case StateApproved:
		return StateActive, true
	case StateActive:
		return StateDeprecated, true
	default:
		return "", false
	}
}

// CanTransition reports whether from → to is a legal edge, with a reason
// when it is not. Guards that need external state (compilation, simulation
// history) are enforced by the caller before committing.
func CanTransition(from, to State) (string, bool) {
	if from == to {
		return "strategy is already in state " + string(from), false
	}
	switch to {
	case StateDraft:
		// Retract: any reviewer state may fall back to draft.
		if from == StateReview || from == StateApproved {
			return "", true
		}
		return "only review or approved strategies can be retracted to draft", false
	case StateDeprecated:
		if from == StateDraft {
			return "draft strategies are deleted, not deprecated", false
		}
		return "", true
	default:
		if next, ok := NextState(from); ok && next == to {
			return "", true
		}
		return "promotion must follow draft, review, approved, active in order", false
	}
}

// Transition applies from → to on the definition, stamping audit fields.
// Illegal edges fail with a lifecycleViolation carrying from, to, and the
// reason.
func (d *Definition) Transition(to State, user string, now time.Time) error {
	from := d.LifecycleState
	reason, ok := CanTransition(from, to)
	if !ok {
		return errcode.New(errcode.LifecycleViolation,
			"cannot transition strategy %s from %s to %s: %s", d.ID, from, to, reason).
			WithDetail("from", string(from)).
			WithDetail("to", string(to)).
			WithDetail("reason", reason)
	}

	switch to {
	case StateReview:
		if len(d.Rules) == 0 {
			return errcode.New(errcode.LifecycleViolation,
				"cannot transition strategy %s from %s to %s: strategy has no rules", d.ID, from, to).
				WithDetail("from", string(from)).
				WithDetail("to", string(to)).
				WithDetail("reason", "strategy has no rules")
		}
		d.ReviewedBy = user
		t := now
		d.ReviewedAt = &t
	case StateApproved:
		d.ApprovedBy = user
		t := now
		d.ApprovedAt = &t
	case StateDraft:
		d.ReviewedBy, d.ReviewedAt = "", nil
		d.ApprovedBy, d.ApprovedAt = "", nil
	}

	d.LifecycleState = to
	d.ModifiedAt = now
	return nil
}

// Mutable reports whether the definition may be edited in place. Approved
// and later versions are immutable; edits fork a new draft version.
func (d *Definition) Mutable() bool {
	return d.LifecycleState == StateDraft || d.LifecycleState == StateReview
}
