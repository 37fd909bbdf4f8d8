package collab

import "time"

// transitions is the full status DAG. Absent edges are invalid; terminal
// statuses have no outgoing edges at all.
var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusActive, StatusCancelled},
	StatusActive:   {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the edge from -> to exists in the DAG.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// authorizeTransition enforces the per-role permission matrix on a single
// edge. Edge validity is checked first so an unauthorized caller probing an
// impossible edge still learns it is impossible rather than forbidden.
func authorizeTransition(from, to Status, role Role) error {
	if !CanTransition(from, to) {
		return errInvalidTransition("status %s cannot move to %s", from, to)
	}

	switch {
	case from == StatusPending && (to == StatusAccepted || to == StatusRejected):
		if role != RoleOwner {
			return errUnauthorized("only the post owner may %s a pending proposal", verbFor(to))
		}
	case from == StatusPending && to == StatusCancelled:
		if role != RoleCollaborator {
			return errUnauthorized("only the proposing party may withdraw a pending proposal")
		}
	default:
		// accepted->active, accepted->cancelled, active->cancelled and
		// active->completed are open to either party.
		if role != RoleOwner && role != RoleCollaborator {
			return errUnauthorized("caller is not a party to this collaboration")
		}
	}
	return nil
}

func verbFor(to Status) string {
	if to == StatusAccepted {
		return "accept"
	}
	return "reject"
}

// transition applies a status edge after permission checks and stamps the
// aggregate. Callers append the status_change activity themselves so the
// payload can carry operation-specific context.
func (c *Collaboration) transition(to Status, role Role, now time.Time) error {
	if err := authorizeTransition(c.Status, to, role); err != nil {
		return err
	}
	c.Status = to
	c.UpdatedAt = now
	return nil
}

// Respond settles a pending proposal. Only the post owner may decide, and
// only accepted/rejected are decisions.
func (c *Collaboration) Respond(role Role, decision Status, now time.Time) error {
	if decision != StatusAccepted && decision != StatusRejected {
		return errInvalidTransition("%q is not a proposal decision", decision)
	}
	return c.transition(decision, role, now)
}

// Cancel closes the collaboration from any non-terminal status. From pending
// this is the collaborator withdrawing their own proposal; afterwards either
// party may cancel.
func (c *Collaboration) Cancel(role Role, now time.Time) error {
	return c.transition(StatusCancelled, role, now)
}

// Activate moves an accepted collaboration to active. The contract must be
// fully signed first; signing itself never performs this transition.
func (c *Collaboration) Activate(role Role, now time.Time) error {
	if err := authorizeTransition(c.Status, StatusActive, role); err != nil {
		return err
	}
	if !c.Contract.FullySigned() {
		return errPrecondition("contract must be signed by both parties before activation")
	}
	c.Status = StatusActive
	c.UpdatedAt = now
	return nil
}

// Complete closes an active collaboration. The canonical final step must be
// dual-validated and the reason must belong to the fixed enumeration; both
// are hard preconditions.
func (c *Collaboration) Complete(role Role, reason CompletionReason, now time.Time) error {
	if err := authorizeTransition(c.Status, StatusCompleted, role); err != nil {
		return err
	}
	if !reason.Valid() {
		return errPrecondition("completion reason %q is not in the enumeration", reason)
	}
	final := c.Step(FinalStep())
	if final == nil || !final.Completed {
		return errPrecondition("final step %s must be validated by both parties before completion", FinalStep())
	}
	c.Status = StatusCompleted
	c.CompletionReason = &reason
	c.UpdatedAt = now
	return nil
}
