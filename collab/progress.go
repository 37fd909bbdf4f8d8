package collab

import "time"

// ValidateStep records one party's validation of a milestone. Validation is
// only possible while the collaboration is active, and validating the same
// step twice with the same role is an error rather than a no-op so client
// bugs surface. Steps may be validated out of canonical order; only
// completion (status.go) cares about the final step.
func (c *Collaboration) ValidateStep(id StepID, role Role, now time.Time) (*ProgressStep, error) {
	if role != RoleOwner && role != RoleCollaborator {
		return nil, errUnauthorized("caller is not a party to this collaboration")
	}
	if c.Status != StatusActive {
		return nil, errInvalidTransition("progress steps can only be validated while active, status is %s", c.Status)
	}

	step := c.Step(id)
	if step == nil {
		return nil, errPrecondition("unknown progress step %q", id)
	}

	switch role {
	case RoleOwner:
		if step.OwnerValidated {
			return nil, errAlreadyDone("owner already validated step %s", id)
		}
		step.OwnerValidated = true
	case RoleCollaborator:
		if step.CollaboratorValidated {
			return nil, errAlreadyDone("collaborator already validated step %s", id)
		}
		step.CollaboratorValidated = true
	}

	if step.OwnerValidated && step.CollaboratorValidated {
		step.Completed = true
		ts := now
		step.ValidatedAt = &ts
	}

	c.UpdatedAt = now
	return step, nil
}

// AddStepNote appends an author-stamped note to a step. Notes ride along
// with validations but may also be left on their own.
func (c *Collaboration) AddStepNote(id StepID, authorID, body string, now time.Time) (*ProgressStep, error) {
	step := c.Step(id)
	if step == nil {
		return nil, errPrecondition("unknown progress step %q", id)
	}
	step.Notes = append(step.Notes, StepNote{
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: now,
	})
	c.UpdatedAt = now
	return step, nil
}
