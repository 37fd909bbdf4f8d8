package collab

import "time"

// UpdateContract replaces the contract text and additional terms. Either
// party may propose edits while the collaboration is live. Any edit after a
// signature exists wipes both signatures and flags the text as modified, so
// stale approvals can never survive a rewrite. The returned bool reports
// whether signatures were invalidated.
func (c *Collaboration) UpdateContract(role Role, text, additionalTerms string, now time.Time) (bool, error) {
	if role != RoleOwner && role != RoleCollaborator {
		return false, errUnauthorized("caller is not a party to this collaboration")
	}
	if c.Status.Terminal() {
		return false, errInvalidTransition("collaboration is %s, contract is frozen", c.Status)
	}

	invalidated := false
	if c.Contract.OwnerSigned || c.Contract.CollaboratorSigned {
		c.Contract.OwnerSigned = false
		c.Contract.OwnerSignedAt = nil
		c.Contract.CollaboratorSigned = false
		c.Contract.CollaboratorSignedAt = nil
		c.Contract.ModifiedSinceSigning = true
		invalidated = true
	}

	c.Contract.Text = text
	c.Contract.AdditionalTerms = additionalTerms
	c.UpdatedAt = now
	return invalidated, nil
}

// Sign records one party's signature on the current contract text. Signing
// an empty contract or signing twice fails. The returned bool reports
// whether both signatures are now present, which is the trigger condition
// for the accepted->active transition performed by the caller.
func (c *Collaboration) Sign(role Role, now time.Time) (bool, error) {
	if role != RoleOwner && role != RoleCollaborator {
		return false, errUnauthorized("caller is not a party to this collaboration")
	}
	if c.Status.Terminal() {
		return false, errInvalidTransition("collaboration is %s, contract is frozen", c.Status)
	}
	if c.Contract.Empty() {
		return false, errPrecondition("cannot sign before a contract is drafted")
	}

	ts := now
	switch role {
	case RoleOwner:
		if c.Contract.OwnerSigned {
			return false, errAlreadyDone("owner already signed")
		}
		c.Contract.OwnerSigned = true
		c.Contract.OwnerSignedAt = &ts
	case RoleCollaborator:
		if c.Contract.CollaboratorSigned {
			return false, errAlreadyDone("collaborator already signed")
		}
		c.Contract.CollaboratorSigned = true
		c.Contract.CollaboratorSignedAt = &ts
	}

	if c.Contract.FullySigned() {
		c.Contract.ModifiedSinceSigning = false
	}
	c.UpdatedAt = now
	return c.Contract.FullySigned(), nil
}
