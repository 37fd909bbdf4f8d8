package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"collabflow/compensation"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the aggregate data access required by the service.
// Mutating methods run inside the service's transaction; reads are served
// without locking against a recent snapshot.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, c *Collaboration) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Collaboration, error)
	Update(ctx context.Context, tx pgx.Tx, c *Collaboration) error
	AddNote(ctx context.Context, tx pgx.Tx, id string, stepID StepID, note StepNote) error
	Get(ctx context.Context, id string) (*Collaboration, error)
	ListForUser(ctx context.Context, userID string, page, pageSize int) ([]Collaboration, int, error)
}

// TimelineWriter appends one activity inside the caller's transaction.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, collaborationID string, entry Activity) (Activity, error)
}

// OutboxWriter enqueues a notification message inside the caller's
// transaction; delivery happens out of band and is never blocked on.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// ListingDirectory is the listing collaborator seam: post reference
// validity at proposal time, and the recorded transaction value for payout
// display.
type ListingDirectory interface {
	Exists(ctx context.Context, reference string) (bool, error)
	TransactionValue(ctx context.Context, reference string) (*float64, error)
}

// UserDirectory is the identity collaborator seam: the owner kind drives
// the apporteur percentage bound.
type UserDirectory interface {
	OwnerKind(ctx context.Context, userID string) (compensation.OwnerKind, error)
}

// Service exposes the collaboration lifecycle operations. Every mutation is
// one transaction: aggregate row locked FOR UPDATE, domain rules applied in
// memory, row persisted with a version bump, activity appended, outbox
// message enqueued.
type Service struct {
	pool     TxBeginner
	repo     Repository
	timeline TimelineWriter
	outbox   OutboxWriter
	listings ListingDirectory
	users    UserDirectory
	idGen    func() string
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repository, timeline TimelineWriter, outbox OutboxWriter, listings ListingDirectory, users UserDirectory) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		timeline: timeline,
		outbox:   outbox,
		listings: listings,
		users:    users,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ProposeParams carries a new collaboration proposal. Compensation is fixed
// here for the life of the record; renegotiation means a new proposal.
type ProposeParams struct {
	PostReference string
	InitiatorID   string
	OwnerID       string
	Plan          compensation.Plan
	Message       string
}

// Propose creates a collaboration in pending status with the full canonical
// step sequence seeded.
func (s *Service) Propose(ctx context.Context, params ProposeParams) (*Collaboration, error) {
	if params.PostReference == "" {
		return nil, errPrecondition("post reference required")
	}
	if params.InitiatorID == "" || params.OwnerID == "" {
		return nil, errPrecondition("both parties required")
	}
	if params.InitiatorID == params.OwnerID {
		return nil, errPrecondition("a party cannot collaborate with itself")
	}

	if s.listings != nil {
		ok, err := s.listings.Exists(ctx, params.PostReference)
		if err != nil {
			return nil, fmt.Errorf("collab: check post reference: %w", err)
		}
		if !ok {
			return nil, errPrecondition("unknown post reference %q", params.PostReference)
		}
	}

	ownerKind := compensation.OwnerKindAgent
	if s.users != nil {
		kind, err := s.users.OwnerKind(ctx, params.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("collab: resolve owner kind: %w", err)
		}
		ownerKind = kind
	}
	if err := compensation.Validate(params.Plan, ownerKind); err != nil {
		return nil, errPrecondition("%v", err)
	}

	now := s.now()
	c := &Collaboration{
		ID:            s.idGen(),
		PostReference: params.PostReference,
		OwnerID:       params.OwnerID,
		InitiatorID:   params.InitiatorID,
		Status:        StatusPending,
		Plan:          params.Plan,
		Steps:         newSteps(),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("collab: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Insert(ctx, tx, c); err != nil {
		return nil, err
	}

	if err := s.logActivity(ctx, tx, c, Activity{
		Kind:    ActivityProposalCreated,
		Message: params.Message,
		ActorID: &params.InitiatorID,
		Payload: map[string]any{
			"post_reference": params.PostReference,
			"scheme":         string(params.Plan.Scheme),
		},
	}); err != nil {
		return nil, err
	}

	if err := s.notify(ctx, tx, "collaboration.proposed", map[string]any{
		"collaboration_id": c.ID,
		"owner_id":         c.OwnerID,
		"initiator_id":     c.InitiatorID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("collab: commit propose: %w", err)
	}
	return c, nil
}

// ActorParams identify the caller and optionally pin the aggregate version
// the caller last saw. A non-zero IfVersion that no longer matches fails
// with a retryable conflict.
type ActorParams struct {
	ActorID   string
	IfVersion int64
}

// RespondParams settle a pending proposal.
type RespondParams struct {
	ActorParams
	Decision Status
}

func (s *Service) Respond(ctx context.Context, id string, params RespondParams) (*Collaboration, error) {
	return s.mutate(ctx, id, params.ActorParams, func(c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		previous := c.Status
		if err := c.Respond(role, params.Decision, now); err != nil {
			return nil, err
		}
		return statusChangeDraft(c, previous, params.ActorID), nil
	})
}

// CancelParams close a collaboration early.
type CancelParams struct {
	ActorParams
	Reason *string
}

func (s *Service) Cancel(ctx context.Context, id string, params CancelParams) (*Collaboration, error) {
	return s.mutate(ctx, id, params.ActorParams, func(c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		previous := c.Status
		if err := c.Cancel(role, now); err != nil {
			return nil, err
		}
		draft := statusChangeDraft(c, previous, params.ActorID)
		if params.Reason != nil {
			draft.activity.Payload["reason"] = *params.Reason
		}
		return draft, nil
	})
}

// Activate moves an accepted, fully signed collaboration to active.
func (s *Service) Activate(ctx context.Context, id string, params ActorParams) (*Collaboration, error) {
	return s.mutate(ctx, id, params, func(c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		previous := c.Status
		if err := c.Activate(role, now); err != nil {
			return nil, err
		}
		return statusChangeDraft(c, previous, params.ActorID), nil
	})
}

// CompleteParams close an active collaboration with a mandatory reason.
type CompleteParams struct {
	ActorParams
	Reason CompletionReason
}

func (s *Service) Complete(ctx context.Context, id string, params CompleteParams) (*Collaboration, error) {
	return s.mutate(ctx, id, params.ActorParams, func(c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		previous := c.Status
		if err := c.Complete(role, params.Reason, now); err != nil {
			return nil, err
		}
		draft := statusChangeDraft(c, previous, params.ActorID)
		draft.activity.Payload["completion_reason"] = string(params.Reason)
		return draft, nil
	})
}

// ValidateStepParams record one party's validation of a milestone, with an
// optional note.
type ValidateStepParams struct {
	ActorParams
	StepID StepID
	Note   *string
}

func (s *Service) ValidateStep(ctx context.Context, id string, params ValidateStepParams) (*Collaboration, error) {
	return s.mutateWithTx(ctx, id, params.ActorParams, func(tx pgx.Tx, c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		step, err := c.ValidateStep(params.StepID, role, now)
		if err != nil {
			return nil, err
		}
		if params.Note != nil {
			if _, err := c.AddStepNote(params.StepID, params.ActorID, *params.Note, now); err != nil {
				return nil, err
			}
			note := step.Notes[len(step.Notes)-1]
			if err := s.repo.AddNote(ctx, tx, c.ID, params.StepID, note); err != nil {
				return nil, err
			}
		}

		actor := params.ActorID
		return &activityDraft{
			activity: Activity{
				Kind:    ActivityStepUpdate,
				Message: fmt.Sprintf("step %s validated by %s", params.StepID, role),
				ActorID: &actor,
				Payload: map[string]any{
					"step_id":      string(params.StepID),
					"role":         string(role),
					"completed":    step.Completed,
					"current_step": string(c.CurrentStep()),
				},
			},
			topic: "collaboration.progress",
		}, nil
	})
}

// UpdateContractParams replace the contract text and additional terms.
type UpdateContractParams struct {
	ActorParams
	Text            string
	AdditionalTerms string
}

func (s *Service) UpdateContract(ctx context.Context, id string, params UpdateContractParams) (*Collaboration, error) {
	return s.mutate(ctx, id, params.ActorParams, func(c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		invalidated, err := c.UpdateContract(role, params.Text, params.AdditionalTerms, now)
		if err != nil {
			return nil, err
		}
		actor := params.ActorID
		return &activityDraft{
			activity: Activity{
				Kind:    ActivityContractEdited,
				Message: fmt.Sprintf("contract updated by %s", role),
				ActorID: &actor,
				Payload: map[string]any{
					"role":                   string(role),
					"signatures_invalidated": invalidated,
				},
			},
			topic: "collaboration.contract_modified",
		}, nil
	})
}

// Sign records the caller's signature on the current contract text.
func (s *Service) Sign(ctx context.Context, id string, params ActorParams) (*Collaboration, error) {
	return s.mutate(ctx, id, params, func(c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		bothSigned, err := c.Sign(role, now)
		if err != nil {
			return nil, err
		}
		actor := params.ActorID
		return &activityDraft{
			activity: Activity{
				Kind:    ActivityContractSigned,
				Message: fmt.Sprintf("contract signed by %s", role),
				ActorID: &actor,
				Payload: map[string]any{
					"role":         string(role),
					"fully_signed": bothSigned,
				},
			},
			topic: "collaboration.contract_signed",
		}, nil
	})
}

// Get returns a recent snapshot of the aggregate without locking.
func (s *Service) Get(ctx context.Context, id string) (*Collaboration, error) {
	return s.repo.Get(ctx, id)
}

// ListForUser returns collaborations the user is a party to.
func (s *Service) ListForUser(ctx context.Context, userID string, page, pageSize int) ([]Collaboration, int, error) {
	return s.repo.ListForUser(ctx, userID, page, pageSize)
}

// Shares computes both parties' compensation shares for display.
func (s *Service) Shares(ctx context.Context, id string) (owner, collaborator compensation.Share, err error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return compensation.Share{}, compensation.Share{}, err
	}
	owner, err = compensation.ShareFor(c.Plan, compensation.PartyOwner)
	if err != nil {
		return compensation.Share{}, compensation.Share{}, err
	}
	collaborator, err = compensation.ShareFor(c.Plan, compensation.PartyCollaborator)
	if err != nil {
		return compensation.Share{}, compensation.Share{}, err
	}
	return owner, collaborator, nil
}

// Payout resolves both shares and, when the listing has a recorded
// transaction value, projects percentage shares onto concrete amounts.
func (s *Service) Payout(ctx context.Context, id string) (owner, collaborator compensation.Share, err error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return compensation.Share{}, compensation.Share{}, err
	}
	owner, collaborator, err = s.Shares(ctx, id)
	if err != nil {
		return compensation.Share{}, compensation.Share{}, err
	}
	if s.listings == nil {
		return owner, collaborator, nil
	}
	value, err := s.listings.TransactionValue(ctx, c.PostReference)
	if err != nil {
		return compensation.Share{}, compensation.Share{}, fmt.Errorf("collab: resolve transaction value: %w", err)
	}
	if value != nil {
		owner = compensation.AmountOf(owner, *value)
		collaborator = compensation.AmountOf(collaborator, *value)
	}
	return owner, collaborator, nil
}

// activityDraft couples the timeline entry and outbox topic produced by one
// mutation.
type activityDraft struct {
	activity Activity
	topic    string
}

func statusChangeDraft(c *Collaboration, previous Status, actorID string) *activityDraft {
	actor := actorID
	return &activityDraft{
		activity: Activity{
			Kind:    ActivityStatusChange,
			Message: fmt.Sprintf("status changed from %s to %s", previous, c.Status),
			ActorID: &actor,
			Payload: map[string]any{
				"previous_status": string(previous),
				"next_status":     string(c.Status),
			},
		},
		topic: "collaboration.status_changed",
	}
}

func (s *Service) mutate(ctx context.Context, id string, actor ActorParams, apply func(c *Collaboration, role Role, now time.Time) (*activityDraft, error)) (*Collaboration, error) {
	return s.mutateWithTx(ctx, id, actor, func(_ pgx.Tx, c *Collaboration, role Role, now time.Time) (*activityDraft, error) {
		return apply(c, role, now)
	})
}

// mutateWithTx is the single write path: load FOR UPDATE, optional version
// precondition, domain mutation, persist, timeline, outbox, commit. Either
// the whole set of writes lands or none do.
func (s *Service) mutateWithTx(ctx context.Context, id string, actor ActorParams, apply func(tx pgx.Tx, c *Collaboration, role Role, now time.Time) (*activityDraft, error)) (*Collaboration, error) {
	if id == "" {
		return nil, errNotFound("collaboration id required")
	}
	if actor.ActorID == "" {
		return nil, errUnauthorized("caller identity required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("collab: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.IfVersion != 0 && c.Version != actor.IfVersion {
		return nil, errConflict("version %d is stale, aggregate is at %d", actor.IfVersion, c.Version)
	}

	role := c.RoleOf(actor.ActorID)

	draft, err := apply(tx, c, role, s.now())
	if err != nil {
		return nil, err
	}

	c.Version++
	if err := s.repo.Update(ctx, tx, c); err != nil {
		return nil, err
	}

	if err := s.logActivity(ctx, tx, c, draft.activity); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"collaboration_id": c.ID,
		"status":           string(c.Status),
	}
	if err := s.notify(ctx, tx, draft.topic, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("collab: commit: %w", err)
	}
	return c, nil
}

func (s *Service) logActivity(ctx context.Context, tx pgx.Tx, c *Collaboration, entry Activity) error {
	entry.CreatedAt = s.now()
	appended, err := s.timeline.Append(ctx, tx, c.ID, entry)
	if err != nil {
		return fmt.Errorf("collab: append activity: %w", err)
	}
	c.Activities = append(c.Activities, appended)
	return nil
}

func (s *Service) notify(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("collab: enqueue outbox: %w", err)
	}
	return nil
}
