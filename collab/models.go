package collab

import (
	"time"

	"collabflow/compensation"
)

// Status is the coarse lifecycle stage of a collaboration.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Role is the permission role a caller holds on one collaboration. The
// assignment is fixed for the life of the record: the post owner acts as
// RoleOwner, the proposing party as RoleCollaborator.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
	RoleNone         Role = "none"
)

// CompletionReason is the mandatory closure explanation recorded when a
// collaboration completes.
type CompletionReason string

const (
	ReasonSaleViaCollaboration CompletionReason = "vente_conclue_collaboration"
	ReasonSaleAlone            CompletionReason = "vente_conclue_seul"
	ReasonListingWithdrawn     CompletionReason = "annonce_retiree"
	ReasonMandateExpired       CompletionReason = "mandat_expire"
	ReasonClientWithdrew       CompletionReason = "client_desiste"
	ReasonSoldByThirdParty     CompletionReason = "vendu_par_tiers"
	ReasonNoOutcome            CompletionReason = "sans_suite"
)

var completionReasons = map[CompletionReason]struct{}{
	ReasonSaleViaCollaboration: {},
	ReasonSaleAlone:            {},
	ReasonListingWithdrawn:     {},
	ReasonMandateExpired:       {},
	ReasonClientWithdrew:       {},
	ReasonSoldByThirdParty:     {},
	ReasonNoOutcome:            {},
}

// Valid reports whether the reason belongs to the fixed enumeration.
func (r CompletionReason) Valid() bool {
	_, ok := completionReasons[r]
	return ok
}

// StepID names one canonical progress milestone.
type StepID string

const (
	StepAgreement     StepID = "accord_collaboration"
	StepFirstContact  StepID = "premier_contact"
	StepFileShared    StepID = "dossier_partage"
	StepVisitPlanned  StepID = "visite_organisee"
	StepVisitDone     StepID = "visite_effectuee"
	StepOfferMade     StepID = "offre_deposee"
	StepOfferAccepted StepID = "offre_acceptee"
	StepPreContract   StepID = "compromis_signe"
	StepDeedSigned    StepID = "acte_signe"
	StepDealConcluded StepID = "affaire_conclue"
)

// canonicalSteps is the fixed, total step order. No reordering or insertion
// happens at runtime.
var canonicalSteps = []StepID{
	StepAgreement,
	StepFirstContact,
	StepFileShared,
	StepVisitPlanned,
	StepVisitDone,
	StepOfferMade,
	StepOfferAccepted,
	StepPreContract,
	StepDeedSigned,
	StepDealConcluded,
}

// CanonicalSteps returns the fixed milestone order.
func CanonicalSteps() []StepID {
	out := make([]StepID, len(canonicalSteps))
	copy(out, canonicalSteps)
	return out
}

// FinalStep is the milestone gating completion.
func FinalStep() StepID { return StepDealConcluded }

// StepNote is one author-stamped remark attached to a progress step.
type StepNote struct {
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// ProgressStep tracks dual validation of one milestone. Completed flips to
// true exactly when both validation flags are true.
type ProgressStep struct {
	ID                    StepID
	OwnerValidated        bool
	CollaboratorValidated bool
	Completed             bool
	ValidatedAt           *time.Time
	Notes                 []StepNote
}

// ActivityKind classifies timeline entries.
type ActivityKind string

const (
	ActivityProposalCreated ActivityKind = "proposal_created"
	ActivityStatusChange    ActivityKind = "status_change"
	ActivityStepUpdate      ActivityKind = "progress_step_update"
	ActivityContractEdited  ActivityKind = "contract_modified"
	ActivityContractSigned  ActivityKind = "contract_signed"
)

// Activity is one append-only timeline entry. Entries are never edited or
// removed after insert.
type Activity struct {
	ID        int64
	Seq       int
	Kind      ActivityKind
	Message   string
	ActorID   *string
	Payload   map[string]any
	CreatedAt time.Time
}

// Contract holds the agreement text and per-party signature state.
type Contract struct {
	Text                 string
	AdditionalTerms      string
	OwnerSigned          bool
	OwnerSignedAt        *time.Time
	CollaboratorSigned   bool
	CollaboratorSignedAt *time.Time
	ModifiedSinceSigning bool
}

// Empty reports whether no contract text has been drafted yet.
func (c Contract) Empty() bool {
	return c.Text == "" && c.AdditionalTerms == ""
}

// FullySigned reports whether both parties have signed the current text.
func (c Contract) FullySigned() bool {
	return c.OwnerSigned && c.CollaboratorSigned
}

// Collaboration is the aggregate root. It is mutated exclusively through the
// Service operations; Version is the optimistic concurrency token bumped on
// every successful write.
type Collaboration struct {
	ID               string
	PostReference    string
	OwnerID          string
	InitiatorID      string
	Status           Status
	Plan             compensation.Plan
	Steps            []ProgressStep
	Contract         Contract
	CompletionReason *CompletionReason
	Activities       []Activity
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RoleOf resolves the permission role a user holds on this collaboration.
func (c *Collaboration) RoleOf(userID string) Role {
	switch userID {
	case c.OwnerID:
		return RoleOwner
	case c.InitiatorID:
		return RoleCollaborator
	default:
		return RoleNone
	}
}

// Step returns the tracked record for a canonical step id, or nil when the
// id is not part of the canonical sequence.
func (c *Collaboration) Step(id StepID) *ProgressStep {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}

// CurrentStep is derived: the first step in canonical order that is not
// completed, or the terminal step when everything is done.
func (c *Collaboration) CurrentStep() StepID {
	for _, s := range c.Steps {
		if !s.Completed {
			return s.ID
		}
	}
	return FinalStep()
}

// newSteps seeds one untouched record per canonical step.
func newSteps() []ProgressStep {
	steps := make([]ProgressStep, len(canonicalSteps))
	for i, id := range canonicalSteps {
		steps[i] = ProgressStep{ID: id}
	}
	return steps
}
