package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabflow/collab"
	"collabflow/notify"
)

// tolerable reports whether an operation error is expected contention or a
// domain-rule rejection rather than an infrastructure failure. Actors keep
// hammering through those; anything outside the taxonomy aborts the run.
func tolerable(err error) bool {
	return err == nil || collab.KindOf(err) != ""
}

// Signer repeatedly signs the contract. Under contention with ContractEditor
// the signature is expected to land on the current text or be rejected, never
// on stale text.
func Signer(ctx context.Context, svc *collab.Service, collabID, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Sign(ctx, collabID, collab.ActorParams{ActorID: actorID})
		if !tolerable(err) {
			return fmt.Errorf("signer %s: %w", actorID, err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// ContractEditor rewrites the contract text, invalidating any standing
// signatures each time.
func ContractEditor(ctx context.Context, svc *collab.Service, collabID, actorID string, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++
		_, err := svc.UpdateContract(ctx, collabID, collab.UpdateContractParams{
			ActorParams:     collab.ActorParams{ActorID: actorID},
			Text:            fmt.Sprintf("collaboration terms, revision %d by %s", n, actorID),
			AdditionalTerms: "split applies on notarised completion",
		})
		if !tolerable(err) {
			return fmt.Errorf("editor %s: %w", actorID, err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Activator keeps trying to move the collaboration from accepted to active.
// It only succeeds once both signatures stand on the current text.
func Activator(ctx context.Context, svc *collab.Service, collabID, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Activate(ctx, collabID, collab.ActorParams{ActorID: actorID})
		if !tolerable(err) {
			return fmt.Errorf("activator %s: %w", actorID, err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// StepValidator validates random canonical steps for one party, attaching the
// occasional note. Rejected while the collaboration is not active.
func StepValidator(ctx context.Context, svc *collab.Service, collabID, actorID string, stop <-chan struct{}) error {
	steps := collab.CanonicalSteps()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		params := collab.ValidateStepParams{
			ActorParams: collab.ActorParams{ActorID: actorID},
			StepID:      steps[rand.Intn(len(steps))],
		}
		if rand.Intn(4) == 0 {
			note := fmt.Sprintf("checked at %s", time.Now().Format(time.RFC3339Nano))
			params.Note = &note
		}
		_, err := svc.ValidateStep(ctx, collabID, params)
		if !tolerable(err) {
			return fmt.Errorf("step validator %s: %w", actorID, err)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Completer attempts completion with a valid reason. It keeps failing the
// final-step precondition until both parties validated affaire_conclue, and
// must be rejected outright once the record is terminal.
func Completer(ctx context.Context, svc *collab.Service, collabID, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Complete(ctx, collabID, collab.CompleteParams{
			ActorParams: collab.ActorParams{ActorID: actorID},
			Reason:      collab.ReasonSaleViaCollaboration,
		})
		if !tolerable(err) {
			return fmt.Errorf("completer %s: %w", actorID, err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Reader polls the aggregate and cross-checks in-memory invariants that must
// hold in every snapshot the engine hands out.
func Reader(ctx context.Context, svc *collab.Service, collabID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		c, err := svc.Get(ctx, collabID)
		if err != nil {
			if tolerable(err) {
				continue
			}
			return fmt.Errorf("reader: %w", err)
		}
		if c.Contract.FullySigned() && c.Contract.ModifiedSinceSigning {
			return fmt.Errorf("reader: snapshot has fully signed contract with stale text (version %d)", c.Version)
		}
		if len(c.Steps) != len(collab.CanonicalSteps()) {
			return fmt.Errorf("reader: snapshot has %d steps", len(c.Steps))
		}
		for _, s := range c.Steps {
			if s.Completed != (s.OwnerValidated && s.CollaboratorValidated) {
				return fmt.Errorf("reader: step %s completed flag out of sync", s.ID)
			}
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains the notification outbox with the production dispatcher
// while mutations keep enqueueing.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	d := notify.NewDispatcher(pool, nil, nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := d.DrainOnce(ctx); err != nil {
			return fmt.Errorf("outbox worker: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
