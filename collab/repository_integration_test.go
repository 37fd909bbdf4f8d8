package collab

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabflow/compensation"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the repository + timeline + outbox against the actual schema,
// including the FOR UPDATE write path and the version token.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"collaborations", "collaboration_steps", "activities", "outbox", "users", "listings"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("database schema missing table %s; apply migrations first", table)
		}
	}

	suffix := time.Now().UnixNano()
	var ownerID, initiatorID string
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, kind) VALUES ($1,'Olivia Owner','x','agent') RETURNING id`,
		fmt.Sprintf("owner+%d@example.com", suffix),
	).Scan(&ownerID); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, kind) VALUES ($1,'Ivan Initiator','x','agent') RETURNING id`,
		fmt.Sprintf("initiator+%d@example.com", suffix),
	).Scan(&initiatorID); err != nil {
		t.Fatalf("seed initiator: %v", err)
	}

	reference := fmt.Sprintf("post-%d", suffix)
	if _, err := pool.Exec(ctx,
		`INSERT INTO listings (reference, kind, owner_user_id, transaction_value) VALUES ($1,'annonce',$2,250000)`,
		reference, ownerID,
	); err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	repo := NewRepository(pool)
	svc := NewService(pool, repo, NewTimeline(), NewOutbox(), nil, nil)

	pct := 30.0
	c, err := svc.Propose(ctx, ProposeParams{
		PostReference: reference,
		InitiatorID:   initiatorID,
		OwnerID:       ownerID,
		Plan:          compensation.Plan{Scheme: compensation.SchemePercentage, Percentage: &pct},
		Message:       "integration proposal",
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	reloaded, err := repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != StatusPending || len(reloaded.Steps) != 10 {
		t.Fatalf("unexpected reload: status=%s steps=%d", reloaded.Status, len(reloaded.Steps))
	}
	if len(reloaded.Activities) != 1 || reloaded.Activities[0].Kind != ActivityProposalCreated {
		t.Fatalf("expected one proposal activity, got %+v", reloaded.Activities)
	}

	if _, err := svc.Respond(ctx, c.ID, RespondParams{
		ActorParams: ActorParams{ActorID: ownerID},
		Decision:    StatusAccepted,
	}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	note := "phone call done"
	ops := []func() error{
		func() error {
			_, err := svc.UpdateContract(ctx, c.ID, UpdateContractParams{ActorParams: ActorParams{ActorID: ownerID}, Text: "terms v1"})
			return err
		},
		func() error { _, err := svc.Sign(ctx, c.ID, ActorParams{ActorID: ownerID}); return err },
		func() error { _, err := svc.Sign(ctx, c.ID, ActorParams{ActorID: initiatorID}); return err },
		func() error { _, err := svc.Activate(ctx, c.ID, ActorParams{ActorID: ownerID}); return err },
		func() error {
			_, err := svc.ValidateStep(ctx, c.ID, ValidateStepParams{ActorParams: ActorParams{ActorID: ownerID}, StepID: StepFirstContact, Note: &note})
			return err
		},
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	reloaded, err = repo.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusActive {
		t.Fatalf("status = %s, want active", reloaded.Status)
	}
	step := reloaded.Step(StepFirstContact)
	if step == nil || !step.OwnerValidated || len(step.Notes) != 1 {
		t.Fatalf("step state not persisted: %+v", step)
	}

	// Activity seq must be strictly increasing in insertion order.
	prev := 0
	for _, entry := range reloaded.Activities {
		if entry.Seq <= prev {
			t.Fatalf("activity seq not increasing: %+v", reloaded.Activities)
		}
		prev = entry.Seq
	}

	// A stale version pin must conflict.
	_, err = svc.Cancel(ctx, c.ID, CancelParams{ActorParams: ActorParams{ActorID: initiatorID, IfVersion: 1}})
	if !IsKind(err, KindConflict) {
		t.Fatalf("stale pin: got %v, want conflict", err)
	}

	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE payload->>'collaboration_id'=$1`, c.ID).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != len(reloaded.Activities) {
		t.Fatalf("outbox messages = %d, activities = %d; one message per mutation expected", outboxCount, len(reloaded.Activities))
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
