package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabflow/compensation"
)

// PGRepository persists collaborations in PostgreSQL. The aggregate spans
// the collaborations row, one collaboration_steps row per canonical step,
// step_notes and activities. Concurrent writers on one aggregate serialize
// on the FOR UPDATE row lock; the version column backs the optimistic
// precondition for multi-instance deployments.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const collaborationColumns = `
id, post_reference, owner_user_id, initiator_user_id, status,
comp_scheme, comp_percentage, comp_amount,
contract_text, contract_terms,
owner_signed, owner_signed_at, collaborator_signed, collaborator_signed_at,
modified_since_signing, completion_reason, version, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, c *Collaboration) error {
	const insertSQL = `
INSERT INTO collaborations (
    id, post_reference, owner_user_id, initiator_user_id, status,
    comp_scheme, comp_percentage, comp_amount, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5::collaboration_status,$6::compensation_scheme,$7,$8,$9,$10,$11)
`
	if _, err := tx.Exec(ctx, insertSQL,
		c.ID,
		c.PostReference,
		c.OwnerID,
		c.InitiatorID,
		string(c.Status),
		string(c.Plan.Scheme),
		c.Plan.Percentage,
		c.Plan.Amount,
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("collab: insert collaboration: %w", err)
	}

	const stepSQL = `
INSERT INTO collaboration_steps (collaboration_id, step_id, position)
VALUES ($1,$2,$3)
`
	for i, step := range c.Steps {
		if _, err := tx.Exec(ctx, stepSQL, c.ID, string(step.ID), i); err != nil {
			return fmt.Errorf("collab: insert step %s: %w", step.ID, err)
		}
	}
	return nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Collaboration, error) {
	row := tx.QueryRow(ctx, `SELECT `+collaborationColumns+` FROM collaborations WHERE id=$1 FOR UPDATE`, id)
	c, err := scanCollaboration(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, tx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get serves reads without locking; the snapshot may trail one in-flight
// write.
func (r *PGRepository) Get(ctx context.Context, id string) (*Collaboration, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+collaborationColumns+` FROM collaborations WHERE id=$1`, id)
	c, err := scanCollaboration(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, r.pool, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, c *Collaboration) error {
	const updateSQL = `
UPDATE collaborations SET
    status=$2::collaboration_status,
    contract_text=$3,
    contract_terms=$4,
    owner_signed=$5,
    owner_signed_at=$6,
    collaborator_signed=$7,
    collaborator_signed_at=$8,
    modified_since_signing=$9,
    completion_reason=$10::completion_reason,
    version=$11,
    updated_at=$12
WHERE id=$1 AND version=$13
`
	var reason *string
	if c.CompletionReason != nil {
		v := string(*c.CompletionReason)
		reason = &v
	}
	tag, err := tx.Exec(ctx, updateSQL,
		c.ID,
		string(c.Status),
		c.Contract.Text,
		c.Contract.AdditionalTerms,
		c.Contract.OwnerSigned,
		c.Contract.OwnerSignedAt,
		c.Contract.CollaboratorSigned,
		c.Contract.CollaboratorSignedAt,
		c.Contract.ModifiedSinceSigning,
		reason,
		c.Version,
		c.UpdatedAt,
		c.Version-1,
	)
	if err != nil {
		return fmt.Errorf("collab: update collaboration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errConflict("collaboration %s changed underneath this write", c.ID)
	}

	const stepSQL = `
UPDATE collaboration_steps SET
    owner_validated=$3,
    collaborator_validated=$4,
    completed=$5,
    validated_at=$6
WHERE collaboration_id=$1 AND step_id=$2
`
	for _, step := range c.Steps {
		if _, err := tx.Exec(ctx, stepSQL,
			c.ID,
			string(step.ID),
			step.OwnerValidated,
			step.CollaboratorValidated,
			step.Completed,
			step.ValidatedAt,
		); err != nil {
			return fmt.Errorf("collab: update step %s: %w", step.ID, err)
		}
	}
	return nil
}

func (r *PGRepository) AddNote(ctx context.Context, tx pgx.Tx, id string, stepID StepID, note StepNote) error {
	const insertSQL = `
INSERT INTO step_notes (collaboration_id, step_id, author_user_id, body, created_at)
VALUES ($1,$2,$3,$4,$5)
`
	if _, err := tx.Exec(ctx, insertSQL, id, string(stepID), note.AuthorID, note.Body, note.CreatedAt); err != nil {
		return fmt.Errorf("collab: insert step note: %w", err)
	}
	return nil
}

func (r *PGRepository) ListForUser(ctx context.Context, userID string, page, pageSize int) ([]Collaboration, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+collaborationColumns+`
FROM collaborations
WHERE owner_user_id=$1 OR initiator_user_id=$1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("collab: list: %w", err)
	}
	defer rows.Close()

	items := []Collaboration{}
	for rows.Next() {
		c, err := scanCollaboration(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("collab: list rows: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM collaborations WHERE owner_user_id=$1 OR initiator_user_id=$1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("collab: list count: %w", err)
	}
	return items, total, nil
}

// querier covers both pgx.Tx and *pgxpool.Pool for read helpers.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepository) loadChildren(ctx context.Context, q querier, c *Collaboration) error {
	steps, err := loadSteps(ctx, q, c.ID)
	if err != nil {
		return err
	}
	c.Steps = steps

	if err := loadNotes(ctx, q, c); err != nil {
		return err
	}

	activities, err := loadActivities(ctx, q, c.ID)
	if err != nil {
		return err
	}
	c.Activities = activities
	return nil
}

func loadSteps(ctx context.Context, q querier, id string) ([]ProgressStep, error) {
	rows, err := q.Query(ctx, `
SELECT step_id, owner_validated, collaborator_validated, completed, validated_at
FROM collaboration_steps
WHERE collaboration_id=$1
ORDER BY position
`, id)
	if err != nil {
		return nil, fmt.Errorf("collab: load steps: %w", err)
	}
	defer rows.Close()

	var steps []ProgressStep
	for rows.Next() {
		var (
			step   ProgressStep
			stepID string
		)
		if err := rows.Scan(&stepID, &step.OwnerValidated, &step.CollaboratorValidated, &step.Completed, &step.ValidatedAt); err != nil {
			return nil, fmt.Errorf("collab: scan step: %w", err)
		}
		step.ID = StepID(stepID)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func loadNotes(ctx context.Context, q querier, c *Collaboration) error {
	rows, err := q.Query(ctx, `
SELECT step_id, author_user_id, body, created_at
FROM step_notes
WHERE collaboration_id=$1
ORDER BY id
`, c.ID)
	if err != nil {
		return fmt.Errorf("collab: load notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stepID string
			note   StepNote
		)
		if err := rows.Scan(&stepID, &note.AuthorID, &note.Body, &note.CreatedAt); err != nil {
			return fmt.Errorf("collab: scan note: %w", err)
		}
		if step := c.Step(StepID(stepID)); step != nil {
			step.Notes = append(step.Notes, note)
		}
	}
	return rows.Err()
}

func loadActivities(ctx context.Context, q querier, id string) ([]Activity, error) {
	rows, err := q.Query(ctx, `
SELECT id, seq, kind, message, actor_user_id, payload, created_at
FROM activities
WHERE collaboration_id=$1
ORDER BY seq
`, id)
	if err != nil {
		return nil, fmt.Errorf("collab: load activities: %w", err)
	}
	defer rows.Close()

	var entries []Activity
	for rows.Next() {
		var (
			entry Activity
			kind  string
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Seq, &kind, &entry.Message, &entry.ActorID, &raw, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("collab: scan activity: %w", err)
		}
		entry.Kind = ActivityKind(kind)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Payload); err != nil {
				return nil, fmt.Errorf("collab: decode activity payload: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanCollaboration(row pgx.Row) (*Collaboration, error) {
	var (
		c      Collaboration
		status string
		scheme string
		reason *string
	)
	if err := row.Scan(
		&c.ID,
		&c.PostReference,
		&c.OwnerID,
		&c.InitiatorID,
		&status,
		&scheme,
		&c.Plan.Percentage,
		&c.Plan.Amount,
		&c.Contract.Text,
		&c.Contract.AdditionalTerms,
		&c.Contract.OwnerSigned,
		&c.Contract.OwnerSignedAt,
		&c.Contract.CollaboratorSigned,
		&c.Contract.CollaboratorSignedAt,
		&c.Contract.ModifiedSinceSigning,
		&reason,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errNotFound("collaboration not found")
		}
		return nil, fmt.Errorf("collab: scan collaboration: %w", err)
	}
	c.Status = Status(status)
	c.Plan.Scheme = compensation.Scheme(scheme)
	if reason != nil {
		r := CompletionReason(*reason)
		c.CompletionReason = &r
	}
	return &c, nil
}
