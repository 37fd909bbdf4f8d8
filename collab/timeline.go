package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PGTimeline appends activities to the append-only timeline. Rows are never
// updated or deleted; seq is assigned per collaboration inside the caller's
// transaction, which already holds the aggregate row lock, so it is strictly
// increasing.
type PGTimeline struct{}

func NewTimeline() *PGTimeline {
	return &PGTimeline{}
}

func (t *PGTimeline) Append(ctx context.Context, tx pgx.Tx, collaborationID string, entry Activity) (Activity, error) {
	var payload []byte
	if entry.Payload != nil {
		b, err := json.Marshal(entry.Payload)
		if err != nil {
			return Activity{}, fmt.Errorf("collab: marshal activity payload: %w", err)
		}
		payload = b
	}

	const insertSQL = `
INSERT INTO activities (collaboration_id, seq, kind, message, actor_user_id, payload, created_at)
SELECT $1, COALESCE(MAX(seq),0)+1, $2::activity_kind, $3, $4, $5, $6
FROM activities WHERE collaboration_id=$1
RETURNING id, seq
`
	if err := tx.QueryRow(ctx, insertSQL,
		collaborationID,
		string(entry.Kind),
		entry.Message,
		entry.ActorID,
		payload,
		entry.CreatedAt,
	).Scan(&entry.ID, &entry.Seq); err != nil {
		return Activity{}, fmt.Errorf("collab: insert activity: %w", err)
	}
	return entry, nil
}

// PGOutbox writes notification messages into the transactional outbox. The
// notify dispatcher drains them out of band; no lifecycle operation ever
// blocks on delivery.
type PGOutbox struct{}

func NewOutbox() *PGOutbox {
	return &PGOutbox{}
}

func (o *PGOutbox) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("collab: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, body); err != nil {
		return fmt.Errorf("collab: enqueue outbox: %w", err)
	}
	return nil
}
