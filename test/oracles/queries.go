package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the SQL invariants checked against the live schema while the
// actors run. Each query must return zero rows.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_no_signature_on_stale_text",
			SQL: `SELECT id, version FROM collaborations
                  WHERE owner_signed AND collaborator_signed AND modified_since_signing`,
		},
		{
			Name: "O2_no_signature_on_empty_contract",
			SQL: `SELECT id FROM collaborations
                  WHERE (owner_signed OR collaborator_signed)
                    AND contract_text = '' AND contract_terms = ''`,
		},
		{
			Name: "O3_activity_seq_gap_free",
			SQL: `WITH seqs AS (
                      SELECT collaboration_id, seq,
                             LAG(seq) OVER (PARTITION BY collaboration_id ORDER BY seq) AS prev
                      FROM activities)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <> prev + 1`,
		},
		{
			Name: "O4_activity_seq_bounded_by_version",
			SQL: `SELECT c.id, c.version, a.max_seq
                  FROM collaborations c
                  JOIN (SELECT collaboration_id, MAX(seq) AS max_seq
                        FROM activities GROUP BY collaboration_id) a
                    ON a.collaboration_id = c.id
                  WHERE a.max_seq > c.version`,
		},
		{
			Name: "O5_step_completion_flag_consistent",
			SQL: `SELECT collaboration_id, step_id FROM collaboration_steps
                  WHERE completed <> (owner_validated AND collaborator_validated)`,
		},
		{
			Name: "O6_canonical_step_count",
			SQL: `SELECT collaboration_id, COUNT(*) FROM collaboration_steps
                  GROUP BY collaboration_id HAVING COUNT(*) <> 10`,
		},
		{
			Name: "O7_completed_requires_reason",
			SQL: `SELECT id FROM collaborations
                  WHERE status = 'completed' AND completion_reason IS NULL`,
		},
		{
			Name: "O8_completed_requires_final_step",
			SQL: `SELECT c.id FROM collaborations c
                  JOIN collaboration_steps s
                    ON s.collaboration_id = c.id AND s.step_id = 'affaire_conclue'
                  WHERE c.status = 'completed' AND NOT s.completed`,
		},
		{
			Name: "O9_outbox_no_stale_pending",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed', 'dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
