package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Notifier delivers one message to the outside world (email, push, chat).
// Delivery failures are retried by the dispatcher; the lifecycle engine
// never waits on them.
type Notifier interface {
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// LogNotifier is the default sink: it just logs deliveries. Real transports
// plug in behind the same interface.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Deliver(ctx context.Context, topic string, payload []byte) error {
	n.Logger.InfoContext(ctx, "notification delivered", "topic", topic, "payload", json.RawMessage(payload))
	return nil
}

// Dispatcher drains the transactional outbox. Rows are claimed with
// FOR UPDATE SKIP LOCKED so multiple instances can run side by side, and
// dead-lettered once maxAttempts is exhausted.
type Dispatcher struct {
	pool        *pgxpool.Pool
	notifier    Notifier
	logger      *slog.Logger
	batchSize   int
	maxAttempts int
	interval    time.Duration
}

func NewDispatcher(pool *pgxpool.Pool, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Dispatcher{
		pool:        pool,
		notifier:    notifier,
		logger:      logger,
		batchSize:   50,
		maxAttempts: 5,
		interval:    2 * time.Second,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := d.DrainOnce(ctx); err != nil {
				d.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			} else if n > 0 {
				d.logger.DebugContext(ctx, "outbox drained", "messages", n)
			}
		}
	}
}

// DrainOnce claims and delivers one batch of pending messages. Each message
// is settled in its own transaction so one poisoned payload cannot wedge the
// batch.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	delivered := 0
	for i := 0; i < d.batchSize; i++ {
		ok, err := d.dispatchNext(ctx)
		if err != nil {
			return delivered, err
		}
		if !ok {
			break
		}
		delivered++
	}
	return delivered, nil
}

func (d *Dispatcher) dispatchNext(ctx context.Context) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var (
		id       string
		topic    string
		payload  []byte
		attempts int
	)
	const claimSQL = `
SELECT id, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
LIMIT 1
FOR UPDATE SKIP LOCKED
`
	if err := tx.QueryRow(ctx, claimSQL).Scan(&id, &topic, &payload, &attempts); err != nil {
		// No pending rows left.
		return false, nil
	}

	if err := d.notifier.Deliver(ctx, topic, payload); err != nil {
		attempts++
		status := "pending"
		if attempts >= d.maxAttempts {
			status = "dead"
			d.logger.WarnContext(ctx, "outbox message dead-lettered", "id", id, "topic", topic, "attempts", attempts)
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts=$2, status=$3 WHERE id=$1`, id, attempts, status); err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, id); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
