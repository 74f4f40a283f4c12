package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dealguard/internal/ports"
)

// JobRepository

// Enqueue records a health-recompute job for the entity unless one is
// already queued. The partial unique index on (entity_id) WHERE
// status='queued' makes concurrent enqueues collapse into one row.
func (db *DB) Enqueue(ctx context.Context, entityID string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO health_jobs (id, entity_id, status, queued_at)
		VALUES ($1, $2, 'queued', now())
		ON CONFLICT (entity_id) WHERE status = 'queued' DO NOTHING
	`, uuid.NewString(), entityID)
	return err
}

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.HealthJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id, entity_id FROM health_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.EntityID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE health_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
	`, job.ID); err != nil {
		return job, false, err
	}
	return job, true, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE health_jobs SET status='completed', finished_at=now() WHERE id=$1
	`, jobID)
	return err
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE health_jobs SET status='failed', finished_at=now(), failure_reason=$2 WHERE id=$1
	`, jobID, reason)
	return err
}
