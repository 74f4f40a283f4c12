package ports

import "context"

type HealthJob struct {
	ID       string
	EntityID string
}

// JobRepository supports claiming and finishing health-recompute jobs.
type JobRepository interface {
	Enqueue(ctx context.Context, entityID string) error
	ClaimNext(ctx context.Context) (job HealthJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
