package healthscorer

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/policy"
	"dealguard/internal/ports"
)

// Processor recomputes an entity's health record from its evidence.
type Processor interface {
	Process(ctx context.Context, entityID string) error
}

// staleAfter is how long an evidence item keeps its full contribution.
const staleAfter = 30 * 24 * time.Hour

// EvidenceProcessor derives a health record from evidence coverage and
// freshness and appends it to the entity's health history.
type EvidenceProcessor struct {
	Evidence ports.EvidenceRepository
	Health   ports.HealthRepository
	Config   policy.Config
	Now      func() time.Time
}

func (p EvidenceProcessor) Process(ctx context.Context, entityID string) error {
	items, err := p.Evidence.ListEvidence(ctx, entityID)
	if err != nil {
		return err
	}
	now := p.Now()
	rec := domain.HealthRecord{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Components: make(map[string]int, len(domain.Categories())),
		CreatedAt:  now.UTC(),
	}
	byCat := make(map[domain.EvidenceCategory]domain.EvidenceItem, len(items))
	for _, item := range items {
		byCat[item.Category] = item
	}
	for _, cat := range domain.Categories() {
		weight := p.Config.Weights[cat]
		item, ok := byCat[cat]
		if !ok {
			rec.Components[string(cat)] = 0
			rec.Blockers = append(rec.Blockers, string(cat))
			continue
		}
		contribution := float64(weight) * item.Status.Multiplier()
		if now.Sub(item.UpdatedAt) > staleAfter {
			contribution /= 2
		}
		rec.Components[string(cat)] = int(contribution)
		rec.Total += int(contribution)
		if item.Status == domain.EvidenceMissing {
			rec.Blockers = append(rec.Blockers, string(cat))
		}
	}
	rec.Band = domain.BandFor(rec.Total)
	return p.Health.AppendHealth(ctx, rec)
}

// Run starts worker goroutines that claim jobs and process them.
func Run(ctx context.Context, repo ports.JobRepository, processor Processor, concurrency int, pollInterval time.Duration) {
	if concurrency < 1 {
		return
	}
	jobsCh := make(chan ports.HealthJob, concurrency)

	// dispatcher loop
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(jobsCh)
				return
			case <-ticker.C:
				for {
					job, found, err := repo.ClaimNext(ctx)
					if err != nil {
						log.Printf("job claim error: %v", err)
						break
					}
					if !found {
						break
					}
					jobsCh <- job
				}
			}
		}
	}()

	// workers
	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			for job := range jobsCh {
				if err := processor.Process(ctx, job.EntityID); err != nil {
					_ = repo.MarkFailed(ctx, job.ID, err.Error())
					log.Printf("worker %d: job %s failed: %v", idx, job.ID, err)
					continue
				}
				if err := repo.MarkCompleted(ctx, job.ID); err != nil {
					log.Printf("worker %d: complete err: %v", idx, err)
				}
			}
		}(i)
	}
}
