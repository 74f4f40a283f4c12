package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/ports"
)

// ErrInvalidInput rejects malformed intake payloads.
var ErrInvalidInput = errors.New("invalid input")

// Service handles the CRM-side writes the gateway consumes: deal intake,
// evidence attachment, health snapshots, and actor profiles. Deal stage and
// freeze state are not touchable here; those mutations only flow through
// the gateway.
type Service struct {
	entities ports.EntityRepository
	evidence ports.EvidenceRepository
	health   ports.HealthRepository
	actors   ports.ActorRepository
	jobs     ports.JobRepository // optional; nil disables recompute queueing

	now func() time.Time
}

func New(entities ports.EntityRepository, evidence ports.EvidenceRepository, health ports.HealthRepository, actors ports.ActorRepository, jobs ports.JobRepository) *Service {
	return &Service{
		entities: entities,
		evidence: evidence,
		health:   health,
		actors:   actors,
		jobs:     jobs,
		now:      time.Now,
	}
}

// CreateEntity registers a deal at the first stage, open and unversioned by
// any prior decision.
func (s *Service) CreateEntity(ctx context.Context, name, ownerID string) (domain.Entity, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Entity{}, fmt.Errorf("entity name required: %w", ErrInvalidInput)
	}
	now := s.now().UTC()
	entity := domain.Entity{
		ID:          uuid.NewString(),
		Name:        name,
		OwnerID:     ownerID,
		Stage:       domain.StageQualification,
		FreezeState: domain.FreezeOpen,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.entities.CreateEntity(ctx, entity); err != nil {
		return domain.Entity{}, fmt.Errorf("create entity: %w", err)
	}
	return entity, nil
}

func (s *Service) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	return s.entities.GetEntity(ctx, id)
}

// AttachEvidence supersedes the evidence item for (entity, category) and
// queues a health recompute when a job queue is wired.
func (s *Service) AttachEvidence(ctx context.Context, entityID string, category domain.EvidenceCategory, status domain.EvidenceStatus, justification, actorID string) (domain.EvidenceItem, error) {
	if !category.Valid() {
		return domain.EvidenceItem{}, fmt.Errorf("unknown category %q: %w", category, ErrInvalidInput)
	}
	if !status.Valid() {
		return domain.EvidenceItem{}, fmt.Errorf("unknown status %q: %w", status, ErrInvalidInput)
	}
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return domain.EvidenceItem{}, fmt.Errorf("attach evidence: %w", err)
	}
	item := domain.EvidenceItem{
		EntityID:      entityID,
		Category:      category,
		Status:        status,
		Justification: justification,
		UpdatedBy:     actorID,
		UpdatedAt:     s.now().UTC(),
	}
	if err := s.evidence.UpsertEvidence(ctx, item); err != nil {
		return domain.EvidenceItem{}, fmt.Errorf("attach evidence: %w", err)
	}
	if s.jobs != nil {
		if err := s.jobs.Enqueue(ctx, entityID); err != nil {
			// Recompute is best effort; the evidence write already landed.
			log.Printf("health job enqueue failed for %s: %v", entityID, err)
		}
	}
	return item, nil
}

func (s *Service) ListEvidence(ctx context.Context, entityID string) ([]domain.EvidenceItem, error) {
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	return s.evidence.ListEvidence(ctx, entityID)
}

// RecordHealth appends an immutable health snapshot. The band is always
// derived from the total here; callers cannot claim a friendlier band than
// the number supports.
func (s *Service) RecordHealth(ctx context.Context, entityID string, total int, components map[string]int, blockers []string) (domain.HealthRecord, error) {
	if total < 0 || total > 100 {
		return domain.HealthRecord{}, fmt.Errorf("health total %d out of range: %w", total, ErrInvalidInput)
	}
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return domain.HealthRecord{}, fmt.Errorf("record health: %w", err)
	}
	rec := domain.HealthRecord{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Total:      total,
		Band:       domain.BandFor(total),
		Components: components,
		Blockers:   blockers,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.health.AppendHealth(ctx, rec); err != nil {
		return domain.HealthRecord{}, fmt.Errorf("record health: %w", err)
	}
	return rec, nil
}

// UpsertActor stores the verified actor profile the CRM supplies.
func (s *Service) UpsertActor(ctx context.Context, actor domain.Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("actor id required: %w", ErrInvalidInput)
	}
	if !actor.Authority.Valid() {
		return fmt.Errorf("invalid authority level %d: %w", actor.Authority, ErrInvalidInput)
	}
	return s.actors.UpsertActor(ctx, actor)
}
