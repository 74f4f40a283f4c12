package signals

import (
	"context"
	"fmt"
	"time"

	"dealguard/internal/domain"
	"dealguard/internal/policy"
	"dealguard/internal/ports"
)

// Service derives the signal snapshot a policy evaluation runs against.
// Pure read: no side effects. A missing entity is a NotFound error; every
// other missing input degrades to the least permissive value.
type Service struct {
	entities ports.EntityRepository
	evidence ports.EvidenceRepository
	health   ports.HealthRepository
	actors   ports.ActorRepository
	cfg      policy.Config

	now func() time.Time
}

func New(entities ports.EntityRepository, evidence ports.EvidenceRepository, health ports.HealthRepository, actors ports.ActorRepository, cfg policy.Config) *Service {
	return &Service{
		entities: entities,
		evidence: evidence,
		health:   health,
		actors:   actors,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Snapshot assembles the current signals for (entity, actor).
func (s *Service) Snapshot(ctx context.Context, entityID, actorID string) (domain.Snapshot, error) {
	entity, err := s.entities.GetEntity(ctx, entityID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot entity %s: %w", entityID, err)
	}

	items, err := s.evidence.ListEvidence(ctx, entityID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot evidence %s: %w", entityID, err)
	}
	score := Score(s.cfg.Weights, items)

	// No health record yet reads as worst case, never as "no opinion".
	band := domain.BandBlack
	var blockers []string
	if rec, found, err := s.health.LatestHealth(ctx, entityID); err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot health %s: %w", entityID, err)
	} else if found {
		band = rec.Band
		blockers = rec.Blockers
	}

	now := s.now().UTC()
	authority := domain.AuthorityRep
	certValid := false
	if actor, found, err := s.actors.GetActor(ctx, actorID); err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot actor %s: %w", actorID, err)
	} else if found {
		authority = actor.Authority
		certValid = actor.CertificationValid(now)
	}

	return domain.Snapshot{
		EntityID:           entityID,
		QualificationScore: score,
		HealthBand:         band,
		HealthBlockers:     blockers,
		ActorAuthority:     authority,
		CertificationValid: certValid,
		FreezeState:        entity.FreezeState,
		FreezeReason:       entity.FreezeReason,
		EntityClosed:       entity.Closed(),
		Stage:              entity.Stage,
		TakenAt:            now,
	}, nil
}

// Score computes the weighted qualification score from current evidence.
// Categories without an item count as missing. An entity with zero evidence
// scores 0; the result is always within [0, 100] when weights sum to 100.
func Score(weights map[domain.EvidenceCategory]int, items []domain.EvidenceItem) float64 {
	byCategory := make(map[domain.EvidenceCategory]domain.EvidenceStatus, len(items))
	for _, item := range items {
		byCategory[item.Category] = item.Status
	}
	total := 0.0
	for cat, weight := range weights {
		total += float64(weight) * byCategory[cat].Multiplier()
	}
	return total
}
