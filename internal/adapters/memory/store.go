package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/ports"
)

// Store is an in-memory implementation of every repository port. It backs
// local runs without a database and the service-level tests. A single mutex
// makes the decision write one atomic unit, mirroring the transaction the
// postgres adapter uses.
type Store struct {
	mu        sync.Mutex
	entities  map[string]domain.Entity
	evidence  map[string]map[domain.EvidenceCategory]domain.EvidenceItem
	health    map[string][]domain.HealthRecord
	actors    map[string]domain.Actor
	tokens    map[string]domain.OverrideToken
	decisions []domain.Decision
	jobs      []memJob
}

type memJob struct {
	id       string
	entityID string
	status   string
	reason   string
}

func NewStore() *Store {
	return &Store{
		entities: make(map[string]domain.Entity),
		evidence: make(map[string]map[domain.EvidenceCategory]domain.EvidenceItem),
		health:   make(map[string][]domain.HealthRecord),
		actors:   make(map[string]domain.Actor),
		tokens:   make(map[string]domain.OverrideToken),
	}
}

// EntityRepository

func (s *Store) CreateEntity(ctx context.Context, e domain.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[e.ID]; exists {
		return fmt.Errorf("entity %s already exists", e.ID)
	}
	s.entities[e.ID] = e
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return domain.Entity{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// EvidenceRepository

func (s *Store) UpsertEvidence(ctx context.Context, item domain.EvidenceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCat, ok := s.evidence[item.EntityID]
	if !ok {
		byCat = make(map[domain.EvidenceCategory]domain.EvidenceItem)
		s.evidence[item.EntityID] = byCat
	}
	byCat[item.Category] = item
	return nil
}

func (s *Store) ListEvidence(ctx context.Context, entityID string) ([]domain.EvidenceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EvidenceItem
	for _, cat := range domain.Categories() {
		if item, ok := s.evidence[entityID][cat]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// HealthRepository

func (s *Store) AppendHealth(ctx context.Context, rec domain.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[rec.EntityID] = append(s.health[rec.EntityID], rec)
	return nil
}

func (s *Store) LatestHealth(ctx context.Context, entityID string) (domain.HealthRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.health[entityID]
	if len(recs) == 0 {
		return domain.HealthRecord{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

// ActorRepository

func (s *Store) UpsertActor(ctx context.Context, a domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[a.ID] = a
	return nil
}

func (s *Store) GetActor(ctx context.Context, id string) (domain.Actor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	return a, ok, nil
}

// TokenRepository

func (s *Store) CreateToken(ctx context.Context, t domain.OverrideToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[t.ID]; exists {
		return fmt.Errorf("token %s already exists", t.ID)
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) GetToken(ctx context.Context, id string) (domain.OverrideToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return domain.OverrideToken{}, fmt.Errorf("token %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (s *Store) TransitionToken(ctx context.Context, id string, from, to domain.TokenState, approverID string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("token %s: %w", id, domain.ErrNotFound)
	}
	if t.State != from || !domain.CanTransition(from, to) {
		return fmt.Errorf("token %s %s->%s: %w", id, t.State, to, domain.ErrInvalidTransition)
	}
	t.State = to
	if approverID != "" {
		t.ApproverID = approverID
	}
	if to == domain.TokenApproved {
		now := time.Now().UTC()
		t.ApprovedAt = &now
		t.ExpiresAt = expiresAt
	}
	s.tokens[id] = t
	return nil
}

// LedgerRepository

func (s *Store) ListDecisions(ctx context.Context, entityID, cursor string, limit int) ([]domain.Decision, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest first; the cursor is the id of the last decision on the
	// previous page. Appends never reorder earlier entries, so a cursor
	// always resumes at the same point.
	var page []domain.Decision
	started := cursor == ""
	for i := len(s.decisions) - 1; i >= 0; i-- {
		d := s.decisions[i]
		if d.EntityID != entityID {
			continue
		}
		if !started {
			if d.ID == cursor {
				started = true
			}
			continue
		}
		if len(page) == limit {
			return page, page[len(page)-1].ID, nil
		}
		page = append(page, copyDecision(d))
	}
	return page, "", nil
}

func (s *Store) LatestRequiresOverride(ctx context.Context, entityID string, action domain.Action) (domain.Decision, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.decisions) - 1; i >= 0; i-- {
		d := s.decisions[i]
		if d.EntityID == entityID && d.Action == action && d.Outcome == domain.OutcomeRequiresOverride {
			return copyDecision(d), true, nil
		}
	}
	return domain.Decision{}, false, nil
}

// DecisionWriter

func (s *Store) Apply(ctx context.Context, change ports.DecisionChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching anything: all or nothing.
	var entity domain.Entity
	if change.Entity != nil {
		var ok bool
		entity, ok = s.entities[change.Entity.ID]
		if !ok {
			return fmt.Errorf("entity %s: %w", change.Entity.ID, domain.ErrNotFound)
		}
		if entity.Version != change.Entity.ExpectedVersion {
			return fmt.Errorf("entity %s at v%d, expected v%d: %w",
				entity.ID, entity.Version, change.Entity.ExpectedVersion, domain.ErrConcurrentModification)
		}
	}
	var token domain.OverrideToken
	if change.ConsumeTokenID != "" {
		var ok bool
		token, ok = s.tokens[change.ConsumeTokenID]
		if !ok {
			return fmt.Errorf("token %s: %w", change.ConsumeTokenID, domain.ErrOverrideInvalid)
		}
		switch token.EffectiveState(change.ConsumeAt) {
		case domain.TokenApproved:
		case domain.TokenConsumed:
			return fmt.Errorf("token %s: %w", token.ID, domain.ErrTokenAlreadyConsumed)
		case domain.TokenExpired:
			return fmt.Errorf("token %s: %w", token.ID, domain.ErrTokenExpired)
		default:
			return fmt.Errorf("token %s in state %s: %w", token.ID, token.State, domain.ErrOverrideInvalid)
		}
	}

	if change.Entity != nil {
		if change.Entity.SetStage != nil {
			entity.Stage = *change.Entity.SetStage
		}
		if change.Entity.SetFreeze != nil {
			entity.FreezeState = *change.Entity.SetFreeze
			entity.FreezeReason = change.Entity.FreezeReason
		}
		if change.Entity.SetClosedAt != nil {
			entity.ClosedAt = change.Entity.SetClosedAt
		}
		entity.Version++
		entity.UpdatedAt = change.Record.CreatedAt
		s.entities[entity.ID] = entity
	}
	if change.ConsumeTokenID != "" {
		consumedAt := change.ConsumeAt
		token.State = domain.TokenConsumed
		token.ConsumedAt = &consumedAt
		s.tokens[token.ID] = token
	}
	s.decisions = append(s.decisions, copyDecision(change.Record))
	return nil
}

// JobRepository

func (s *Store) Enqueue(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.entityID == entityID && j.status == "queued" {
			return nil
		}
	}
	s.jobs = append(s.jobs, memJob{id: uuid.NewString(), entityID: entityID, status: "queued"})
	return nil
}

func (s *Store) ClaimNext(ctx context.Context) (ports.HealthJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].status == "queued" {
			s.jobs[i].status = "running"
			return ports.HealthJob{ID: s.jobs[i].id, EntityID: s.jobs[i].entityID}, true, nil
		}
	}
	return ports.HealthJob{}, false, nil
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string) error {
	return s.finishJob(jobID, "completed", "")
}

func (s *Store) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.finishJob(jobID, "failed", reason)
}

func (s *Store) finishJob(jobID, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].id == jobID {
			s.jobs[i].status = status
			s.jobs[i].reason = reason
			return nil
		}
	}
	return fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
}

func copyDecision(d domain.Decision) domain.Decision {
	out := d
	out.Snapshot.HealthBlockers = append([]string(nil), d.Snapshot.HealthBlockers...)
	return out
}

