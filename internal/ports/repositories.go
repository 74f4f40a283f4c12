package ports

import (
	"context"
	"time"

	"dealguard/internal/domain"
)

// Repository ports. Method names are distinct across interfaces so a single
// adapter (postgres DB, memory store) can implement all of them.

// EntityRepository stores deals. Stage and freeze mutations never happen
// here directly; they go through DecisionWriter.Apply.
type EntityRepository interface {
	CreateEntity(ctx context.Context, e domain.Entity) error
	GetEntity(ctx context.Context, id string) (domain.Entity, error)
}

// EvidenceRepository stores qualification evidence. UpsertEvidence
// supersedes the item for (entity, category); items are never deleted.
type EvidenceRepository interface {
	UpsertEvidence(ctx context.Context, item domain.EvidenceItem) error
	ListEvidence(ctx context.Context, entityID string) ([]domain.EvidenceItem, error)
}

// HealthRepository appends immutable health snapshots and reads the latest.
type HealthRepository interface {
	AppendHealth(ctx context.Context, rec domain.HealthRecord) error
	// LatestHealth returns found=false when the entity has no record yet;
	// callers treat that as worst case, not as an error.
	LatestHealth(ctx context.Context, entityID string) (rec domain.HealthRecord, found bool, err error)
}

// ActorRepository stores actor profiles supplied by the surrounding CRM.
type ActorRepository interface {
	UpsertActor(ctx context.Context, a domain.Actor) error
	// GetActor returns found=false for an unknown actor; signal derivation
	// then falls back to the least permissive defaults.
	GetActor(ctx context.Context, id string) (a domain.Actor, found bool, err error)
}

// TokenRepository stores override tokens. TransitionToken is a
// compare-and-swap on the stored state; a lost race surfaces as
// ErrInvalidTransition. Consumption does not go through TransitionToken: it
// is part of the atomic decision write in DecisionWriter.
type TokenRepository interface {
	CreateToken(ctx context.Context, t domain.OverrideToken) error
	GetToken(ctx context.Context, id string) (domain.OverrideToken, error)
	TransitionToken(ctx context.Context, id string, from, to domain.TokenState, approverID string, expiresAt *time.Time) error
}

// LedgerRepository reads the append-only decision ledger. There is
// deliberately no update or delete operation.
type LedgerRepository interface {
	// ListDecisions returns decisions for an entity, most recent first.
	// cursor is an opaque token from a previous page; empty starts at the
	// head. The returned cursor is empty on the last page.
	ListDecisions(ctx context.Context, entityID, cursor string, limit int) (page []domain.Decision, next string, err error)
	// LatestRequiresOverride finds the most recent REQUIRES_OVERRIDE
	// decision for (entity, action), used to anchor an override request to
	// the denial it excepts.
	LatestRequiresOverride(ctx context.Context, entityID string, action domain.Action) (d domain.Decision, found bool, err error)
}

// EntityChange describes the entity mutation side of a decision, guarded by
// the version the decision was computed against.
type EntityChange struct {
	ID              string
	ExpectedVersion int64
	SetStage        *domain.Stage
	SetFreeze       *domain.FreezeState
	FreezeReason    domain.ReasonCode
	SetClosedAt     *time.Time
}

// DecisionChange is the single logical unit a decision commits: an optional
// entity mutation, an optional token consumption, and exactly one ledger
// append. Adapters apply all of it atomically or none of it.
type DecisionChange struct {
	Entity         *EntityChange
	ConsumeTokenID string
	ConsumeAt      time.Time
	Record         domain.Decision
}

// DecisionWriter commits decision changes. Apply returns
// ErrConcurrentModification when the entity version check loses a race, and
// ErrTokenExpired / ErrTokenAlreadyConsumed / ErrOverrideInvalid when the
// token consumption guard fails; in every failure case nothing is written.
type DecisionWriter interface {
	Apply(ctx context.Context, change DecisionChange) error
}
