package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/policy"
	"dealguard/internal/ports"
)

// SignalSource produces the signal snapshot for one evaluation.
type SignalSource interface {
	Snapshot(ctx context.Context, entityID, actorID string) (domain.Snapshot, error)
}

// Recorder observes committed decisions, e.g. for metrics. Optional.
type Recorder interface {
	ObserveDecision(action domain.Action, outcome domain.Outcome, reason domain.ReasonCode, elapsed time.Duration)
}

// Service is the single entry point for state-changing actions on a deal.
// It pulls signals, evaluates policy, applies side effects, and appends the
// ledger entry — the latter two as one atomic unit. Nothing here retries
// automatically; a ConcurrentModification is safe for the caller to retry
// from the top because no partial write occurred.
type Service struct {
	entities ports.EntityRepository
	signals  SignalSource
	tokens   ports.TokenRepository
	writer   ports.DecisionWriter
	cfg      policy.Config
	recorder Recorder

	now func() time.Time
}

func New(entities ports.EntityRepository, signals SignalSource, tokens ports.TokenRepository, writer ports.DecisionWriter, cfg policy.Config, recorder Recorder) *Service {
	return &Service{
		entities: entities,
		signals:  signals,
		tokens:   tokens,
		writer:   writer,
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
	}
}

// Authorize evaluates and records one action. The returned decision is the
// ledger entry that was appended; err is non-nil only when no decision could
// be committed at all.
func (s *Service) Authorize(ctx context.Context, action domain.Action, entityID, actorID, overrideTokenID string) (domain.Decision, error) {
	start := s.now()

	entity, err := s.entities.GetEntity(ctx, entityID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("authorize %s on %s: %w", action, entityID, err)
	}
	snap, err := s.signals.Snapshot(ctx, entityID, actorID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("authorize %s on %s: %w", action, entityID, err)
	}

	target := entity.Stage
	if action == domain.ActionAdvanceStage {
		next, ok := entity.Stage.Next()
		if !ok {
			return domain.Decision{}, fmt.Errorf("no stage beyond %s: %w", entity.Stage, domain.ErrInvalidTransition)
		}
		target = next
	}

	verdict := policy.Evaluate(s.cfg, action, target, snap)
	if verdict.Reason == domain.ReasonUnclassified {
		// Catch-all breach is a defect: log loudly, resolve closed.
		log.Printf("policy engine reached no rule: action=%s entity=%s actor=%s", action, entityID, actorID)
	}

	record := domain.Decision{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		Outcome:    verdict.Outcome,
		ReasonCode: verdict.Reason,
		Snapshot:   snap,
		CreatedAt:  s.now().UTC(),
	}

	var change ports.DecisionChange
	switch verdict.Outcome {
	case domain.OutcomeAllowed:
		change = ports.DecisionChange{
			Entity: s.entityChange(entity, action, target),
			Record: record,
		}
	case domain.OutcomeRequiresOverride:
		if overrideTokenID == "" {
			change = ports.DecisionChange{Record: record}
			break
		}
		consume, err := s.validateToken(ctx, overrideTokenID, entityID, action)
		if err != nil {
			return s.recordOverrideFailure(ctx, record, start, err)
		}
		// Proceed as allowed; the original reason stays on the record so the
		// ledger shows what the override excepted.
		record.Outcome = domain.OutcomeAllowed
		record.OverrideTokenID = consume
		change = ports.DecisionChange{
			Entity:         s.entityChange(entity, action, target),
			ConsumeTokenID: consume,
			ConsumeAt:      record.CreatedAt,
			Record:         record,
		}
	case domain.OutcomeDenied:
		change = ports.DecisionChange{Record: record}
		// Specific hard halts freeze the entity pending explicit unfreeze.
		if s.cfg.AutoFreeze(verdict.Reason) && entity.FreezeState != domain.FreezeFrozen && !entity.Closed() {
			frozen := domain.FreezeFrozen
			change.Entity = &ports.EntityChange{
				ID:              entity.ID,
				ExpectedVersion: entity.Version,
				SetFreeze:       &frozen,
				FreezeReason:    verdict.Reason,
			}
		}
	}

	if err := s.writer.Apply(ctx, change); err != nil {
		if change.ConsumeTokenID != "" && isTokenFailure(err) {
			// Lost the consume race or the window closed between validation
			// and commit; nothing was written.
			return s.recordOverrideFailure(ctx, record, start, err)
		}
		return domain.Decision{}, fmt.Errorf("authorize %s on %s: %w", action, entityID, err)
	}
	s.observe(record, start)
	return record, nil
}

// entityChange maps an allowed action to its entity mutation. apply_discount
// records the approval only; the priced artifact lives outside this core.
func (s *Service) entityChange(entity domain.Entity, action domain.Action, target domain.Stage) *ports.EntityChange {
	change := &ports.EntityChange{ID: entity.ID, ExpectedVersion: entity.Version}
	switch action {
	case domain.ActionAdvanceStage:
		stage := target
		change.SetStage = &stage
		if stage == domain.StageClosed {
			closedAt := s.now().UTC()
			change.SetClosedAt = &closedAt
		}
	case domain.ActionFreeze:
		frozen := domain.FreezeFrozen
		change.SetFreeze = &frozen
		change.FreezeReason = domain.ReasonManualFreeze
	case domain.ActionUnfreeze:
		open := domain.FreezeOpen
		change.SetFreeze = &open
	case domain.ActionClose:
		closedAt := s.now().UTC()
		change.SetClosedAt = &closedAt
	default:
		return nil
	}
	return change
}

// validateToken checks that the supplied token matches the action and entity
// and is currently consumable. The authoritative consumption guard runs
// inside the atomic decision write; this pre-check only produces the right
// error for tokens that cannot possibly be consumed.
func (s *Service) validateToken(ctx context.Context, tokenID, entityID string, action domain.Action) (string, error) {
	token, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("token %s: %w", tokenID, domain.ErrOverrideInvalid)
		}
		return "", err
	}
	if token.EntityID != entityID || token.Action != action {
		return "", fmt.Errorf("token %s approved for %s on %s: %w", tokenID, token.Action, token.EntityID, domain.ErrOverrideInvalid)
	}
	switch token.EffectiveState(s.now().UTC()) {
	case domain.TokenApproved:
		return token.ID, nil
	case domain.TokenConsumed:
		return "", fmt.Errorf("token %s: %w", tokenID, domain.ErrTokenAlreadyConsumed)
	case domain.TokenExpired:
		return "", fmt.Errorf("token %s: %w", tokenID, domain.ErrTokenExpired)
	default:
		return "", fmt.Errorf("token %s in state %s: %w", tokenID, token.State, domain.ErrOverrideInvalid)
	}
}

// recordOverrideFailure appends the DENIED/OVERRIDE_INVALID entry for a
// token that could not be consumed. No side effects, token untouched.
func (s *Service) recordOverrideFailure(ctx context.Context, record domain.Decision, start time.Time, cause error) (domain.Decision, error) {
	log.Printf("override rejected: entity=%s action=%s: %v", record.EntityID, record.Action, cause)
	record.Outcome = domain.OutcomeDenied
	record.ReasonCode = domain.ReasonOverrideInvalid
	record.OverrideTokenID = ""
	if err := s.writer.Apply(ctx, ports.DecisionChange{Record: record}); err != nil {
		return domain.Decision{}, fmt.Errorf("record override failure: %w", err)
	}
	s.observe(record, start)
	return record, nil
}

func (s *Service) observe(record domain.Decision, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveDecision(record.Action, record.Outcome, record.ReasonCode, s.now().Sub(start))
	}
}

func isTokenFailure(err error) bool {
	return errors.Is(err, domain.ErrTokenExpired) ||
		errors.Is(err, domain.ErrTokenAlreadyConsumed) ||
		errors.Is(err, domain.ErrOverrideInvalid)
}
