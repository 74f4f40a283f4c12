package override

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealguard/internal/domain"
	"dealguard/internal/policy"
	"dealguard/internal/ports"
)

// ErrJustificationRequired rejects override requests without a stated reason.
var ErrJustificationRequired = errors.New("override justification required")

// Service runs the time-bounded exception workflow on top of automatic
// denial. Consumption itself is not here: it only happens inside the
// gateway's atomic decision write.
type Service struct {
	entities ports.EntityRepository
	actors   ports.ActorRepository
	tokens   ports.TokenRepository
	ledger   ports.LedgerRepository
	cfg      policy.Config

	now func() time.Time
}

func New(entities ports.EntityRepository, actors ports.ActorRepository, tokens ports.TokenRepository, ledger ports.LedgerRepository, cfg policy.Config) *Service {
	return &Service{
		entities: entities,
		actors:   actors,
		tokens:   tokens,
		ledger:   ledger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Request opens an exception against the most recent REQUIRES_OVERRIDE
// decision for (entity, action). Without such a decision there is nothing to
// except, and the request is invalid.
func (s *Service) Request(ctx context.Context, actorID, entityID string, action domain.Action, justification string) (domain.OverrideToken, error) {
	if strings.TrimSpace(justification) == "" {
		return domain.OverrideToken{}, ErrJustificationRequired
	}
	if !action.Valid() {
		return domain.OverrideToken{}, fmt.Errorf("request override: unknown action %q: %w", action, domain.ErrOverrideInvalid)
	}
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return domain.OverrideToken{}, fmt.Errorf("request override: %w", err)
	}

	denial, found, err := s.ledger.LatestRequiresOverride(ctx, entityID, action)
	if err != nil {
		return domain.OverrideToken{}, fmt.Errorf("request override: %w", err)
	}
	if !found {
		return domain.OverrideToken{}, fmt.Errorf("no pending denial for %s on %s: %w", action, entityID, domain.ErrOverrideInvalid)
	}

	token := domain.OverrideToken{
		ID:                uuid.NewString(),
		EntityID:          entityID,
		ActorID:           actorID,
		Action:            action,
		Justification:     justification,
		State:             domain.TokenRequested,
		DenialReason:      denial.ReasonCode,
		RequiredAuthority: s.cfg.RequiredApproval(denial.ReasonCode, action),
		RequestedAt:       s.now().UTC(),
	}
	if err := s.tokens.CreateToken(ctx, token); err != nil {
		return domain.OverrideToken{}, fmt.Errorf("request override: %w", err)
	}
	return token, nil
}

// Approve moves REQUESTED -> APPROVED and starts the expiry window. The
// approver's authority must strictly exceed the level the original denial
// demands; a peer cannot approve a manager-level denial.
func (s *Service) Approve(ctx context.Context, tokenID, approverID string) (domain.OverrideToken, error) {
	token, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return domain.OverrideToken{}, fmt.Errorf("approve override: %w", err)
	}
	if token.State != domain.TokenRequested {
		return domain.OverrideToken{}, fmt.Errorf("approve override from %s: %w", token.State, domain.ErrInvalidTransition)
	}
	if err := s.checkApprover(ctx, approverID, token.RequiredAuthority); err != nil {
		return domain.OverrideToken{}, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.Window())
	if err := s.tokens.TransitionToken(ctx, tokenID, domain.TokenRequested, domain.TokenApproved, approverID, &expiresAt); err != nil {
		return domain.OverrideToken{}, fmt.Errorf("approve override: %w", err)
	}
	token.State = domain.TokenApproved
	token.ApproverID = approverID
	token.ApprovedAt = &now
	token.ExpiresAt = &expiresAt
	return token, nil
}

// Deny is terminal; a denied request cannot be revived, only re-requested.
func (s *Service) Deny(ctx context.Context, tokenID, approverID string) (domain.OverrideToken, error) {
	token, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return domain.OverrideToken{}, fmt.Errorf("deny override: %w", err)
	}
	if token.State != domain.TokenRequested {
		return domain.OverrideToken{}, fmt.Errorf("deny override from %s: %w", token.State, domain.ErrInvalidTransition)
	}
	if err := s.checkApprover(ctx, approverID, token.RequiredAuthority); err != nil {
		return domain.OverrideToken{}, err
	}
	if err := s.tokens.TransitionToken(ctx, tokenID, domain.TokenRequested, domain.TokenDenied, approverID, nil); err != nil {
		return domain.OverrideToken{}, fmt.Errorf("deny override: %w", err)
	}
	token.State = domain.TokenDenied
	token.ApproverID = approverID
	return token, nil
}

// Get reads a token with lazy expiry applied: an approved token past its
// window reports EXPIRED regardless of the stored state.
func (s *Service) Get(ctx context.Context, tokenID string) (domain.OverrideToken, error) {
	token, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return domain.OverrideToken{}, err
	}
	token.State = token.EffectiveState(s.now().UTC())
	return token, nil
}

func (s *Service) checkApprover(ctx context.Context, approverID string, required domain.AuthorityLevel) error {
	approver, found, err := s.actors.GetActor(ctx, approverID)
	if err != nil {
		return fmt.Errorf("approver lookup: %w", err)
	}
	// Unknown approver fails closed.
	if !found || approver.Authority <= required {
		return fmt.Errorf("approver %s lacks authority over level %d: %w", approverID, required, domain.ErrInvalidTransition)
	}
	return nil
}
