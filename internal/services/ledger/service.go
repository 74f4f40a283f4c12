package ledger

import (
	"context"
	"fmt"

	"dealguard/internal/domain"
	"dealguard/internal/ports"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service exposes the read side of the decision ledger. Writes only happen
// through the gateway's atomic decision commit; there is no mutation path.
type Service struct {
	ledger   ports.LedgerRepository
	entities ports.EntityRepository
}

func New(ledger ports.LedgerRepository, entities ports.EntityRepository) *Service {
	return &Service{ledger: ledger, entities: entities}
}

// List pages decisions for an entity, most recent first. The cursor is
// opaque and restartable: the same cursor always resumes at the same point.
func (s *Service) List(ctx context.Context, entityID, cursor string, limit int) ([]domain.Decision, string, error) {
	if _, err := s.entities.GetEntity(ctx, entityID); err != nil {
		return nil, "", fmt.Errorf("list decisions for %s: %w", entityID, err)
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.ledger.ListDecisions(ctx, entityID, cursor, limit)
}
