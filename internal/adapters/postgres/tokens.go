package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dealguard/internal/domain"
)

// TokenRepository

func (db *DB) CreateToken(ctx context.Context, t domain.OverrideToken) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO override_tokens
		(id, entity_id, actor_id, action, justification, state, denial_reason, required_authority, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.EntityID, t.ActorID, string(t.Action), t.Justification, string(t.State),
		string(t.DenialReason), int(t.RequiredAuthority), t.RequestedAt)
	return err
}

func (db *DB) GetToken(ctx context.Context, id string) (domain.OverrideToken, error) {
	var t domain.OverrideToken
	var action, state, denialReason string
	var requiredAuthority int
	var approverID *string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, entity_id, actor_id, action, justification, state, denial_reason,
		       required_authority, approver_id, requested_at, approved_at, expires_at, consumed_at
		FROM override_tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.EntityID, &t.ActorID, &action, &t.Justification, &state, &denialReason,
		&requiredAuthority, &approverID, &t.RequestedAt, &t.ApprovedAt, &t.ExpiresAt, &t.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OverrideToken{}, fmt.Errorf("token %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OverrideToken{}, err
	}
	t.Action = domain.Action(action)
	t.State = domain.TokenState(state)
	t.DenialReason = domain.ReasonCode(denialReason)
	t.RequiredAuthority = domain.AuthorityLevel(requiredAuthority)
	if approverID != nil {
		t.ApproverID = *approverID
	}
	return t, nil
}

// TransitionToken compare-and-swaps the stored state. Zero rows means the
// token either does not exist or is no longer in the expected state.
func (db *DB) TransitionToken(ctx context.Context, id string, from, to domain.TokenState, approverID string, expiresAt *time.Time) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("token %s %s->%s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	var approvedAt any
	if to == domain.TokenApproved {
		approvedAt = time.Now().UTC()
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE override_tokens
		SET state = $3,
		    approver_id = COALESCE($4, approver_id),
		    approved_at = COALESCE($5, approved_at),
		    expires_at = COALESCE($6, expires_at)
		WHERE id = $1 AND state = $2
	`, id, string(from), string(to), nullString(approverID), approvedAt, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := db.Pool.QueryRow(ctx, `SELECT state FROM override_tokens WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("token %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("token %s %s->%s: %w", id, current, to, domain.ErrInvalidTransition)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
