package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"dealguard/internal/domain"
	"dealguard/internal/ports"
)

// Apply commits a decision as one transaction: the guarded entity update,
// the conditional token consumption, and the ledger append all land
// together or not at all.
func (db *DB) Apply(ctx context.Context, change ports.DecisionChange) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if change.Entity != nil {
		if err = applyEntityChange(ctx, tx, change.Entity, change.Record.CreatedAt); err != nil {
			return err
		}
	}
	if change.ConsumeTokenID != "" {
		if err = consumeToken(ctx, tx, change.ConsumeTokenID, change.ConsumeAt); err != nil {
			return err
		}
	}
	err = appendDecision(ctx, tx, change.Record)
	return err
}

func applyEntityChange(ctx context.Context, tx pgx.Tx, ec *ports.EntityChange, at time.Time) error {
	var stage, freeze any
	if ec.SetStage != nil {
		stage = string(*ec.SetStage)
	}
	if ec.SetFreeze != nil {
		freeze = string(*ec.SetFreeze)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE entities
		SET stage = COALESCE($3, stage),
		    freeze_state = COALESCE($4, freeze_state),
		    freeze_reason = CASE WHEN $4 IS NULL THEN freeze_reason ELSE $5 END,
		    closed_at = COALESCE($6, closed_at),
		    version = version + 1,
		    updated_at = $7
		WHERE id = $1 AND version = $2
	`, ec.ID, ec.ExpectedVersion, stage, freeze, string(ec.FreezeReason), ec.SetClosedAt, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)`, ec.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("entity %s: %w", ec.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("entity %s moved past v%d: %w", ec.ID, ec.ExpectedVersion, domain.ErrConcurrentModification)
	}
	return nil
}

// consumeToken is the exactly-once guard: the state predicate in the UPDATE
// means that of any number of concurrent consumers, exactly one sees a row.
func consumeToken(ctx context.Context, tx pgx.Tx, tokenID string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE override_tokens
		SET state = 'CONSUMED', consumed_at = $2
		WHERE id = $1 AND state = 'APPROVED' AND expires_at > $2
	`, tokenID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var state string
	var expiresAt *time.Time
	err = tx.QueryRow(ctx, `SELECT state, expires_at FROM override_tokens WHERE id = $1`, tokenID).Scan(&state, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("token %s: %w", tokenID, domain.ErrOverrideInvalid)
	}
	if err != nil {
		return err
	}
	switch domain.TokenState(state) {
	case domain.TokenConsumed:
		return fmt.Errorf("token %s: %w", tokenID, domain.ErrTokenAlreadyConsumed)
	case domain.TokenApproved, domain.TokenExpired:
		return fmt.Errorf("token %s: %w", tokenID, domain.ErrTokenExpired)
	default:
		return fmt.Errorf("token %s in state %s: %w", tokenID, state, domain.ErrOverrideInvalid)
	}
}

func appendDecision(ctx context.Context, tx pgx.Tx, d domain.Decision) error {
	snapshot, err := json.Marshal(d.Snapshot)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO decisions
		(id, entity_id, actor_id, action, outcome, reason_code, snapshot, override_token_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.EntityID, d.ActorID, string(d.Action), string(d.Outcome), string(d.ReasonCode),
		snapshot, nullString(d.OverrideTokenID), d.CreatedAt)
	return err
}

// LedgerRepository

func (db *DB) ListDecisions(ctx context.Context, entityID, cursor string, limit int) ([]domain.Decision, string, error) {
	after, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	var rows pgx.Rows
	if cursor == "" {
		rows, err = db.Pool.Query(ctx, `
			SELECT id, entity_id, actor_id, action, outcome, reason_code, snapshot, override_token_id, created_at
			FROM decisions WHERE entity_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, entityID, limit)
	} else {
		rows, err = db.Pool.Query(ctx, `
			SELECT id, entity_id, actor_id, action, outcome, reason_code, snapshot, override_token_id, created_at
			FROM decisions WHERE entity_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, entityID, after, afterID, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var page []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, "", err
		}
		page = append(page, d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(page) == limit {
		last := page[len(page)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, next, nil
}

func (db *DB) LatestRequiresOverride(ctx context.Context, entityID string, action domain.Action) (domain.Decision, bool, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, entity_id, actor_id, action, outcome, reason_code, snapshot, override_token_id, created_at
		FROM decisions
		WHERE entity_id = $1 AND action = $2 AND outcome = 'REQUIRES_OVERRIDE'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, entityID, string(action))
	d, err := scanDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Decision{}, false, nil
	}
	if err != nil {
		return domain.Decision{}, false, err
	}
	return d, true, nil
}

func scanDecision(row pgx.Row) (domain.Decision, error) {
	var d domain.Decision
	var action, outcome, reason string
	var snapshot []byte
	var tokenID *string
	if err := row.Scan(&d.ID, &d.EntityID, &d.ActorID, &action, &outcome, &reason, &snapshot, &tokenID, &d.CreatedAt); err != nil {
		return domain.Decision{}, err
	}
	d.Action = domain.Action(action)
	d.Outcome = domain.Outcome(outcome)
	d.ReasonCode = domain.ReasonCode(reason)
	if err := json.Unmarshal(snapshot, &d.Snapshot); err != nil {
		return domain.Decision{}, err
	}
	if tokenID != nil {
		d.OverrideTokenID = *tokenID
	}
	return d, nil
}

// Cursor format: base64("<unix-nanos>:<decision-id>"). Opaque to callers;
// keyset pagination keeps it restartable under concurrent appends.
func encodeCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UTC().UnixNano(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("bad cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("bad cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("bad cursor: %w", err)
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
