package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dealguard/internal/domain"
)

// EntityRepository

func (db *DB) CreateEntity(ctx context.Context, e domain.Entity) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO entities (id, name, owner_id, stage, freeze_state, freeze_reason, closed_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Name, e.OwnerID, string(e.Stage), string(e.FreezeState), string(e.FreezeReason), e.ClosedAt, e.Version, e.CreatedAt, e.UpdatedAt)
	return err
}

func (db *DB) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	var e domain.Entity
	var stage, freezeState, freezeReason string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, owner_id, stage, freeze_state, freeze_reason, closed_at, version, created_at, updated_at
		FROM entities WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.OwnerID, &stage, &freezeState, &freezeReason, &e.ClosedAt, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entity{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Entity{}, err
	}
	e.Stage = domain.Stage(stage)
	e.FreezeState = domain.FreezeState(freezeState)
	e.FreezeReason = domain.ReasonCode(freezeReason)
	return e, nil
}

// EvidenceRepository

func (db *DB) UpsertEvidence(ctx context.Context, item domain.EvidenceItem) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO evidence_items (entity_id, category, status, justification, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_id, category) DO UPDATE
		SET status = EXCLUDED.status,
		    justification = EXCLUDED.justification,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = EXCLUDED.updated_at
	`, item.EntityID, string(item.Category), string(item.Status), item.Justification, item.UpdatedBy, item.UpdatedAt)
	return err
}

func (db *DB) ListEvidence(ctx context.Context, entityID string) ([]domain.EvidenceItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT entity_id, category, status, justification, updated_by, updated_at
		FROM evidence_items WHERE entity_id = $1 ORDER BY category
	`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EvidenceItem
	for rows.Next() {
		var item domain.EvidenceItem
		var category, status string
		if err := rows.Scan(&item.EntityID, &category, &status, &item.Justification, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.Category = domain.EvidenceCategory(category)
		item.Status = domain.EvidenceStatus(status)
		out = append(out, item)
	}
	return out, rows.Err()
}

// HealthRepository

func (db *DB) AppendHealth(ctx context.Context, rec domain.HealthRecord) error {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return err
	}
	blockers, err := json.Marshal(rec.Blockers)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO health_records (id, entity_id, total, band, components, blockers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.EntityID, rec.Total, string(rec.Band), components, blockers, rec.CreatedAt)
	return err
}

func (db *DB) LatestHealth(ctx context.Context, entityID string) (domain.HealthRecord, bool, error) {
	var rec domain.HealthRecord
	var band string
	var components, blockers []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT id, entity_id, total, band, components, blockers, created_at
		FROM health_records WHERE entity_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, entityID).Scan(&rec.ID, &rec.EntityID, &rec.Total, &band, &components, &blockers, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HealthRecord{}, false, nil
	}
	if err != nil {
		return domain.HealthRecord{}, false, err
	}
	rec.Band = domain.HealthBand(band)
	if err := json.Unmarshal(components, &rec.Components); err != nil {
		return domain.HealthRecord{}, false, err
	}
	if err := json.Unmarshal(blockers, &rec.Blockers); err != nil {
		return domain.HealthRecord{}, false, err
	}
	return rec, true, nil
}

// ActorRepository

func (db *DB) UpsertActor(ctx context.Context, a domain.Actor) error {
	var certUntil any
	if !a.CertificationUntil.IsZero() {
		certUntil = a.CertificationUntil
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO actors (id, name, authority, certification_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    authority = EXCLUDED.authority,
		    certification_until = EXCLUDED.certification_until
	`, a.ID, a.Name, int(a.Authority), certUntil)
	return err
}

func (db *DB) GetActor(ctx context.Context, id string) (domain.Actor, bool, error) {
	var a domain.Actor
	var authority int
	var certUntil *time.Time
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, authority, certification_until FROM actors WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &authority, &certUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Actor{}, false, nil
	}
	if err != nil {
		return domain.Actor{}, false, err
	}
	a.Authority = domain.AuthorityLevel(authority)
	if certUntil != nil {
		a.CertificationUntil = *certUntil
	}
	return a, true, nil
}
