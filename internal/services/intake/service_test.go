package intake

import (
	"context"
	"errors"
	"testing"

	"dealguard/internal/adapters/memory"
	"dealguard/internal/domain"
)

func newService(store *memory.Store) *Service {
	return New(store, store, store, store, store)
}

func TestCreateEntityDefaults(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store)
	ctx := context.Background()

	entity, err := svc.CreateEntity(ctx, "acme renewal", "rep-7")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entity.Stage != domain.StageQualification || entity.FreezeState != domain.FreezeOpen || entity.Version != 1 {
		t.Fatalf("entity = %+v", entity)
	}
	if _, err := svc.CreateEntity(ctx, "   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name err = %v, want ErrInvalidInput", err)
	}
}

func TestAttachEvidenceQueuesRecompute(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store)
	ctx := context.Background()

	entity, err := svc.CreateEntity(ctx, "acme", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	item, err := svc.AttachEvidence(ctx, entity.ID, domain.CategoryBudget, domain.EvidenceConfirmed, "PO attached", "rep-7")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if item.UpdatedBy != "rep-7" {
		t.Fatalf("item = %+v", item)
	}

	job, found, err := store.ClaimNext(ctx)
	if err != nil || !found {
		t.Fatalf("no recompute job queued: found=%v err=%v", found, err)
	}
	if job.EntityID != entity.ID {
		t.Fatalf("job entity = %s", job.EntityID)
	}
}

func TestAttachEvidenceValidation(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store)
	ctx := context.Background()
	entity, _ := svc.CreateEntity(ctx, "acme", "")

	if _, err := svc.AttachEvidence(ctx, entity.ID, "vibes", domain.EvidenceConfirmed, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad category err = %v", err)
	}
	if _, err := svc.AttachEvidence(ctx, entity.ID, domain.CategoryBudget, "solid", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status err = %v", err)
	}
	if _, err := svc.AttachEvidence(ctx, "ghost", domain.CategoryBudget, domain.EvidenceConfirmed, "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ghost entity err = %v", err)
	}
}

func TestRecordHealthDerivesBand(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store)
	ctx := context.Background()
	entity, _ := svc.CreateEntity(ctx, "acme", "")

	rec, err := svc.RecordHealth(ctx, entity.ID, 42, map[string]int{"engagement": 42}, nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Band != domain.BandRed {
		t.Fatalf("band = %s, want RED for 42", rec.Band)
	}
	if _, err := svc.RecordHealth(ctx, entity.ID, 101, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("out-of-range err = %v", err)
	}
}

func TestUpsertActorValidation(t *testing.T) {
	svc := newService(memory.NewStore())
	ctx := context.Background()

	if err := svc.UpsertActor(ctx, domain.Actor{ID: "a1", Authority: domain.AuthorityVP}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := svc.UpsertActor(ctx, domain.Actor{Authority: domain.AuthorityVP}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank id err = %v", err)
	}
	if err := svc.UpsertActor(ctx, domain.Actor{ID: "a2", Authority: 7}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad authority err = %v", err)
	}
}
