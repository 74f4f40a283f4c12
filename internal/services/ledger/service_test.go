package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dealguard/internal/adapters/memory"
	"dealguard/internal/domain"
	"dealguard/internal/ports"
)

func TestListUnknownEntity(t *testing.T) {
	store := memory.NewStore()
	svc := New(store, store)
	if _, _, err := svc.List(context.Background(), "ghost", "", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListClampsPageSize(t *testing.T) {
	store := memory.NewStore()
	svc := New(store, store)
	ctx := context.Background()

	err := store.CreateEntity(ctx, domain.Entity{
		ID: "d1", Name: "acme", Stage: domain.StageQualification,
		FreezeState: domain.FreezeOpen, Version: 1,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	base := time.Now().UTC()
	for i := 0; i < 60; i++ {
		err := store.Apply(ctx, ports.DecisionChange{
			Record: domain.Decision{
				ID: fmt.Sprintf("dec%02d", i), EntityID: "d1", Action: domain.ActionAdvanceStage,
				Outcome: domain.OutcomeDenied, ReasonCode: domain.ReasonQualificationBelow,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			},
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Zero limit falls back to the default page size.
	page, cursor, err := svc.List(ctx, "d1", "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 50 || cursor == "" {
		t.Fatalf("default page = %d entries, cursor %q", len(page), cursor)
	}
	// An absurd limit is clamped, not honored.
	if page, _, err = svc.List(ctx, "d1", "", 100000); err != nil || len(page) != 60 {
		t.Fatalf("clamped list = %d entries, err %v", len(page), err)
	}
}
