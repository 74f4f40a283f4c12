package override

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealguard/internal/adapters/memory"
	"dealguard/internal/domain"
	"dealguard/internal/policy"
	"dealguard/internal/ports"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	err := store.CreateEntity(ctx, domain.Entity{
		ID: "d1", Name: "acme", Stage: domain.StageQualification,
		FreezeState: domain.FreezeOpen, Version: 1,
	})
	if err != nil {
		t.Fatalf("seed entity: %v", err)
	}
	for _, a := range []domain.Actor{
		{ID: "rep", Authority: domain.AuthorityRep},
		{ID: "manager", Authority: domain.AuthorityManager},
		{ID: "director", Authority: domain.AuthorityDirector},
	} {
		if err := store.UpsertActor(ctx, a); err != nil {
			t.Fatalf("seed actor: %v", err)
		}
	}
	return store
}

func seedDenial(t *testing.T, store *memory.Store, action domain.Action, reason domain.ReasonCode) {
	t.Helper()
	err := store.Apply(context.Background(), ports.DecisionChange{
		Record: domain.Decision{
			ID: "dec1", EntityID: "d1", ActorID: "rep", Action: action,
			Outcome: domain.OutcomeRequiresOverride, ReasonCode: reason,
			CreatedAt: time.Now().UTC(),
		},
	})
	if err != nil {
		t.Fatalf("seed denial: %v", err)
	}
}

func newService(store *memory.Store) *Service {
	return New(store, store, store, store, policy.Default())
}

func TestRequestNeedsJustification(t *testing.T) {
	svc := newService(seedStore(t))
	if _, err := svc.Request(context.Background(), "rep", "d1", domain.ActionAdvanceStage, "  "); !errors.Is(err, ErrJustificationRequired) {
		t.Fatalf("err = %v, want ErrJustificationRequired", err)
	}
}

func TestRequestNeedsPendingDenial(t *testing.T) {
	svc := newService(seedStore(t))
	_, err := svc.Request(context.Background(), "rep", "d1", domain.ActionAdvanceStage, "pilot expansion")
	if !errors.Is(err, domain.ErrOverrideInvalid) {
		t.Fatalf("err = %v, want ErrOverrideInvalid", err)
	}
}

func TestRequestApproveRoundTrip(t *testing.T) {
	store := seedStore(t)
	seedDenial(t, store, domain.ActionAdvanceStage, domain.ReasonQualificationBelow)
	svc := newService(store)
	ctx := context.Background()

	token, err := svc.Request(ctx, "rep", "d1", domain.ActionAdvanceStage, "exec sponsor confirmed verbally")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token.State != domain.TokenRequested {
		t.Fatalf("state = %s, want REQUESTED", token.State)
	}
	if token.DenialReason != domain.ReasonQualificationBelow {
		t.Fatalf("denial reason = %s", token.DenialReason)
	}
	if token.RequiredAuthority != domain.AuthorityManager {
		t.Fatalf("required authority = %d, want manager", token.RequiredAuthority)
	}

	approved, err := svc.Approve(ctx, token.ID, "director")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.State != domain.TokenApproved || approved.ApproverID != "director" {
		t.Fatalf("approved = %+v", approved)
	}
	if approved.ExpiresAt == nil {
		t.Fatalf("approval must set an expiry")
	}
	wantExpiry := approved.ApprovedAt.Add(policy.Default().Window())
	if !approved.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expiry = %v, want %v", approved.ExpiresAt, wantExpiry)
	}
}

func TestApproveRequiresStrictlyHigherAuthority(t *testing.T) {
	store := seedStore(t)
	seedDenial(t, store, domain.ActionAdvanceStage, domain.ReasonQualificationBelow)
	svc := newService(store)
	ctx := context.Background()

	token, err := svc.Request(ctx, "rep", "d1", domain.ActionAdvanceStage, "big quarter")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	// Manager equals the required level; equality is not enough.
	if _, err := svc.Approve(ctx, token.ID, "manager"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("peer approval err = %v, want ErrInvalidTransition", err)
	}
	// Unknown approvers fail closed.
	if _, err := svc.Approve(ctx, token.ID, "ghost"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("unknown approver err = %v, want ErrInvalidTransition", err)
	}
	// The failed attempts must not have moved the token.
	got, err := svc.Get(ctx, token.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TokenRequested {
		t.Fatalf("state after rejected approvals = %s, want REQUESTED", got.State)
	}
}

func TestDenyIsTerminal(t *testing.T) {
	store := seedStore(t)
	seedDenial(t, store, domain.ActionAdvanceStage, domain.ReasonQualificationBelow)
	svc := newService(store)
	ctx := context.Background()

	token, err := svc.Request(ctx, "rep", "d1", domain.ActionAdvanceStage, "worth a shot")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	denied, err := svc.Deny(ctx, token.ID, "director")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if denied.State != domain.TokenDenied {
		t.Fatalf("state = %s, want DENIED", denied.State)
	}
	if _, err := svc.Approve(ctx, token.ID, "director"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approve after deny err = %v, want ErrInvalidTransition", err)
	}
}

func TestGetAppliesLazyExpiry(t *testing.T) {
	store := seedStore(t)
	seedDenial(t, store, domain.ActionAdvanceStage, domain.ReasonQualificationBelow)
	svc := newService(store)
	ctx := context.Background()

	token, err := svc.Request(ctx, "rep", "d1", domain.ActionAdvanceStage, "renewal at risk")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Approve(ctx, token.ID, "director"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Read the token from past the end of its window.
	svc.now = func() time.Time { return time.Now().Add(policy.Default().Window() + time.Minute) }
	got, err := svc.Get(ctx, token.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TokenExpired {
		t.Fatalf("state past window = %s, want EXPIRED", got.State)
	}
}
