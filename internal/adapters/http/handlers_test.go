package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dealguard/internal/adapters/memory"
	"dealguard/internal/domain"
	"dealguard/internal/policy"
	"dealguard/internal/services/gateway"
	"dealguard/internal/services/intake"
	"dealguard/internal/services/ledger"
	"dealguard/internal/services/override"
	"dealguard/internal/services/signals"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	cfg := policy.Default()
	srv := &Server{
		Intake:    intake.New(store, store, store, store, store),
		Gateway:   gateway.New(store, signals.New(store, store, store, store, cfg), store, store, cfg, nil),
		Overrides: override.New(store, store, store, store, cfg),
		Ledger:    ledger.New(store, store),
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func TestEntityLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, ts.URL+"/entities", map[string]any{
		"name": "acme renewal", "owner_id": "rep-7",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	id, _ := created["id"].(string)
	if id == "" || created["stage"] != "qualification" {
		t.Fatalf("created = %v", created)
	}

	resp, fetched := doJSON(t, http.MethodGet, ts.URL+"/entities/"+id, nil)
	if resp.StatusCode != http.StatusOK || fetched["name"] != "acme renewal" {
		t.Fatalf("get = %d %v", resp.StatusCode, fetched)
	}

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/entities/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing entity status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/entities", map[string]any{"name": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank name status = %d", resp.StatusCode)
	}
}

func TestEvidenceValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	_, created := doJSON(t, http.MethodPost, ts.URL+"/entities", map[string]any{"name": "deal"})
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/entities/"+id+"/evidence", map[string]any{
		"category": "budget", "status": "confirmed", "actor_id": "rep-7",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attach status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/entities/"+id+"/evidence", map[string]any{
		"category": "vibes", "status": "confirmed",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad category status = %d", resp.StatusCode)
	}

	resp, listed := doJSON(t, http.MethodGet, ts.URL+"/entities/"+id+"/evidence", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	items, _ := listed["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", listed)
	}
}

func TestAuthorizeAndLedger(t *testing.T) {
	ts, store := newTestServer(t)
	_, created := doJSON(t, http.MethodPost, ts.URL+"/entities", map[string]any{"name": "deal"})
	id := created["id"].(string)

	err := store.AppendHealth(context.Background(), domain.HealthRecord{
		ID: "h1", EntityID: id, Total: 60, Band: domain.BandYellow, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed health: %v", err)
	}

	// Uncertified unknown actor, zero evidence: the gateway records the
	// escalation instead of moving the deal.
	resp, decision := doJSON(t, http.MethodPost, ts.URL+"/authorize", map[string]any{
		"action": "advance_stage", "entity_id": id, "actor_id": "rep-7",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authorize status = %d", resp.StatusCode)
	}
	if decision["outcome"] != string(domain.OutcomeRequiresOverride) {
		t.Fatalf("outcome = %v", decision["outcome"])
	}

	resp, page := doJSON(t, http.MethodGet, ts.URL+"/entities/"+id+"/decisions?limit=10", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ledger status = %d", resp.StatusCode)
	}
	decisions, _ := page["decisions"].([]any)
	if len(decisions) != 1 {
		t.Fatalf("ledger = %v", page)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/authorize", map[string]any{
		"action": "advance_stage", "actor_id": "rep-7",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing entity_id status = %d", resp.StatusCode)
	}
}

func TestOverrideWorkflowOverHTTP(t *testing.T) {
	ts, store := newTestServer(t)
	ctx := context.Background()
	_, created := doJSON(t, http.MethodPost, ts.URL+"/entities", map[string]any{"name": "deal"})
	id := created["id"].(string)

	err := store.AppendHealth(ctx, domain.HealthRecord{
		ID: "h1", EntityID: id, Total: 60, Band: domain.BandYellow, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed health: %v", err)
	}
	resp, _ := doJSON(t, http.MethodPut, ts.URL+"/actors/director-1", map[string]any{
		"name": "Sam", "authority": int(domain.AuthorityDirector),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert actor status = %d", resp.StatusCode)
	}

	// Produce the pending escalation, then walk the token through approval.
	doJSON(t, http.MethodPost, ts.URL+"/authorize", map[string]any{
		"action": "advance_stage", "entity_id": id, "actor_id": "rep-7",
	})
	resp, token := doJSON(t, http.MethodPost, ts.URL+"/overrides", map[string]any{
		"actor_id": "rep-7", "entity_id": id, "action": "advance_stage",
		"justification": "sponsor confirmed in QBR",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("request override status = %d %v", resp.StatusCode, token)
	}
	tokenID := token["id"].(string)

	resp, approved := doJSON(t, http.MethodPost, fmt.Sprintf("%s/overrides/%s/approve", ts.URL, tokenID), map[string]any{
		"approver_id": "director-1",
	})
	if resp.StatusCode != http.StatusOK || approved["state"] != string(domain.TokenApproved) {
		t.Fatalf("approve = %d %v", resp.StatusCode, approved)
	}

	resp, decision := doJSON(t, http.MethodPost, ts.URL+"/authorize", map[string]any{
		"action": "advance_stage", "entity_id": id, "actor_id": "rep-7",
		"override_token_id": tokenID,
	})
	if resp.StatusCode != http.StatusOK || decision["outcome"] != string(domain.OutcomeAllowed) {
		t.Fatalf("authorize with token = %d %v", resp.StatusCode, decision)
	}

	resp, got := doJSON(t, http.MethodGet, ts.URL+"/overrides/"+tokenID, nil)
	if resp.StatusCode != http.StatusOK || got["state"] != string(domain.TokenConsumed) {
		t.Fatalf("token after consume = %d %v", resp.StatusCode, got)
	}

	// A consumed token cannot be approved again.
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/overrides/%s/approve", ts.URL, tokenID), map[string]any{
		"approver_id": "director-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-approve status = %d, want 409", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
}
