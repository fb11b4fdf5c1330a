package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/menusql/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestLogAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id, err := store.Log(ctx, Entry{
		ActorType: ActorUser,
		ActorID:   "10.0.0.1",
		Action:    ActionWriteGenerated,
		Category:  "update_price",
		SessionID: "s1",
		Summary:   "Change the price of the caesar salad to 11.50",
		SQL:       "UPDATE menu_items SET price = 11.50 WHERE location_id = 62;",
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated ID")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Action != ActionWriteGenerated || got.ActorType != ActorUser {
		t.Errorf("got %+v", got)
	}
	if got.Category != "update_price" || got.SessionID != "s1" {
		t.Errorf("got %+v", got)
	}
	if got.SQL == "" {
		t.Error("expected SQL to round-trip")
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestLogDefaultsActor(t *testing.T) {
	store := setupStore(t)
	id, err := store.Log(context.Background(), Entry{Action: ActionRulesReloaded, Summary: "all"})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	got, _ := store.Get(context.Background(), id)
	if got.ActorType != ActorSystem {
		t.Errorf("expected system actor, got %q", got.ActorType)
	}
}

func TestGetNotFound(t *testing.T) {
	store := setupStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2025, 2, 21, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{Action: ActionWriteGenerated, Category: "update_price", SessionID: "s1", Timestamp: base},
		{Action: ActionSessionReset, SessionID: "s1", Timestamp: base.Add(time.Minute)},
		{Action: ActionRulesReloaded, Category: "menu_inquiry", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if _, err := store.Log(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Action != ActionRulesReloaded {
		t.Fatalf("expected newest first, got %+v", all)
	}

	s1, _ := store.Query(ctx, QueryFilter{SessionID: "s1"})
	if len(s1) != 2 {
		t.Errorf("session filter: got %d", len(s1))
	}
	writes, _ := store.Query(ctx, QueryFilter{Action: ActionWriteGenerated})
	if len(writes) != 1 || writes[0].Category != "update_price" {
		t.Errorf("action filter: got %+v", writes)
	}
	since := base.Add(30 * time.Second)
	recent, _ := store.Query(ctx, QueryFilter{Since: &since})
	if len(recent) != 2 {
		t.Errorf("since filter: got %d", len(recent))
	}
	limited, _ := store.Query(ctx, QueryFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit: got %d", len(limited))
	}
}

func TestDeleteBefore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	store.Log(ctx, Entry{Action: ActionSessionReset, Timestamp: old})
	store.Log(ctx, Entry{Action: ActionSessionReset})

	n, err := store.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
}

func TestRoutes(t *testing.T) {
	store := setupStore(t)
	id, _ := store.Log(context.Background(), Entry{Action: ActionSessionReset, SessionID: "s9"})

	r := chi.NewRouter()
	RegisterRoutes(r, store)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/?session_id=s9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var list []Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("got %+v", list)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status %d", rec.Code)
	}
}
