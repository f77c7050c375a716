package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryInsertAndFindOne(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Insert(ctx, "crops", Doc{"name": "wheat", "client_id": "c1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	doc, err := m.FindOne(ctx, "crops", ByID(id))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc["name"] != "wheat" {
		t.Fatalf("unexpected doc: %v", doc)
	}

	if _, err := m.FindOne(ctx, "crops", ByID("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.FindOne(ctx, "fields", ByID(id)); !errors.Is(err, ErrNotFound) {
		t.Fatal("collections must not bleed into each other")
	}
}

func TestMemoryInsertKeepsProvidedID(t *testing.T) {
	m := NewMemory()
	id, err := m.Insert(context.Background(), "crops", Doc{IDField: "fixed-id"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id != "fixed-id" {
		t.Fatalf("expected provided id to survive, got %q", id)
	}
}

func TestMemoryFindOrderAndFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, err := m.Insert(ctx, "fields", Doc{"name": name, "client_id": "c1"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := m.Insert(ctx, "fields", Doc{"name": "x", "client_id": "c2"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	docs, err := m.Find(ctx, "fields", Filter{"client_id": "c1"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	// Insertion order is preserved.
	for i, want := range []string{"a", "b", "c"} {
		if docs[i]["name"] != want {
			t.Fatalf("doc %d = %v, want name %q", i, docs[i], want)
		}
	}
}

func TestMemoryFoldMatchesCaseInsensitively(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Insert(ctx, "users", Doc{"user_name": "ACMEadmin"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	doc, err := m.FindOne(ctx, "users", Filter{"user_name": Fold("acmeADMIN")})
	if err != nil {
		t.Fatalf("FindOne with Fold: %v", err)
	}
	if doc["user_name"] != "ACMEadmin" {
		t.Fatalf("unexpected doc: %v", doc)
	}

	// Exact match stays case-sensitive without Fold.
	if _, err := m.FindOne(ctx, "users", Filter{"user_name": "acmeadmin"}); !errors.Is(err, ErrNotFound) {
		t.Fatal("plain string filter must be case-sensitive")
	}
}

func TestMemoryUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Insert(ctx, "crops", Doc{"name": "wheat", "season": "winter"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := m.Update(ctx, "crops", ByID(id), Doc{"season": "spring", IDField: "hijack"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 update, got %d", n)
	}

	doc, err := m.FindOne(ctx, "crops", ByID(id))
	if err != nil {
		t.Fatalf("FindOne after update: %v", err)
	}
	if doc["season"] != "spring" || doc["name"] != "wheat" {
		t.Fatalf("merge semantics broken: %v", doc)
	}
	if doc[IDField] != id {
		t.Fatal("update must never rewrite the id")
	}

	n, err = m.Update(ctx, "crops", ByID("missing"), Doc{"season": "summer"})
	if err != nil || n != 0 {
		t.Fatalf("expected 0 updates for missing doc, got n=%d err=%v", n, err)
	}
}

func TestMemoryDeleteByFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Insert(ctx, "users", Doc{"client_id": "c1"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := m.Insert(ctx, "users", Doc{"client_id": "c2"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := m.Delete(ctx, "users", Filter{"client_id": "c1"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deletions, got %d", n)
	}

	rest, err := m.Find(ctx, "users", Filter{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(rest) != 1 || rest[0]["client_id"] != "c2" {
		t.Fatalf("unexpected survivors: %v", rest)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Insert(ctx, "crops", Doc{"name": "wheat"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	doc, err := m.FindOne(ctx, "crops", ByID(id))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	doc["name"] = "mutated"

	again, err := m.FindOne(ctx, "crops", ByID(id))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if again["name"] != "wheat" {
		t.Fatal("caller mutation leaked into the store")
	}
}
