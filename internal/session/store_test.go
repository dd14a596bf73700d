package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/store"
)

func openStore(t *testing.T) (*Store, *store.DB) {
	t.Helper()
	db, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "bunnychat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func TestStoreEmpty(t *testing.T) {
	s, _ := openStore(t)

	_, ok, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Load on empty store reported a user")
	}
	if err := s.Clear(context.Background()); err != nil {
		t.Errorf("Clear on empty store: %v", err)
	}
}

func TestStoreSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)

	alice := api.User{ID: 7, FirstName: "Alice", LastName: "Smith", Mobile: "0711111111"}
	if err := s.Save(ctx, alice); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if got != alice {
		t.Errorf("Load = %+v, want %+v", got, alice)
	}

	bob := api.User{ID: 8, FirstName: "Bob", Mobile: "0722222222", Avatar: "0722222222.png"}
	if err := s.Save(ctx, bob); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Load(ctx)
	if got != bob {
		t.Errorf("Save did not overwrite: got %+v", got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Load(ctx); ok {
		t.Error("user still present after Clear")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bunnychat.db")

	db, _, err := store.OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewStore(db).Save(ctx, api.User{ID: 1, FirstName: "A"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, _, err = store.OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	u, ok, err := NewStore(db).Load(ctx)
	if err != nil || !ok || u.ID != 1 {
		t.Errorf("Load after reopen = %+v, %v, %v", u, ok, err)
	}
}

func TestStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	s, db := openStore(t)
	if err := db.PutValue(ctx, UserKey, "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Load(ctx); err == nil {
		t.Error("Load of corrupt value returned no error")
	}
}
