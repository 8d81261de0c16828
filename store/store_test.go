package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func record(id, name string, updated time.Time) *Record {
	return &Record{
		Summary: Summary{
			ID:        id,
			Name:      name,
			Prompt:    "A courier pilot",
			CreatedAt: updated.Add(-time.Hour),
			UpdatedAt: updated,
		},
		Bundle: []byte("PK\x03\x04" + name),
	}
}

// exercise はどの実装でも同じ振る舞いになることを確かめます。
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	if list, err := s.List(ctx); err != nil || len(list) != 0 {
		t.Fatalf("empty List = %v, %v", list, err)
	}
	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing = %v", err)
	}

	if err := s.Save(ctx, record("a", "Nova", base)); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := s.Save(ctx, record("b", "Vega", base.Add(time.Minute))); err != nil {
		t.Fatalf("Save b: %v", err)
	}

	got, err := s.Load(ctx, "a")
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	if got.Name != "Nova" || !bytes.Equal(got.Bundle, []byte("PK\x03\x04Nova")) || !got.UpdatedAt.Equal(base) {
		t.Errorf("Load a = %+v", got)
	}

	// 上書き保存で更新日時が進み、並び順が変わる
	updated := record("a", "Nova Prime", base.Add(2*time.Minute))
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("Save a again: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[0].Name != "Nova Prime" || list[1].ID != "b" {
		t.Errorf("List = %+v", list)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v", err)
	}
	if list, _ := s.List(ctx); len(list) != 1 {
		t.Errorf("List after delete = %+v", list)
	}
}

func TestFileStore(t *testing.T) {
	s := NewFileStore(t.TempDir())
	exercise(t, s)
}

func TestFileStoreRejectsPathTraversal(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), record("../escape", "x", time.Now())); err == nil {
		t.Fatal("expected error for unsafe id")
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb, "test")
	defer s.Close()
	exercise(t, s)

	if !mr.Exists("test:session:b:bundle") {
		t.Error("bundle key not namespaced by prefix")
	}
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := DialRedis(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatal(err)
	}
	rdb.Close()

	addr := mr.Addr()
	mr.Close()
	if _, err := DialRedis(context.Background(), addr, "", 0); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite("")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteStoreFile(t *testing.T) {
	path := t.TempDir() + "/nested/nexus.db"
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), record("x", "Nova", time.Now())); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.Load(context.Background(), "x"); err != nil {
		t.Errorf("reopen Load: %v", err)
	}
}
