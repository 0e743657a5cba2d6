package idmap

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestPutGet(t *testing.T) {
	m := New()
	if err := m.Put(Files, "3001", "9001"); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok := m.Get(Files, "3001")
	if !ok || got != "9001" {
		t.Fatalf("Get(files, 3001) = %q, %v; want 9001, true", got, ok)
	}
	if _, ok := m.Get(Files, "3002"); ok {
		t.Fatal("Get for unregistered key reported present")
	}
}

func TestPutIdempotent(t *testing.T) {
	m := New()
	if err := m.Put(PagesURL, "welcome", "welcome-2"); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	// Same value again is a no-op (safe re-runs).
	if err := m.Put(PagesURL, "welcome", "welcome-2"); err != nil {
		t.Fatalf("idempotent re-Put returned error: %v", err)
	}
}

func TestPutConflict(t *testing.T) {
	m := New()
	if err := m.Put(Assignments, "55", "910"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := m.Put(Assignments, "55", "911")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Existing != "910" || conflict.Proposed != "911" {
		t.Fatalf("unexpected conflict detail %+v", conflict)
	}
	// The original binding survives.
	if got, _ := m.Get(Assignments, "55"); got != "910" {
		t.Fatalf("binding changed after conflict: %q", got)
	}
}

func TestRequire(t *testing.T) {
	m := New()
	_, err := m.Require(Quizzes, "66")
	if !IsUnresolved(err) {
		t.Fatalf("expected UnresolvedReferenceError, got %v", err)
	}
	if err := m.Put(Quizzes, "66", "920"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := m.Require(Quizzes, "66")
	if err != nil || got != "920" {
		t.Fatalf("Require = %q, %v; want 920, nil", got, err)
	}
}

func TestIntHelpers(t *testing.T) {
	m := New()
	if err := m.PutInt(Discussions, 77, 930); err != nil {
		t.Fatalf("PutInt: %v", err)
	}
	got, ok := m.GetInt(Discussions, 77)
	if !ok || got != 930 {
		t.Fatalf("GetInt = %d, %v; want 930, true", got, ok)
	}
	if _, err := m.RequireInt(Discussions, 78); !IsUnresolved(err) {
		t.Fatalf("RequireInt on absent key: %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := New()
	if err := m.Put(Files, "1", "2"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	snap := m.Snapshot()
	snap[Files]["1"] = "mutated"
	if got, _ := m.Get(Files, "1"); got != "2" {
		t.Fatalf("snapshot mutation leaked into map: %q", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New()
	if err := m.PutInt(Files, 3001, 9001); err != nil {
		t.Fatalf("PutInt: %v", err)
	}
	if err := m.Put(PagesURL, "welcome", "welcome-2"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_map.json")
	if err := m.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got, ok := loaded.GetInt(Files, 3001); !ok || got != 9001 {
		t.Fatalf("loaded files/3001 = %d, %v", got, ok)
	}
	if got, _ := loaded.Get(PagesURL, "welcome"); got != "welcome-2" {
		t.Fatalf("loaded pages_url/welcome = %q", got)
	}
}

func TestSaveWritesNumericValues(t *testing.T) {
	m := New()
	if err := m.PutInt(Files, 3001, 9001); err != nil {
		t.Fatalf("PutInt: %v", err)
	}
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if !strings.Contains(string(data), `"3001":9001`) {
		t.Fatalf("numeric namespace not written as JSON number: %s", data)
	}
}

func TestLoadFileMissing(t *testing.T) {
	m, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFile on missing path: %v", err)
	}
	if m.Len(Files) != 0 {
		t.Fatal("expected empty map for missing file")
	}
}
