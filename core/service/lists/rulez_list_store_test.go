package lists

import (
	"os"
	"path/filepath"
	"testing"

	"mailrulez/config"
)

func testStore(t *testing.T) (*Store, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:    dir,
		ListsDir:   filepath.Join(dir, "lists"),
		ConfigDir:  filepath.Join(dir, "config"),
		BackupsDir: filepath.Join(dir, "backups"),
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs failed: %v", err)
	}
	return NewStore(cfg), cfg
}

// TestStoreAddAndContains tests add, normalization and membership.
func TestStoreAddAndContains(t *testing.T) {
	s, _ := testStore(t)

	if err := s.Add("white", "  Friend@Example.COM "); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !s.Contains("white", "friend@example.com") {
		t.Error("normalized address not found")
	}
	if !s.Contains("white", "FRIEND@example.com") {
		t.Error("membership must be case insensitive")
	}
	if s.Contains("white", "stranger@example.com") {
		t.Error("unexpected membership")
	}
	if s.Contains("no-such-list", "friend@example.com") {
		t.Error("unknown list must report false")
	}

	// Duplicates are a no-op.
	if err := s.Add("white", "friend@example.com"); err != nil {
		t.Fatalf("duplicate Add failed: %v", err)
	}
	entries, err := s.Load("white")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}

	// Blank adds are ignored.
	if err := s.Add("white", "   "); err != nil {
		t.Fatalf("blank Add failed: %v", err)
	}
	entries, _ = s.Load("white")
	if len(entries) != 1 {
		t.Errorf("blank add changed the list: %v", entries)
	}
}

// TestStoreAddAll tests the batch append used by training folders.
func TestStoreAddAll(t *testing.T) {
	s, _ := testStore(t)
	if err := s.Add("vendor", "ads@shop.com"); err != nil {
		t.Fatal(err)
	}

	added, err := s.AddAll("vendor", []string{"ads@shop.com", "Promo@Other.com", "", "promo@other.com", "new@x.com"})
	if err != nil {
		t.Fatalf("AddAll failed: %v", err)
	}
	if added != 2 {
		t.Errorf("AddAll added %d, want 2", added)
	}
	entries, _ := s.Load("vendor")
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3: %v", len(entries), entries)
	}

	// No new addresses means no rewrite.
	added, err = s.AddAll("vendor", []string{"ads@shop.com"})
	if err != nil || added != 0 {
		t.Errorf("AddAll repeat = %d/%v, want 0/nil", added, err)
	}
}

// TestStoreRemove tests removal and blank cleanup.
func TestStoreRemove(t *testing.T) {
	s, cfg := testStore(t)
	for _, a := range []string{"a@x.com", "b@x.com"} {
		if err := s.Add("black", a); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Remove("black", "A@X.com"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Contains("black", "a@x.com") {
		t.Error("address still present after removal")
	}
	if !s.Contains("black", "b@x.com") {
		t.Error("removal dropped the wrong address")
	}

	// RemoveBlanks rewrites a hand-edited file with gaps and duplicates.
	path := cfg.ListFilePath("black")
	if err := os.WriteFile(path, []byte("b@x.com\n\n\nB@X.COM\nc@x.com\n\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveBlanks("black"); err != nil {
		t.Fatalf("RemoveBlanks failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "b@x.com\nc@x.com\n" {
		t.Errorf("RemoveBlanks wrote %q", string(data))
	}
}

// TestStoreCreateList tests custom list creation and discovery.
func TestStoreCreateList(t *testing.T) {
	s, _ := testStore(t)
	if err := s.CreateList("packages"); err != nil {
		t.Fatalf("CreateList failed: %v", err)
	}

	found := false
	for _, name := range s.All() {
		if name == "packages" {
			found = true
		}
	}
	if !found {
		t.Errorf("created list not discovered: %v", s.All())
	}

	if err := s.Add("packages", "track@ups.com"); err != nil {
		t.Fatalf("Add to created list failed: %v", err)
	}

	if err := s.CreateList("  "); err == nil {
		t.Error("expected error for blank list name")
	}

	// Creating an existing list must not truncate it.
	if err := s.CreateList("packages"); err != nil {
		t.Fatalf("repeat CreateList failed: %v", err)
	}
	if !s.Contains("packages", "track@ups.com") {
		t.Error("repeat CreateList truncated the list")
	}
}

// TestStoreConflicts tests cross-list conflict detection.
func TestStoreConflicts(t *testing.T) {
	s, _ := testStore(t)
	seed := map[string][]string{
		"white":  {"both@x.com", "onlywhite@x.com"},
		"black":  {"both@x.com"},
		"vendor": {"ads@x.com"},
	}
	for list, addrs := range seed {
		for _, a := range addrs {
			if err := s.Add(list, a); err != nil {
				t.Fatal(err)
			}
		}
	}

	conflicts, err := s.Conflicts()
	if err != nil {
		t.Fatalf("Conflicts failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
	}
	names := conflicts["both@x.com"]
	if len(names) != 2 || names[0] != "black" || names[1] != "white" {
		t.Errorf("conflict lists = %v, want sorted [black white]", names)
	}
}
