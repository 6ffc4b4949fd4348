package queue

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	if len(catalog.TimeWindows) != 14 {
		t.Fatalf("expected 14 windows, got %d", len(catalog.TimeWindows))
	}
	for _, window := range catalog.TimeWindows {
		if !ValidTimeWindow(window) {
			t.Fatalf("default window %s is invalid", window)
		}
	}
	if catalog.HasWindow("12:00-12:30") {
		t.Fatalf("lunch break must not be bookable")
	}
	if got := catalog.ChecklistFor("add-drop"); got.Name != "Add/Drop Subjects" {
		t.Fatalf("unexpected checklist %s", got.Name)
	}
	if got := catalog.ChecklistFor("unknown-key"); got.Name != "General Visit" {
		t.Fatalf("expected default checklist, got %s", got.Name)
	}
}

func TestValidTimeWindow(t *testing.T) {
	valid := []string{"08:00-08:30", "23:00-23:59"}
	invalid := []string{"", "8:00-8:30", "08:30-08:00", "08:00-08:00", "24:00-24:30", "08:00 - 08:30"}
	for _, window := range valid {
		if !ValidTimeWindow(window) {
			t.Fatalf("expected %q valid", window)
		}
	}
	for _, window := range invalid {
		if ValidTimeWindow(window) {
			t.Fatalf("expected %q invalid", window)
		}
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `time_windows:
  - "07:30-08:00"
  - "08:00-08:30"
checklists:
  add-drop:
    name: Add/Drop
    items:
      - Signed form
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(catalog.TimeWindows) != 2 || !catalog.HasWindow("07:30-08:00") {
		t.Fatalf("expected overridden windows, got %v", catalog.TimeWindows)
	}
	if got := catalog.ChecklistFor("add-drop"); got.Name != "Add/Drop" || len(got.Items) != 1 {
		t.Fatalf("expected overridden checklist, got %+v", got)
	}
	if got := catalog.ChecklistFor("pickup-doc"); got.Name != "Pick up a Document" {
		t.Fatalf("expected default checklist to remain, got %+v", got)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("time_windows: [\"09:00-08:00\"]\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadCatalog(bad); err == nil {
		t.Fatalf("expected invalid window error")
	}

	if catalog, err := LoadCatalog(""); err != nil || len(catalog.TimeWindows) != 14 {
		t.Fatalf("empty path must return defaults: %v", err)
	}
}
