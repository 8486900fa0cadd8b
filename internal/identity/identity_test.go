package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ankittk/taskflow/pkg/models"
)

func TestMembersDir(t *testing.T) {
	t.Parallel()
	got := MembersDir("/home")
	if got != filepath.Join("/home", "members") {
		t.Fatalf("MembersDir: got %q", got)
	}
}

func TestMemberPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		home       string
		name       string
		wantSuffix string
	}{
		{"/home", "ada", "ada.yaml"},
		{"/home", "Ada Byron", "ada_byron.yaml"},
		{"/home", "  default  ", "default.yaml"},
		{"/home", "", "default.yaml"},
	}
	for _, tt := range tests {
		got := MemberPath(tt.home, tt.name)
		if filepath.Base(got) != tt.wantSuffix {
			t.Errorf("MemberPath(%q, %q) base = %q, want %q", tt.home, tt.name, filepath.Base(got), tt.wantSuffix)
		}
	}
}

func TestSaveWorker_LoadWorker(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := &models.Worker{Name: "ada", Role: models.RoleArchitect}
	if err := SaveWorker(dir, w); err != nil {
		t.Fatalf("SaveWorker: %v", err)
	}
	loaded, err := LoadWorker(dir, "ada")
	if err != nil {
		t.Fatalf("LoadWorker: %v", err)
	}
	if loaded == nil || loaded.Name != "ada" || loaded.Role != models.RoleArchitect {
		t.Fatalf("LoadWorker: got %+v", loaded)
	}
}

func TestSaveWorker_invalidRole(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := SaveWorker(dir, &models.Worker{Name: "x", Role: "janitor"}); err == nil {
		t.Fatal("SaveWorker: expected error for unknown role")
	}
	if err := SaveWorker(dir, &models.Worker{Role: models.RoleEngineer}); err == nil {
		t.Fatal("SaveWorker: expected error for missing name")
	}
}

func TestLoadWorker_missingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	loaded, err := LoadWorker(dir, "nonexistent")
	if err != nil {
		t.Fatalf("LoadWorker: %v", err)
	}
	if loaded != nil {
		t.Fatalf("LoadWorker missing file: expected nil, got %+v", loaded)
	}
}

func TestLoadWorker_invalidYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	membersDir := filepath.Join(dir, "members")
	if err := os.MkdirAll(membersDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(membersDir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadWorker(dir, "bad")
	if err == nil {
		t.Fatal("LoadWorker: expected error for invalid YAML")
	}
}

func TestListWorkers(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if got, err := ListWorkers(dir); err != nil || got != nil {
		t.Fatalf("ListWorkers empty: got %v, %v", got, err)
	}

	_ = SaveWorker(dir, &models.Worker{Name: "ada", Role: models.RoleArchitect})
	_ = SaveWorker(dir, &models.Worker{Name: "edgar", Role: models.RoleEngineer})

	got, err := ListWorkers(dir)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(got) != 2 || got[0].Name != "ada" || got[1].Name != "edgar" {
		t.Fatalf("ListWorkers: got %+v", got)
	}
}
