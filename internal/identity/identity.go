// Package identity is the boundary to the authentication collaborator. The
// engine trusts actor name and role as given facts; this package only persists
// worker profiles as member files so the CLI can resolve a role for a name.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ankittk/taskflow/pkg/models"
)

// MembersDir returns the path to the members directory: <home>/members/.
func MembersDir(home string) string {
	return filepath.Join(home, "members")
}

// MemberPath returns the path to a member file: <home>/members/<name>.yaml.
// Name is sanitized for filesystem (spaces -> _, lowercase for consistency).
func MemberPath(home, name string) string {
	safe := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	if safe == "" {
		safe = "default"
	}
	return filepath.Join(MembersDir(home), safe+".yaml")
}

// LoadWorker loads a worker profile from <home>/members/<name>.yaml.
// Returns (nil, nil) if no profile exists.
func LoadWorker(home, name string) (*models.Worker, error) {
	data, err := os.ReadFile(MemberPath(home, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var w models.Worker
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// SaveWorker writes the worker profile to <home>/members/<name>.yaml.
func SaveWorker(home string, w *models.Worker) error {
	if w.Name == "" {
		return fmt.Errorf("worker name required")
	}
	if !models.ValidRole(w.Role) {
		return fmt.Errorf("unknown role %q", w.Role)
	}
	dir := MembersDir(home)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(w)
	if err != nil {
		return err
	}
	return os.WriteFile(MemberPath(home, w.Name), data, 0o644)
}

// ListWorkers returns all registered worker profiles, sorted by filename.
func ListWorkers(home string) ([]models.Worker, error) {
	entries, err := os.ReadDir(MembersDir(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []models.Worker
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(MembersDir(home), e.Name()))
		if err != nil {
			return nil, err
		}
		var w models.Worker
		if err := yaml.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
