package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"docprep/internal/layout"
	"docprep/internal/unit"
)

// ScaffoldUnit creates a unit directory under parent, fills it with the given
// files, and adopts it so a manifest exists. The returned unit is in the RAW
// state; callers transition it as their scenario requires.
func ScaffoldUnit(t testing.TB, parent, name string, files map[string][]byte) *unit.Unit {
	t.Helper()

	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir unit dir: %v", err)
	}
	for fname, content := range files {
		path := filepath.Join(dir, fname)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", fname, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("write %s: %v", fname, err)
		}
	}

	u, err := unit.Adopt(dir, layout.MaxCycles)
	if err != nil {
		t.Fatalf("adopt unit: %v", err)
	}
	if err := u.Save(); err != nil {
		t.Fatalf("save unit: %v", err)
	}
	return u
}

// InitTree creates the full batch directory layout under root and returns it.
func InitTree(t testing.TB, root string) layout.Tree {
	t.Helper()

	tree := layout.New(root)
	if err := tree.Init(); err != nil {
		t.Fatalf("init tree: %v", err)
	}
	return tree
}
