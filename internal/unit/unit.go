package unit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docprep/internal/fileutil"
	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/manifest"
	"docprep/internal/services"
)

// Prefix marks a directory as a unit.
const Prefix = "UNIT_"

// metadataFiles are bookkeeping files excluded from content listings.
var metadataFiles = map[string]struct{}{
	manifest.Filename:       {},
	"docprep.contract.json": {},
	"audit.log.jsonl":       {},
	"metadata.json":         {},
}

// Unit is one document bundle: a directory plus its manifest. A unit exists
// in exactly one filesystem location; ownership transfers at each move.
type Unit struct {
	Dir      string
	Manifest *manifest.Manifest
}

// ID returns the unit identifier.
func (u *Unit) ID() string {
	if u.Manifest != nil && u.Manifest.UnitID != "" {
		return u.Manifest.UnitID
	}
	return filepath.Base(u.Dir)
}

// Load reads an existing unit from its directory.
func Load(dir string) (*Unit, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	return &Unit{Dir: dir, Manifest: m}, nil
}

// Adopt wraps a directory that has no manifest yet, creating one in the RAW
// state. Used by the classifier on first contact.
func Adopt(dir string, maxCycles int) (*Unit, error) {
	m, err := manifest.Load(dir)
	if err == nil {
		return &Unit{Dir: dir, Manifest: m}, nil
	}
	if !errors.Is(err, manifest.ErrNotFound) {
		return nil, err
	}
	m = manifest.New(filepath.Base(dir), maxCycles)
	u := &Unit{Dir: dir, Manifest: m}
	if err := u.Save(); err != nil {
		return nil, err
	}
	return u, nil
}

// Save durably persists the manifest into the unit's current directory.
func (u *Unit) Save() error {
	return manifest.Save(u.Dir, u.Manifest)
}

// Transition validates and applies a state change, persisting the manifest.
// An illegal transition fails naming both states and changes nothing.
func (u *Unit) Transition(to lifecycle.Status, cycle int) error {
	from := u.Manifest.CurrentState()
	if from == to {
		return nil
	}
	if !lifecycle.CanTransition(from, to) {
		return services.Wrap(services.ErrTransition, "unit", "transition",
			fmt.Sprintf("%s -> %s", from, to), nil)
	}
	u.Manifest.AppendState(to, cycle)
	return u.Save()
}

// MoveTo relocates the unit under targetParent, keeping its directory name.
// The manifest is flushed to disk before the move so recovery always finds a
// consistent record at the new location. Empty ancestors of the old location
// are pruned up to the nearest structural root.
func (u *Unit) MoveTo(targetParent string, tree layout.Tree) error {
	if err := u.Save(); err != nil {
		return err
	}

	target := filepath.Join(targetParent, filepath.Base(u.Dir))
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		empty, err := fileutil.IsEmptyDir(target)
		if err != nil {
			return fmt.Errorf("inspect move target: %w", err)
		}
		if !empty {
			return services.Wrap(services.ErrValidation, "unit", "move",
				fmt.Sprintf("target already occupied: %s", target), nil)
		}
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("clear empty target: %w", err)
		}
	}
	if err := os.MkdirAll(targetParent, 0o755); err != nil {
		return fmt.Errorf("create move target parent: %w", err)
	}

	oldDir := u.Dir
	if err := os.Rename(oldDir, target); err != nil {
		// Cross-device moves fall back to staged copy + delete.
		if err := fileutil.SafeMoveDir(oldDir, target); err != nil {
			return fmt.Errorf("move unit %s: %w", u.ID(), err)
		}
	}
	u.Dir = target

	fileutil.PruneEmptyParents(filepath.Dir(oldDir), tree.PruneStop(oldDir))
	return nil
}

// ContentFiles lists the unit's content files (top level, metadata excluded),
// sorted by name.
func (u *Unit) ContentFiles() ([]string, error) {
	entries, err := os.ReadDir(u.Dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, skip := metadataFiles[entry.Name()]; skip {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

// AllContentFiles lists content files recursively, as paths relative to the
// unit directory.
func (u *Unit) AllContentFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(u.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, skip := metadataFiles[d.Name()]; skip {
			return nil
		}
		rel, err := filepath.Rel(u.Dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// DominantExtension returns the most frequent lowercase extension (without
// dot) among the unit's content files; ties break alphabetically.
func (u *Unit) DominantExtension() (string, error) {
	files, err := u.AllContentFiles()
	if err != nil {
		return "", err
	}
	counts := make(map[string]int)
	for _, f := range files {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f), "."))
		if ext == "" {
			continue
		}
		counts[ext]++
	}
	best := ""
	for ext, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && ext < best) {
			best = ext
		}
	}
	return best, nil
}

// Discover finds every unit directory under root, recursively. A directory
// is a unit when its name carries the unit prefix; descent stops there so
// nested extraction folders are never double-counted.
func Discover(root string) ([]string, error) {
	var units []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), Prefix) {
			units = append(units, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(units)
	return units, nil
}
