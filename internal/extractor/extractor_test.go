package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/services"
	"docprep/internal/unit"
)

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestTree(t *testing.T) layout.Tree {
	t.Helper()
	tree := layout.New(t.TempDir())
	if err := tree.Init(); err != nil {
		t.Fatal(err)
	}
	return tree
}

func newPendingExtractUnit(t *testing.T, tree layout.Tree, name string, files map[string][]byte) *unit.Unit {
	t.Helper()
	dir := filepath.Join(tree.ProcessingArea(1, layout.AreaExtract), "zip", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for fname, content := range files {
		if err := os.WriteFile(filepath.Join(dir, fname), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	u, err := unit.Adopt(dir, layout.MaxCycles)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Transition(lifecycle.StatusClassified1, 1); err != nil {
		t.Fatal(err)
	}
	if err := u.Transition(lifecycle.StatusPendingExtract, 1); err != nil {
		t.Fatal(err)
	}
	if err := u.Save(); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestExecuteNestedArchive(t *testing.T) {
	tree := newTestTree(t)
	inner := buildZip(t, map[string][]byte{"doc.pdf": []byte("%PDF-1.4 test document body")})
	outer := buildZip(t, map[string][]byte{"inner.zip": inner})
	u := newPendingExtractUnit(t, tree, "UNIT_scB", map[string][]byte{"outer.zip": outer})

	x := New(tree, nil, nil, 1, layout.MaxCycles, DefaultOptions())
	if err := x.Prepare(context.Background(), u); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := x.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := u.Manifest.CurrentState(); got != lifecycle.StatusClassified2 {
		t.Fatalf("state = %s, want %s", got, lifecycle.StatusClassified2)
	}
	extracted := filepath.Join(u.Dir, "outer_extracted", "inner_extracted", "doc.pdf")
	if _, err := os.Stat(extracted); err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	for _, gone := range []string{
		filepath.Join(u.Dir, "outer.zip"),
		filepath.Join(u.Dir, "outer_extracted", "inner.zip"),
	} {
		if _, err := os.Stat(gone); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("archive not removed: %s", gone)
		}
	}
	if !u.Manifest.HasSuccessfulOperation("extract") {
		t.Fatal("extract operation not recorded")
	}
	if got := u.Manifest.ExtractedFileCount(); got != 1 {
		t.Fatalf("extracted file count = %d, want 1", got)
	}
}

func TestExecuteFinalCycleMergesProcessed(t *testing.T) {
	tree := newTestTree(t)
	payload := buildZip(t, map[string][]byte{"doc.pdf": []byte("%PDF-1.4 body")})
	u := newPendingExtractUnit(t, tree, "UNIT_c3", map[string][]byte{"bundle.zip": payload})

	x := New(tree, nil, nil, layout.MaxCycles, layout.MaxCycles, DefaultOptions())
	if err := x.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := u.Manifest.CurrentState(); got != lifecycle.StatusMergedProcessed {
		t.Fatalf("state = %s, want %s", got, lifecycle.StatusMergedProcessed)
	}
	if !strings.HasPrefix(u.Dir, tree.MergeProcessed(layout.MaxCycles)) {
		t.Fatalf("unit not relocated to processed merge tree: %s", u.Dir)
	}
}

func TestExecuteSizeCeilingQuarantines(t *testing.T) {
	tree := newTestTree(t)
	bomb := buildZip(t, map[string][]byte{
		"a.bin": bytes.Repeat([]byte{'a'}, 500),
		"b.bin": bytes.Repeat([]byte{'b'}, 500),
	})
	u := newPendingExtractUnit(t, tree, "UNIT_scC", map[string][]byte{"bomb.zip": bomb})

	opts := DefaultOptions()
	opts.MaxUnpackBytes = 600
	x := New(tree, nil, nil, 1, layout.MaxCycles, opts)

	err := x.Execute(context.Background(), u)
	if !errors.Is(err, services.ErrQuarantine) {
		t.Fatalf("expected quarantine, got %v", err)
	}
	if got := services.ExceptionReason(err); got != services.ReasonZipBomb {
		t.Fatalf("reason = %s, want %s", got, services.ReasonZipBomb)
	}
	if !strings.Contains(err.Error(), "size") {
		t.Fatalf("violation should cite the size ceiling: %v", err)
	}
	last, ok := u.Manifest.LastOperation("extract")
	if !ok || last.Status != "quarantined" {
		t.Fatalf("quarantine not recorded: %+v", last)
	}
}

func TestExecuteCountCeilingQuarantines(t *testing.T) {
	tree := newTestTree(t)
	bomb := buildZip(t, map[string][]byte{
		"a.txt": []byte("aaaa"),
		"b.txt": []byte("bbbb"),
		"c.txt": []byte("cccc"),
	})
	u := newPendingExtractUnit(t, tree, "UNIT_count", map[string][]byte{"bomb.zip": bomb})

	opts := DefaultOptions()
	opts.MaxFiles = 2
	x := New(tree, nil, nil, 1, layout.MaxCycles, opts)

	err := x.Execute(context.Background(), u)
	if !errors.Is(err, services.ErrQuarantine) {
		t.Fatalf("expected quarantine, got %v", err)
	}
	if !strings.Contains(err.Error(), "count") {
		t.Fatalf("violation should cite the member count ceiling: %v", err)
	}
}

func TestExecuteSizeCheckedBeforeCount(t *testing.T) {
	tree := newTestTree(t)
	bomb := buildZip(t, map[string][]byte{
		"a.bin": bytes.Repeat([]byte{'a'}, 500),
		"b.bin": bytes.Repeat([]byte{'b'}, 500),
	})
	u := newPendingExtractUnit(t, tree, "UNIT_order", map[string][]byte{"bomb.zip": bomb})

	opts := DefaultOptions()
	opts.MaxUnpackBytes = 100
	opts.MaxFiles = 1
	x := New(tree, nil, nil, 1, layout.MaxCycles, opts)

	err := x.Execute(context.Background(), u)
	if !errors.Is(err, services.ErrQuarantine) {
		t.Fatalf("expected quarantine, got %v", err)
	}
	if !strings.Contains(err.Error(), "size") {
		t.Fatalf("size ceiling must be evaluated first: %v", err)
	}
}

func TestExecuteNoArchives(t *testing.T) {
	tree := newTestTree(t)
	u := newPendingExtractUnit(t, tree, "UNIT_plain", map[string][]byte{"notes.txt": []byte("plain text")})

	x := New(tree, nil, nil, 1, layout.MaxCycles, DefaultOptions())
	err := x.Execute(context.Background(), u)
	if err == nil {
		t.Fatal("expected failure for archive-free unit")
	}
	if got := services.ExceptionReason(err); got != services.ReasonErExtract {
		t.Fatalf("reason = %s, want %s", got, services.ReasonErExtract)
	}
}

func TestExecuteKeepArchives(t *testing.T) {
	tree := newTestTree(t)
	payload := buildZip(t, map[string][]byte{"doc.pdf": []byte("%PDF-1.4 body")})
	u := newPendingExtractUnit(t, tree, "UNIT_keep", map[string][]byte{"bundle.zip": payload})

	opts := DefaultOptions()
	opts.KeepArchives = true
	x := New(tree, nil, nil, 1, layout.MaxCycles, opts)
	if err := x.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(u.Dir, "bundle.zip")); err != nil {
		t.Fatalf("source archive should survive: %v", err)
	}
}

func TestExecuteZeroByteEntriesDiscarded(t *testing.T) {
	tree := newTestTree(t)
	payload := buildZip(t, map[string][]byte{
		"doc.pdf":   []byte("%PDF-1.4 body"),
		"empty.txt": nil,
	})
	u := newPendingExtractUnit(t, tree, "UNIT_zero", map[string][]byte{"bundle.zip": payload})

	x := New(tree, nil, nil, 1, layout.MaxCycles, DefaultOptions())
	if err := x.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(u.Dir, "bundle_extracted", "empty.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("zero-byte entry should be discarded")
	}
	if _, err := os.Stat(filepath.Join(u.Dir, "bundle_extracted", "doc.pdf")); err != nil {
		t.Fatalf("payload missing: %v", err)
	}
}

func TestExecuteZeroByteEntriesDoNotChargeCeiling(t *testing.T) {
	tree := newTestTree(t)
	entries := map[string][]byte{"doc.pdf": []byte("%PDF-1.4 body")}
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		entries[name] = nil
	}
	payload := buildZip(t, entries)
	u := newPendingExtractUnit(t, tree, "UNIT_empties", map[string][]byte{"bundle.zip": payload})

	opts := DefaultOptions()
	opts.MaxFiles = 2
	x := New(tree, nil, nil, 1, layout.MaxCycles, opts)
	if err := x.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(u.Dir, "bundle_extracted", "doc.pdf")); err != nil {
		t.Fatalf("payload missing: %v", err)
	}
}

func TestExecuteSelfReferentialArchiveTerminates(t *testing.T) {
	tree := newTestTree(t)
	inner := buildZip(t, map[string][]byte{"doc.pdf": []byte("%PDF-1.4 body")})
	// Two identical archives share a content hash; the second is skipped.
	outer := buildZip(t, map[string][]byte{"one.zip": inner, "two.zip": inner})
	u := newPendingExtractUnit(t, tree, "UNIT_cycle", map[string][]byte{"outer.zip": outer})

	x := New(tree, nil, nil, 1, layout.MaxCycles, DefaultOptions())
	if err := x.Execute(context.Background(), u); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := u.Manifest.CurrentState(); got != lifecycle.StatusClassified2 {
		t.Fatalf("state = %s, want %s", got, lifecycle.StatusClassified2)
	}
}

func TestPrepareRejectsWrongState(t *testing.T) {
	tree := newTestTree(t)
	dir := filepath.Join(tree.Input(), "UNIT_raw")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	u, err := unit.Adopt(dir, layout.MaxCycles)
	if err != nil {
		t.Fatal(err)
	}

	x := New(tree, nil, nil, 1, layout.MaxCycles, DefaultOptions())
	if err := x.Prepare(context.Background(), u); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
