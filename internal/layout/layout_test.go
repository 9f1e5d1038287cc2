package layout

import (
	"os"
	"path/filepath"
	"testing"

	"docprep/internal/services"
)

func TestTreePaths(t *testing.T) {
	tree := New("/data/batch")

	if got := tree.Input(); got != filepath.Join("/data/batch", "Input") {
		t.Fatalf("input = %s", got)
	}
	if got := tree.ProcessingArea(2, AreaExtract); got != filepath.Join("/data/batch", "Processing_2", "Extract") {
		t.Fatalf("processing area = %s", got)
	}
	if got := tree.MergeArea(1, OutExtracted, "zip"); got != filepath.Join("/data/batch", "Merge", "Processed_1", "Extracted", "zip") {
		t.Fatalf("merge area = %s", got)
	}
	if got := tree.ExceptionsProcessing(3, services.ReasonErExtract); got != filepath.Join("/data/batch", "Exceptions", "Processing_3", "ErExtract") {
		t.Fatalf("exceptions = %s", got)
	}
	if got := tree.FinalBucket("pdf", "scan"); got != filepath.Join("/data/batch", "Output", "pdf", "scan") {
		t.Fatalf("final bucket = %s", got)
	}
}

func TestCycleClamping(t *testing.T) {
	tree := New("/data/batch")
	if tree.Processing(0) != tree.Processing(1) {
		t.Fatal("cycle below 1 should clamp")
	}
	if tree.MergeProcessed(9) != tree.MergeProcessed(3) {
		t.Fatal("cycle above ceiling should clamp")
	}
}

func TestInitCreatesTree(t *testing.T) {
	root := t.TempDir()
	tree := New(root)
	if err := tree.Init(); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{
		tree.Input(),
		tree.ProcessingArea(1, AreaConvert),
		tree.ProcessingArea(3, AreaMixed),
		tree.MergeDirect(),
		filepath.Join(tree.MergeProcessed(2), OutNormalized),
		tree.ExceptionsDirect(services.ReasonEmpty),
		tree.ExceptionsProcessing(1, services.ReasonZipBomb),
		tree.Final(),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("missing %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}
}

func TestMergeSources(t *testing.T) {
	tree := New("/data/batch")
	sources := tree.MergeSources()
	if len(sources) != 1+2*MaxCycles {
		t.Fatalf("got %d sources", len(sources))
	}
	if sources[0] != tree.MergeDirect() {
		t.Fatal("direct root must be first")
	}
	if sources[1+MaxCycles] != tree.Processing(1) {
		t.Fatal("processing trees follow the merge roots")
	}
}

func TestPruneStop(t *testing.T) {
	tree := New("/data/batch")
	unitDir := filepath.Join(tree.ProcessingArea(1, AreaExtract), "zip", "UNIT_1")
	stop := tree.PruneStop(unitDir)
	if stop != tree.ProcessingArea(1, AreaExtract) {
		t.Fatalf("stop = %s", stop)
	}

	outside := tree.PruneStop("/somewhere/else")
	if outside != tree.Root {
		t.Fatalf("outside paths fall back to root, got %s", outside)
	}
}
