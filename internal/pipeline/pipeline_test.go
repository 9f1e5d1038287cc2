package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/metrics"
	"docprep/internal/services"
	"docprep/internal/sniff"
	"docprep/internal/testsupport"
	"docprep/internal/unit"
)

// fakeDetector resolves detections by file base name.
type fakeDetector map[string]sniff.Detection

func (f fakeDetector) Detect(path string) (sniff.Detection, error) {
	if det, ok := f[filepath.Base(path)]; ok {
		return det, nil
	}
	return sniff.Detection{Confidence: 0}, nil
}

type fakeOffice struct {
	err error
}

func (f *fakeOffice) Convert(_ context.Context, inputPath, outDir, targetExt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	output := filepath.Join(outDir, stem+"."+targetExt)
	if err := os.WriteFile(output, []byte("%PDF-1.7 converted"), 0o644); err != nil {
		return "", err
	}
	return output, nil
}

func pdfDetection() sniff.Detection {
	return sniff.Detection{MimeType: "application/pdf", DetectedType: "pdf", Confidence: 0.95}
}

func newPipeline(t *testing.T, tree layout.Tree, det fakeDetector, opts ...Option) *Pipeline {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	opts = append([]Option{WithDetector(det), WithOffice(&fakeOffice{})}, opts...)
	p, err := New(cfg, tree, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunConsolidatesDirectUnit(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_A", map[string][]byte{
		"report.pdf": []byte("%PDF-1.7 body"),
	})
	sink, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	p := newPipeline(t, tree, fakeDetector{"report.pdf": pdfDetection()}, WithMetrics(sink))
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	finalDir := filepath.Join(tree.FinalBucket("pdf", "text"), "UNIT_A")
	u, err := unit.Load(finalDir)
	if err != nil {
		t.Fatalf("load consolidated unit: %v", err)
	}
	if state := u.Manifest.CurrentState(); state != lifecycle.StatusReadyForDocling {
		t.Fatalf("state = %s", state)
	}

	totals, err := sink.Totals(context.Background(), summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if totals.Events != 2 || totals.Succeeded != 2 || totals.Failed != 0 {
		t.Fatalf("totals = %+v", totals)
	}
}

func TestRunRoutesEmptyUnitToExceptions(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_E", nil)

	p := newPipeline(t, tree, fakeDetector{})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	failure := summary.Failures[0]
	if failure.UnitID != "UNIT_E" || failure.Stage != "classify" || failure.Reason != services.ReasonEmpty {
		t.Fatalf("failure = %+v", failure)
	}
	if _, err := os.Stat(filepath.Join(tree.ExceptionsDirect(services.ReasonEmpty), "UNIT_E")); err != nil {
		t.Fatalf("unit not parked in exceptions: %v", err)
	}
}

func TestRunExtractsArchiveAcrossCycles(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	archive := testsupport.BuildZip(t, map[string][]byte{
		"inner.pdf": []byte("%PDF-1.7 inner"),
	})
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_B", map[string][]byte{
		"bundle.zip": archive,
	})

	det := fakeDetector{
		"bundle.zip": {MimeType: "application/zip", DetectedType: "zip", Confidence: 0.9},
		"inner.pdf":  pdfDetection(),
	}
	p := newPipeline(t, tree, det)
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	finalDir := filepath.Join(tree.FinalBucket("pdf", "text"), "UNIT_B")
	u, err := unit.Load(finalDir)
	if err != nil {
		t.Fatalf("load consolidated unit: %v", err)
	}
	if state := u.Manifest.CurrentState(); state != lifecycle.StatusReadyForDocling {
		t.Fatalf("state = %s", state)
	}
	// Extraction keeps the archive's own directory under the unit.
	if _, err := os.Stat(filepath.Join(finalDir, "bundle_extracted", "inner.pdf")); err != nil {
		t.Fatalf("extracted file missing from final unit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(finalDir, "bundle.zip")); !os.IsNotExist(err) {
		t.Fatalf("source archive should be deleted after extraction, stat err = %v", err)
	}
}

func TestRunIsolatesFailedUnitAndContinues(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_BAD", map[string][]byte{
		"memo.doc": []byte("legacy body"),
	})
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_GOOD", map[string][]byte{
		"report.pdf": []byte("%PDF-1.7 body"),
	})

	det := fakeDetector{
		"memo.doc":   {MimeType: "application/msword", DetectedType: "doc", Confidence: 0.9},
		"report.pdf": pdfDetection(),
	}
	p := newPipeline(t, tree, det,
		WithOffice(&fakeOffice{err: errors.New("conversion backend down")}))
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	failure := summary.Failures[0]
	if failure.UnitID != "UNIT_BAD" || failure.Stage != "convert" || failure.Reason != services.ReasonErConvert {
		t.Fatalf("failure = %+v", failure)
	}
	if _, err := os.Stat(filepath.Join(tree.ExceptionsProcessing(1, services.ReasonErConvert), "UNIT_BAD")); err != nil {
		t.Fatalf("failed unit not parked in exceptions: %v", err)
	}

	u, err := unit.Load(filepath.Join(tree.FinalBucket("pdf", "text"), "UNIT_GOOD"))
	if err != nil {
		t.Fatalf("healthy unit did not consolidate: %v", err)
	}
	if state := u.Manifest.CurrentState(); state != lifecycle.StatusReadyForDocling {
		t.Fatalf("state = %s", state)
	}
}

func TestRunQuarantinesCeilingViolation(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	archive := testsupport.BuildZip(t, map[string][]byte{
		"a.txt": []byte("one"),
		"b.txt": []byte("two"),
		"c.txt": []byte("three"),
	})
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_Z", map[string][]byte{
		"bomb.zip": archive,
	})

	cfg := testsupport.NewConfig(t, testsupport.WithExtractCeilings(1, 2))
	det := fakeDetector{
		"bomb.zip": {MimeType: "application/zip", DetectedType: "zip", Confidence: 0.9},
	}
	p, err := New(cfg, tree, nil, WithDetector(det), WithOffice(&fakeOffice{}))
	if err != nil {
		t.Fatal(err)
	}
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	failure := summary.Failures[0]
	if failure.UnitID != "UNIT_Z" || failure.Stage != "extract" || failure.Reason != services.ReasonZipBomb {
		t.Fatalf("failure = %+v", failure)
	}
	if _, err := os.Stat(filepath.Join(tree.ExceptionsProcessing(1, services.ReasonZipBomb), "UNIT_Z")); err != nil {
		t.Fatalf("quarantined unit not parked in exceptions: %v", err)
	}
}

func TestRunStageAndMergeDriveAUnitManually(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	testsupport.ScaffoldUnit(t, tree.Input(), "UNIT_M", map[string][]byte{
		"report.pdf": []byte("%PDF-1.7 body"),
	})

	p := newPipeline(t, tree, fakeDetector{"report.pdf": pdfDetection()})

	classified, err := p.RunStage(context.Background(), StageClassify, 1)
	if err != nil {
		t.Fatal(err)
	}
	if classified.Processed != 1 || classified.Failed != 0 {
		t.Fatalf("classify summary = %+v", classified)
	}

	merged, err := p.RunMerge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if merged.Succeeded != 1 {
		t.Fatalf("merge summary = %+v", merged)
	}

	if _, err := p.RunCycle(context.Background(), 9); err == nil {
		t.Fatal("expected out-of-range cycle to fail")
	}
}

func TestRunEmptyInputIsANoop(t *testing.T) {
	tree := testsupport.InitTree(t, t.TempDir())
	p := newPipeline(t, tree, fakeDetector{})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 0 || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.RunID == "" {
		t.Fatal("run id must always be assigned")
	}
}
