package soffice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeExecutor struct {
	binary  string
	args    []string
	err     error
	produce func(args []string) error
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string, _ func(string)) error {
	f.binary = binary
	f.args = args
	if f.produce != nil {
		return f.produce(args)
	}
	return f.err
}

func TestConvertProducesOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "report.doc")
	if err := os.WriteFile(input, []byte("legacy body"), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "out")

	exec := &fakeExecutor{produce: func([]string) error {
		return os.WriteFile(filepath.Join(outDir, "report.docx"), []byte("converted"), 0o644)
	}}
	client, err := New("soffice", WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	output, err := client.Convert(context.Background(), input, outDir, "docx")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if filepath.Base(output) != "report.docx" {
		t.Fatalf("output = %s", output)
	}
	if exec.args[0] != "--headless" {
		t.Fatalf("unexpected args: %v", exec.args)
	}
}

func TestConvertMissingOutputFails(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "report.doc")
	if err := os.WriteFile(input, []byte("legacy body"), 0o644); err != nil {
		t.Fatal(err)
	}

	client, err := New("soffice", WithExecutor(&fakeExecutor{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Convert(context.Background(), input, filepath.Join(dir, "out"), "docx"); err == nil {
		t.Fatal("expected error when no output is produced")
	}
}

func TestTimeoutScalesWithSizeAndCaps(t *testing.T) {
	client, err := New("soffice")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := client.timeoutFor(0); got != 60*time.Second {
		t.Fatalf("zero-size timeout = %s", got)
	}
	if got := client.timeoutFor(4 << 20); got != 180*time.Second {
		t.Fatalf("4MB timeout = %s", got)
	}
	if got := client.timeoutFor(1 << 30); got != 600*time.Second {
		t.Fatalf("timeout not capped: %s", got)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
