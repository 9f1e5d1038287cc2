package sevenzip

import (
	"context"
	"testing"
)

type fakeExecutor struct {
	lines  []string
	err    error
	binary string
	args   []string
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string, onStdout func(string)) error {
	f.binary = binary
	f.args = args
	if f.err != nil {
		return f.err
	}
	if onStdout != nil {
		for _, line := range f.lines {
			onStdout(line)
		}
	}
	return nil
}

func TestListParsesTechnicalOutput(t *testing.T) {
	exec := &fakeExecutor{lines: []string{
		"Path = docs/report.pdf",
		"Size = 1048576",
		"Attributes = A",
		"",
		"Path = docs",
		"Size = 0",
		"Attributes = D",
		"",
		"Path = notes.txt",
		"Size = 42",
		"Attributes = A",
	}}

	client, err := New("7z", 30, WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entries, err := client.List(context.Background(), "bundle.rar")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Path != "docs/report.pdf" || entries[0].Size != 1048576 || entries[0].IsDir {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].IsDir {
		t.Fatalf("directory entry not detected: %+v", entries[1])
	}
	if entries[2].Size != 42 {
		t.Fatalf("unexpected size: %+v", entries[2])
	}
	if exec.args[0] != "l" || exec.args[1] != "-slt" {
		t.Fatalf("unexpected list args: %v", exec.args)
	}
}

func TestExtractBuildsCommand(t *testing.T) {
	exec := &fakeExecutor{}
	client, err := New("7z", 0, WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dest := t.TempDir() + "/out"
	if err := client.Extract(context.Background(), "bundle.7z", dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if exec.args[0] != "x" || exec.args[1] != "-y" || exec.args[2] != "-o"+dest {
		t.Fatalf("unexpected extract args: %v", exec.args)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := New("   ", 10); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
