package extractor

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeEntryName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"subdirectory", "docs/report.pdf", filepath.Join("docs", "report.pdf")},
		{"traversal", "../../etc/passwd", filepath.Join("etc", "passwd")},
		{"absolute", "/etc/passwd", filepath.Join("etc", "passwd")},
		{"windows separators", "docs\\nested\\file.txt", filepath.Join("docs", "nested", "file.txt")},
		{"illegal characters", "bad:na*me?.txt", "bad_na_me_.txt"},
		{"trailing dots and spaces", "name. . ", "name"},
		{"empty after cleaning", "..", ""},
		{"only separators", "///", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeEntryName(tc.in); got != tc.want {
				t.Fatalf("SanitizeEntryName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestTruncateNamePreservesExtension(t *testing.T) {
	name := strings.Repeat("a", 300) + ".pdf"
	got := TruncateName(name, 255)
	if len(got) > 255 {
		t.Fatalf("len = %d, want <= 255", len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("extension lost: %q", got)
	}
}

func TestTruncateNameByteBudgetWithMultibyteRunes(t *testing.T) {
	// Each rune is 3 bytes encoded; trimming must never split one.
	name := strings.Repeat("文", 100) + ".txt"
	got := TruncateName(name, 255)
	if len(got) > 255 {
		t.Fatalf("len = %d, want <= 255", len(got))
	}
	if !strings.HasSuffix(got, ".txt") {
		t.Fatalf("extension lost: %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatalf("split rune in %q", got)
		}
	}
}

func TestTruncateNameShortNameUntouched(t *testing.T) {
	if got := TruncateName("short.pdf", 255); got != "short.pdf" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateNameOversizeExtension(t *testing.T) {
	name := "x." + strings.Repeat("e", 300)
	got := TruncateName(name, 255)
	if len(got) > 255 {
		t.Fatalf("len = %d, want <= 255", len(got))
	}
	if got == "" {
		t.Fatal("expected hash fallback, got empty name")
	}
}
