package services_test

import (
	"errors"
	"strings"
	"testing"

	"docprep/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrOperation, "extractor", "unpack", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrOperation) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extractor", "unpack", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "merger", "collect", "scan failed", nil)
	if !errors.Is(err, services.ErrOperation) {
		t.Fatalf("expected nil marker to default to ErrOperation, got %v", err)
	}
}

func TestExceptionReasonTagged(t *testing.T) {
	err := services.WithReason(services.ReasonErConvert,
		services.Wrap(services.ErrOperation, "converter", "convert", "engine failed", nil))
	if reason := services.ExceptionReason(err); reason != services.ReasonErConvert {
		t.Fatalf("expected ErConvert, got %s", reason)
	}
}

func TestExceptionReasonMarkerFallback(t *testing.T) {
	quarantine := services.Wrap(services.ErrQuarantine, "extractor", "unpack", "size ceiling", nil)
	if reason := services.ExceptionReason(quarantine); reason != services.ReasonZipBomb {
		t.Fatalf("expected ZipBomb for quarantine, got %s", reason)
	}

	validation := services.Wrap(services.ErrValidation, "merger", "gate", "no extension", nil)
	if reason := services.ExceptionReason(validation); reason != services.ReasonUnsupportedType {
		t.Fatalf("expected UnsupportedType for validation, got %s", reason)
	}

	plain := errors.New("anything else")
	if reason := services.ExceptionReason(plain); reason != services.ReasonNoProcessableFiles {
		t.Fatalf("expected NoProcessableFiles fallback, got %s", reason)
	}
}

func TestWithReasonNil(t *testing.T) {
	if services.WithReason(services.ReasonEmpty, nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
