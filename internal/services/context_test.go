package services_test

import (
	"context"
	"testing"

	"docprep/internal/services"
)

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithUnitID(ctx, "UNIT_123")
	ctx = services.WithStage(ctx, "classifier")
	ctx = services.WithCycle(ctx, 2)
	ctx = services.WithRunID(ctx, "run-abc")

	if id, ok := services.UnitIDFromContext(ctx); !ok || id != "UNIT_123" {
		t.Fatalf("unit id = %q, ok=%v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "classifier" {
		t.Fatalf("stage = %q, ok=%v", stage, ok)
	}
	if cycle, ok := services.CycleFromContext(ctx); !ok || cycle != 2 {
		t.Fatalf("cycle = %d, ok=%v", cycle, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != "run-abc" {
		t.Fatalf("run id = %q, ok=%v", run, ok)
	}
}

func TestContextEmptyValuesIgnored(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("empty stage should not annotate")
	}
	ctx = services.WithCycle(context.Background(), 0)
	if _, ok := services.CycleFromContext(ctx); ok {
		t.Fatal("zero cycle should not annotate")
	}
}
