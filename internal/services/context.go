package services

import "context"

type contextKey string

const (
	unitIDKey contextKey = "unit_id"
	stageKey  contextKey = "stage"
	cycleKey  contextKey = "cycle"
	runIDKey  contextKey = "run_id"
)

// WithUnitID annotates context with the unit identifier.
func WithUnitID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, unitIDKey, id)
}

// UnitIDFromContext extracts the unit identifier if present.
func UnitIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(unitIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCycle annotates context with the processing cycle number.
func WithCycle(ctx context.Context, cycle int) context.Context {
	if cycle <= 0 {
		return ctx
	}
	return context.WithValue(ctx, cycleKey, cycle)
}

// CycleFromContext returns the cycle number if present.
func CycleFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(cycleKey).(int); ok && v > 0 {
		return v, true
	}
	return 0, false
}

// WithRunID annotates context with the batch run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the batch run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
