package stage

import (
	"context"

	"docprep/internal/unit"
)

// Handler describes the contract the cycle orchestrator needs from each
// pipeline stage.
type Handler interface {
	// Prepare validates that the unit is in a state this stage can process.
	Prepare(context.Context, *unit.Unit) error
	// Execute performs the stage's work, ending with the unit relocated and
	// its manifest updated.
	Execute(context.Context, *unit.Unit) error
	// HealthCheck reports whether the stage's external collaborators are
	// available.
	HealthCheck(context.Context) Health
}
