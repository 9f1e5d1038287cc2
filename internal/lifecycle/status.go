package lifecycle

import (
	"strings"
)

// Status represents the lifecycle state of a unit as persisted in its manifest.
type Status string

const (
	StatusRaw              Status = "RAW"
	StatusClassified1      Status = "CLASSIFIED_1"
	StatusClassified2      Status = "CLASSIFIED_2"
	StatusClassified3      Status = "CLASSIFIED_3"
	StatusPendingConvert   Status = "PENDING_CONVERT"
	StatusPendingExtract   Status = "PENDING_EXTRACT"
	StatusPendingNormalize Status = "PENDING_NORMALIZE"
	StatusMergedDirect     Status = "MERGED_DIRECT"
	StatusMergedProcessed  Status = "MERGED_PROCESSED"
	StatusReadyForDocling  Status = "READY_FOR_DOCLING"
	StatusException1       Status = "EXCEPTION_1"
	StatusException2       Status = "EXCEPTION_2"
	StatusException3       Status = "EXCEPTION_3"
	StatusMergerSkipped    Status = "MERGER_SKIPPED"
)

var allStatuses = []Status{
	StatusRaw,
	StatusClassified1,
	StatusClassified2,
	StatusClassified3,
	StatusPendingConvert,
	StatusPendingExtract,
	StatusPendingNormalize,
	StatusMergedDirect,
	StatusMergedProcessed,
	StatusReadyForDocling,
	StatusException1,
	StatusException2,
	StatusException3,
	StatusMergerSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// terminalStatuses have no outgoing transitions. Once a unit lands in one of
// these it never re-enters the pipeline.
var terminalStatuses = map[Status]struct{}{
	StatusReadyForDocling: {},
	StatusException1:      {},
	StatusException2:      {},
	StatusException3:      {},
	StatusMergerSkipped:   {},
}

var pendingStatuses = map[Status]struct{}{
	StatusPendingConvert:   {},
	StatusPendingExtract:   {},
	StatusPendingNormalize: {},
}

// allowedTransitions enumerates every legal (from, to) pair. Self-transitions
// are legal everywhere and handled before this table is consulted.
var allowedTransitions = map[Status][]Status{
	StatusRaw: {
		StatusClassified1,
		StatusMergedDirect,
		StatusException1,
	},
	StatusClassified1: {
		StatusPendingConvert,
		StatusPendingExtract,
		StatusPendingNormalize,
		StatusMergedDirect,
		StatusException1,
		StatusMergerSkipped,
	},
	StatusClassified2: {
		StatusClassified3,
		StatusPendingConvert,
		StatusPendingExtract,
		StatusPendingNormalize,
		StatusMergedProcessed,
		StatusException2,
		StatusMergerSkipped,
	},
	StatusClassified3: {
		StatusMergedProcessed,
		StatusException3,
		StatusMergerSkipped,
	},
	StatusPendingConvert: {
		StatusClassified2,
		StatusClassified3,
		StatusPendingNormalize,
		StatusMergedProcessed,
		StatusException1,
		StatusException2,
		StatusException3,
	},
	StatusPendingExtract: {
		StatusClassified2,
		StatusClassified3,
		StatusMergedProcessed,
		StatusException1,
		StatusException2,
		StatusException3,
	},
	StatusPendingNormalize: {
		StatusClassified2,
		StatusClassified3,
		StatusMergedProcessed,
		StatusException1,
		StatusException2,
		StatusException3,
	},
	StatusMergedDirect: {
		StatusReadyForDocling,
		StatusMergerSkipped,
	},
	StatusMergedProcessed: {
		StatusReadyForDocling,
		StatusMergerSkipped,
	},
}

var transitionSet = func() map[Status]map[Status]struct{} {
	set := make(map[Status]map[Status]struct{}, len(allowedTransitions))
	for from, targets := range allowedTransitions {
		inner := make(map[Status]struct{}, len(targets))
		for _, to := range targets {
			inner[to] = struct{}{}
		}
		set[from] = inner
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// IsPending reports whether a status is a pre-processing holding state.
func IsPending(status Status) bool {
	_, ok := pendingStatuses[status]
	return ok
}

// CanTransition reports whether moving from one status to another is legal.
// A self-transition is always legal and is the documented no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		_, known := statusSet[from]
		return known
	}
	targets, ok := transitionSet[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Targets returns the legal transition targets for a status, excluding the
// implicit self-transition.
func Targets(from Status) []Status {
	targets := allowedTransitions[from]
	cp := make([]Status, len(targets))
	copy(cp, targets)
	return cp
}

// Cycle derives the processing cycle a status belongs to. Pending and merged
// statuses carry no cycle of their own and report zero; callers fall back to
// the manifest's current_cycle for those.
func Cycle(status Status) int {
	switch status {
	case StatusClassified1, StatusException1:
		return 1
	case StatusClassified2, StatusException2:
		return 2
	case StatusClassified3, StatusException3:
		return 3
	case StatusRaw:
		return 1
	default:
		return 0
	}
}

// ClassifiedFor returns the classified status for a cycle number.
func ClassifiedFor(cycle int) Status {
	switch cycle {
	case 1:
		return StatusClassified1
	case 2:
		return StatusClassified2
	default:
		return StatusClassified3
	}
}

// ExceptionFor returns the exception status for a cycle number.
func ExceptionFor(cycle int) Status {
	switch cycle {
	case 1:
		return StatusException1
	case 2:
		return StatusException2
	default:
		return StatusException3
	}
}
