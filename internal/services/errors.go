package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransition marks an illegal state-machine transition. Always a
	// pipeline logic bug; the operation that produced it is aborted.
	ErrTransition = errors.New("illegal state transition")
	// ErrOperation marks an external tool or validation failure. Recoverable
	// through a named fallback path where one exists, otherwise the unit is
	// routed to exceptions.
	ErrOperation = errors.New("operation failed")
	// ErrQuarantine marks a resource-ceiling violation. Never retried:
	// retrying cannot change a fixed ceiling's outcome.
	ErrQuarantine = errors.New("quarantined")

	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrOperation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Reason is the exceptions-bucket code recorded for a failed or rejected unit.
type Reason string

const (
	ReasonEmpty              Reason = "Empty"
	ReasonSpecial            Reason = "Special"
	ReasonAmbiguous          Reason = "Ambiguous"
	ReasonErConvert          Reason = "ErConvert"
	ReasonErExtract          Reason = "ErExtract"
	ReasonErNormalize        Reason = "ErNormalize"
	ReasonNoProcessableFiles Reason = "NoProcessableFiles"
	ReasonUnsupportedType    Reason = "UnsupportedType"
	ReasonZipBomb            Reason = "ZipBomb"
)

// reasonErr carries an exceptions reason code through an error chain.
type reasonErr struct {
	reason Reason
	err    error
}

func (e *reasonErr) Error() string { return e.err.Error() }
func (e *reasonErr) Unwrap() error { return e.err }

// WithReason tags an error with the exceptions bucket it should route to.
func WithReason(reason Reason, err error) error {
	if err == nil {
		return nil
	}
	return &reasonErr{reason: reason, err: err}
}

// ExceptionReason extracts the reason code from an error chain. Errors with
// no explicit tag fall back to a marker-based default so every failure still
// lands in a named bucket.
func ExceptionReason(err error) Reason {
	var tagged *reasonErr
	if errors.As(err, &tagged) {
		return tagged.reason
	}
	switch {
	case errors.Is(err, ErrQuarantine):
		return ReasonZipBomb
	case errors.Is(err, ErrValidation):
		return ReasonUnsupportedType
	default:
		return ReasonNoProcessableFiles
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
