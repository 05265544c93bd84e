// Package caderr defines the error taxonomy shared by the compiler, the scene
// store, and the editing engines. Failures cross package boundaries as values
// of type *Error; callers branch on the Kind, never on message text.
package caderr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	ScriptError
	GeometryError
	Timeout
	Cancelled
	DegenerateTransform
	InsufficientOperands
	CSGError
	NotFound
	InvalidGeometry
	NothingToUndo
	NothingToRedo
	SaveError
	GenerationError
	InvalidParameter
)

func (k Kind) String() string {
	switch k {
	case ScriptError:
		return "ScriptError"
	case GeometryError:
		return "GeometryError"
	case Timeout:
		return "Timeout"
	case Cancelled:
		return "Cancelled"
	case DegenerateTransform:
		return "DegenerateTransform"
	case InsufficientOperands:
		return "InsufficientOperands"
	case CSGError:
		return "CSGError"
	case NotFound:
		return "NotFound"
	case InvalidGeometry:
		return "InvalidGeometry"
	case NothingToUndo:
		return "NothingToUndo"
	case NothingToRedo:
		return "NothingToRedo"
	case SaveError:
		return "SaveError"
	case GenerationError:
		return "GenerationError"
	case InvalidParameter:
		return "InvalidParameter"
	default:
		return "Unknown"
	}
}

// Reason is a machine-readable sub-code refining a Kind. Callers that need to
// react to one specific failure class (for example the round-radius retry at
// the generation boundary) match on Reason instead of parsing messages.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNegativeSize      Reason = "negative-size"
	ReasonRoundRadius       Reason = "round-radius"
	ReasonDegenerateProfile Reason = "degenerate-profile"
	ReasonDegenerateScale   Reason = "degenerate-scale"
	ReasonEmptySolid        Reason = "empty-solid"
	ReasonNoResult          Reason = "no-result"
	ReasonDisjoint          Reason = "disjoint"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Line    int // 1-based source line, 0 when unknown
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", e.Kind, e.Line, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. A target with a
// non-empty Reason must also match the Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

// Sentinels for errors.Is checks.
var (
	ErrScript               = &Error{Kind: ScriptError}
	ErrGeometry             = &Error{Kind: GeometryError}
	ErrTimeout              = &Error{Kind: Timeout}
	ErrCancelled            = &Error{Kind: Cancelled}
	ErrDegenerateTransform  = &Error{Kind: DegenerateTransform}
	ErrInsufficientOperands = &Error{Kind: InsufficientOperands}
	ErrCSG                  = &Error{Kind: CSGError}
	ErrNotFound             = &Error{Kind: NotFound}
	ErrInvalidGeometry      = &Error{Kind: InvalidGeometry}
	ErrNothingToUndo        = &Error{Kind: NothingToUndo}
	ErrNothingToRedo        = &Error{Kind: NothingToRedo}
	ErrSave                 = &Error{Kind: SaveError}
	ErrGeneration           = &Error{Kind: GenerationError}
	ErrInvalidParameter     = &Error{Kind: InvalidParameter}
	ErrRoundRadius          = &Error{Kind: GeometryError, Reason: ReasonRoundRadius}
)

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithReason returns an *Error carrying a reason code.
func WithReason(kind Kind, reason Reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. The original error stays reachable through
// errors.Unwrap.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the Reason of err, or ReasonNone.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}
