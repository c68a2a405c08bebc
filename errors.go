package open_manipulator

import (
	"github.com/pkg/errors"
)

// ErrorKind classifies a failure so callers can decide whether to halt a build or retry a write.
type ErrorKind int

const (
	// KindUnknown is reported for errors that carry no kind, e.g. driver errors.
	KindUnknown ErrorKind = iota
	// KindStructural covers unknown or duplicate names and broken chains. Build steps that fail
	// this way leave the tree untouched and further building should stop.
	KindStructural
	// KindValue covers malformed numeric input. The write is rejected and prior state kept.
	KindValue
	// KindUnregistered means a strategy slot was invoked while empty.
	KindUnregistered
)

func (k ErrorKind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindValue:
		return "value"
	case KindUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func newKindError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) ErrorKind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Structural errors.
var (
	ErrNameNotFound  = newKindError(KindStructural, "name not found")
	ErrDuplicateName = newKindError(KindStructural, "duplicate name")
	ErrUnknownParent = newKindError(KindStructural, "unknown parent")
	ErrBrokenChain   = newKindError(KindStructural, "broken chain")
	ErrTreeClosed    = newKindError(KindStructural, "tree is closed to structural changes")
	ErrWorldNotSet   = newKindError(KindStructural, "world not set")
	ErrWorldExists   = newKindError(KindStructural, "world already set")
)

// Value errors.
var (
	ErrInvalidValue        = newKindError(KindValue, "invalid value")
	ErrNoJoint             = newKindError(KindValue, "component has no movable joint")
	ErrNoTool              = newKindError(KindValue, "component has no tool")
	ErrDuplicateActuatorID = newKindError(KindValue, "actuator id already in use")
)

// ErrUnregistered is returned when an empty strategy slot is invoked.
var ErrUnregistered = newKindError(KindUnregistered, "strategy not registered")

func notFound(name Name) error {
	return errors.Wrapf(ErrNameNotFound, "%q", name)
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidValue, format, args...)
}

func errNoJoint(name Name) error {
	return errors.Wrapf(ErrNoJoint, "%q", name)
}

func errNoTool(name Name) error {
	return errors.Wrapf(ErrNoTool, "%q", name)
}
