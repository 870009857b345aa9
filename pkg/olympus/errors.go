package olympus

import (
	"context"
	"errors"

	"github.com/fogmesh/fogmesh/pkg/charon"
	"github.com/fogmesh/fogmesh/pkg/hades"
	"github.com/fogmesh/fogmesh/pkg/moirai"
)

// Errors returned by the coordinator. They are the same values the
// underlying packages return, so errors.Is works with either.
var (
	ErrNodeNotFound   = hades.ErrNodeNotFound
	ErrNodeExists     = hades.ErrNodeExists
	ErrInvalidNode    = hades.ErrInvalidNode
	ErrInvalidTask    = hades.ErrInvalidTask
	ErrTaskNotFound   = hades.ErrTaskNotFound
	ErrNoEligibleNode = moirai.ErrNoEligibleNode
	ErrNoHealthyNodes = charon.ErrNoHealthyNodes
)

// ErrorClass tells the API layer how to present an error.
type ErrorClass string

const (
	ClassNotFound    ErrorClass = "not_found"   // 404
	ClassConflict    ErrorClass = "conflict"    // 409
	ClassUnavailable ErrorClass = "unavailable" // retryable, 503
	ClassInvalid     ErrorClass = "invalid"     // 400
	ClassInternal    ErrorClass = "internal"    // 500
)

// Classify maps err to an ErrorClass. A nil error has no class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrTaskNotFound):
		return ClassNotFound
	case errors.Is(err, ErrNodeExists):
		return ClassConflict
	case errors.Is(err, ErrNoEligibleNode),
		errors.Is(err, ErrNoHealthyNodes),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassUnavailable
	case errors.Is(err, ErrInvalidNode),
		errors.Is(err, ErrInvalidTask),
		errors.Is(err, moirai.ErrUnknownStrategy),
		errors.Is(err, moirai.ErrInvalidSelector),
		errors.Is(err, charon.ErrUnknownAlgorithm):
		return ClassInvalid
	default:
		return ClassInternal
	}
}
