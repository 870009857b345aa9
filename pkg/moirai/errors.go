package moirai

import "errors"

var (
	// ErrNoEligibleNode indicates no node passes the capacity, status and privacy filters
	ErrNoEligibleNode = errors.New("no eligible node")

	// ErrUnknownStrategy indicates an unsupported routing strategy name
	ErrUnknownStrategy = errors.New("unknown routing strategy")

	// ErrInvalidSelector indicates a node selector expression that does not compile or yield a bool
	ErrInvalidSelector = errors.New("invalid node selector")
)
