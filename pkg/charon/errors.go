package charon

import (
	"errors"
)

var (
	// ErrNoHealthyNodes indicates every candidate is missing or behind an open circuit
	ErrNoHealthyNodes = errors.New("no healthy nodes available")

	// ErrUnknownAlgorithm indicates an unsupported balancing algorithm name
	ErrUnknownAlgorithm = errors.New("unknown load balancing algorithm")
)
