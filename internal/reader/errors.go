package reader

import "errors"

var (
	// ErrOutsideLines means a node has no owning line: the selection or
	// trigger came from outside the addressable line region.
	ErrOutsideLines = errors.New("node is outside the line region")
	// ErrDuplicateLine is returned when a line number is already resident.
	ErrDuplicateLine = errors.New("line already in store")
	// ErrLineNotResident is returned when a line is required but not in the store.
	ErrLineNotResident = errors.New("line not in store")
	// ErrExpandInFlight is returned when an expansion on the same side is pending.
	ErrExpandInFlight = errors.New("expansion already in flight")
	// ErrVoteInFlight is returned when the same vote is already pending.
	ErrVoteInFlight = errors.New("vote already in flight")
	// ErrUnknownBallot is returned when voting on an entity that was never tracked.
	ErrUnknownBallot = errors.New("unknown ballot")
	// ErrNoTemplate is returned when an overlay trigger names a missing annotation.
	ErrNoTemplate = errors.New("annotation template not found")
)
