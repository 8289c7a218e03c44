package domain

import "errors"

// Error taxonomy for the evidence pipeline. Manifest and bundle creation are
// the critical path and surface these to the caller; provenance recording and
// TSA anchoring degrade to logged warnings or stored status instead.
var (
	// ErrNotFound: a referenced call, recording, manifest, or bundle does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSerialization: a payload could not be canonicalized. Indicates a
	// data-model bug upstream, never retried.
	ErrSerialization = errors.New("canonical serialization failed")

	// ErrPersistence: an insert or update was rejected by the store.
	ErrPersistence = errors.New("persistence failed")

	// ErrConflict: a uniqueness constraint fired. The loser of a concurrent
	// write re-reads and adopts the winner's row.
	ErrConflict = errors.New("conflicting concurrent write")

	// ErrExternalService: the timestamp authority (or its proxy) was
	// unreachable or returned a malformed response.
	ErrExternalService = errors.New("external service failed")
)
