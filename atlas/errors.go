package atlas

import "errors"

var (
	// ErrTechniqueNotFound reports an enrichment request for a technique
	// the mirror does not hold.
	ErrTechniqueNotFound = errors.New("atlas: technique not found")

	// ErrSyncRunning reports a refresh request while another refresh is
	// already in flight.
	ErrSyncRunning = errors.New("atlas: sync already running")
)
