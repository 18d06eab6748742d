package orchestrator

import "errors"

// Problem-not-found and instance-not-found surface as
// catalog.ErrProblemNotFound and registry.ErrInstanceNotFound; the
// sentinels below cover the orchestrator's own failure modes.
var (
	// ErrQuotaExceeded rejects a provision before any runtime call.
	ErrQuotaExceeded = errors.New("instance quota exceeded")

	// ErrPersistence is a registry write failure. On the provision path
	// the compensating runtime cleanup has already run by the time this
	// reaches the caller.
	ErrPersistence = errors.New("registry write failed")

	// ErrRuntime is a runtime engine failure during create, exec or
	// port query. Any partially created container has been cleaned up.
	ErrRuntime = errors.New("runtime engine failure")
)
