package registry

import (
	"context"
	"errors"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrDuplicateInstance is the storage-level uniqueness constraint on
	// (team, problem) firing.
	ErrDuplicateInstance = errors.New("instance already exists for team and problem")
)

// Store is the transactional instance registry. All mutations run
// through RunInTransaction; serialization of the uniqueness and quota
// checks is delegated to the storage layer's transaction isolation, the
// orchestrator holds no locks of its own.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the registry capability set available inside one transaction.
type Tx interface {
	// Get returns the instance for the pair with its port bindings, or
	// ErrInstanceNotFound.
	Get(ctx context.Context, teamID, problemID int64) (*Instance, error)

	// LiveCount counts the team's currently registered instances. The
	// quota is derived from this, never stored separately.
	LiveCount(ctx context.Context, teamID int64) (int, error)

	// Create persists an instance together with its port bindings.
	// Returns ErrDuplicateInstance if the pair is already registered.
	Create(ctx context.Context, inst *Instance) error

	Delete(ctx context.Context, teamID, problemID int64) error

	ListForTeam(ctx context.Context, teamID int64) ([]*Instance, error)
	DeleteAllForTeam(ctx context.Context, teamID int64) error

	ListAll(ctx context.Context) ([]*Instance, error)
	DeleteAll(ctx context.Context) error
}
