package catalog

import (
	"context"
	"errors"
)

// ErrProblemNotFound covers both an absent problem and a hidden one;
// players cannot tell the two apart.
var ErrProblemNotFound = errors.New("problem not found")

type Store interface {
	// Visible returns the problem only if it exists and is visible.
	Visible(ctx context.Context, id int64) (*Problem, error)

	// Get returns the problem regardless of visibility. Teardown works
	// on hidden problems so a mid-round visibility mistake cannot strand
	// running containers.
	Get(ctx context.Context, id int64) (*Problem, error)

	ListVisible(ctx context.Context) ([]*Problem, error)
	ListAll(ctx context.Context) ([]*Problem, error)

	// SetVisibility is the only catalog mutation during a round.
	SetVisibility(ctx context.Context, id int64, visible bool) error

	ListTeams(ctx context.Context) ([]*Team, error)
}
