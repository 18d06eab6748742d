package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on Postgres via go-pg.
type PGStore struct {
	db *pg.DB
}

func NewPGStore(db *pg.DB) *PGStore {
	return &PGStore{db: db}
}

// CreateSchema creates the registry tables. The composite unique index
// on (team_id, problem_id) and the cascading port FK come from the
// model tags.
func CreateSchema(db *pg.DB) error {
	models := []any{(*Instance)(nil), (*PortBinding)(nil)}
	for _, m := range models {
		err := db.Model(m).CreateTable(&orm.CreateTableOptions{
			IfNotExists:   true,
			FKConstraints: true,
		})
		if err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

func (s *PGStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.RunInTransaction(ctx, func(tx *pg.Tx) error {
		return fn(&pgTx{db: tx})
	})
}

type pgTx struct {
	db orm.DB
}

func (t *pgTx) Get(ctx context.Context, teamID, problemID int64) (*Instance, error) {
	inst := new(Instance)
	err := t.db.ModelContext(ctx, inst).
		Relation("Ports").
		Where("instance.team_id = ?", teamID).
		Where("instance.problem_id = ?", problemID).
		Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select instance: %w", err)
	}
	return inst, nil
}

func (t *pgTx) LiveCount(ctx context.Context, teamID int64) (int, error) {
	count, err := t.db.ModelContext(ctx, (*Instance)(nil)).
		Where("team_id = ?", teamID).
		Count()
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return count, nil
}

func (t *pgTx) Create(ctx context.Context, inst *Instance) error {
	if _, err := t.db.ModelContext(ctx, inst).Insert(); err != nil {
		return wrapInsertErr(err)
	}
	for _, p := range inst.Ports {
		p.InstanceID = inst.ID
	}
	if len(inst.Ports) > 0 {
		if _, err := t.db.ModelContext(ctx, &inst.Ports).Insert(); err != nil {
			return fmt.Errorf("insert port bindings: %w", err)
		}
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, teamID, problemID int64) error {
	_, err := t.db.ModelContext(ctx, (*Instance)(nil)).
		Where("team_id = ?", teamID).
		Where("problem_id = ?", problemID).
		Delete()
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return nil
}

func (t *pgTx) ListForTeam(ctx context.Context, teamID int64) ([]*Instance, error) {
	var insts []*Instance
	err := t.db.ModelContext(ctx, &insts).
		Where("team_id = ?", teamID).
		Select()
	if err != nil {
		return nil, fmt.Errorf("list team instances: %w", err)
	}
	return insts, nil
}

func (t *pgTx) DeleteAllForTeam(ctx context.Context, teamID int64) error {
	_, err := t.db.ModelContext(ctx, (*Instance)(nil)).
		Where("team_id = ?", teamID).
		Delete()
	if err != nil {
		return fmt.Errorf("delete team instances: %w", err)
	}
	return nil
}

func (t *pgTx) ListAll(ctx context.Context) ([]*Instance, error) {
	var insts []*Instance
	err := t.db.ModelContext(ctx, &insts).Select()
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return insts, nil
}

func (t *pgTx) DeleteAll(ctx context.Context) error {
	_, err := t.db.ModelContext(ctx, (*Instance)(nil)).Where("TRUE").Delete()
	if err != nil {
		return fmt.Errorf("clear registry: %w", err)
	}
	return nil
}

func wrapInsertErr(err error) error {
	var pgErr pg.Error
	if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
		return ErrDuplicateInstance
	}
	return fmt.Errorf("insert instance: %w", err)
}
