package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/redis/go-redis/v9"
)

const problemCacheTTL = 5 * time.Minute

var _ Store = (*PGStore)(nil)

// PGStore implements Store on Postgres. Visible-problem lookups sit on
// the provision hot path, so they go through an optional redis
// read-through cache that SetVisibility invalidates.
type PGStore struct {
	db    *pg.DB
	cache redis.Cmdable
}

func NewPGStore(db *pg.DB, cache redis.Cmdable) *PGStore {
	return &PGStore{db: db, cache: cache}
}

func CreateSchema(db *pg.DB) error {
	models := []any{(*Problem)(nil), (*Team)(nil)}
	for _, m := range models {
		err := db.Model(m).CreateTable(&orm.CreateTableOptions{
			IfNotExists: true,
		})
		if err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

func (s *PGStore) Visible(ctx context.Context, id int64) (*Problem, error) {
	if s.cache != nil {
		if val, err := s.cache.Get(ctx, problemCacheKey(id)).Result(); err == nil {
			var entry problemCacheEntry
			if err := json.Unmarshal([]byte(val), &entry); err == nil {
				if !entry.Visible {
					return nil, ErrProblemNotFound
				}
				return &Problem{
					ID:         entry.ID,
					Name:       entry.Name,
					Image:      entry.Image,
					GuestPorts: entry.GuestPorts,
					Visible:    entry.Visible,
				}, nil
			}
		}
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if b, err := json.Marshal(cachedProblem(p)); err == nil {
			_ = s.cache.Set(ctx, problemCacheKey(id), b, problemCacheTTL).Err()
		}
	}

	if !p.Visible {
		return nil, ErrProblemNotFound
	}
	return p, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Problem, error) {
	p := &Problem{ID: id}
	err := s.db.ModelContext(ctx, p).WherePK().Select()
	if errors.Is(err, pg.ErrNoRows) {
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select problem: %w", err)
	}
	return p, nil
}

func (s *PGStore) ListVisible(ctx context.Context) ([]*Problem, error) {
	var problems []*Problem
	err := s.db.ModelContext(ctx, &problems).
		Where("visible = TRUE").
		Order("id ASC").
		Select()
	if err != nil {
		return nil, fmt.Errorf("list visible problems: %w", err)
	}
	return problems, nil
}

func (s *PGStore) ListAll(ctx context.Context) ([]*Problem, error) {
	var problems []*Problem
	err := s.db.ModelContext(ctx, &problems).Order("id ASC").Select()
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	return problems, nil
}

func (s *PGStore) SetVisibility(ctx context.Context, id int64, visible bool) error {
	res, err := s.db.ModelContext(ctx, (*Problem)(nil)).
		Set("visible = ?", visible).
		Where("id = ?", id).
		Update()
	if err != nil {
		return fmt.Errorf("update visibility: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrProblemNotFound
	}

	if s.cache != nil {
		_ = s.cache.Del(ctx, problemCacheKey(id)).Err()
	}
	return nil
}

func (s *PGStore) ListTeams(ctx context.Context) ([]*Team, error) {
	var teams []*Team
	err := s.db.ModelContext(ctx, &teams).Order("id ASC").Select()
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	return teams, nil
}

// problemCacheEntry is the cached shape. It is a separate struct so the
// json "-" tags on the API-facing Problem type cannot silently drop the
// image and port fields from the cache.
type problemCacheEntry struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Image      string   `json:"image"`
	GuestPorts []string `json:"guest_ports"`
	Visible    bool     `json:"visible"`
}

func cachedProblem(p *Problem) problemCacheEntry {
	return problemCacheEntry{
		ID:         p.ID,
		Name:       p.Name,
		Image:      p.Image,
		GuestPorts: p.GuestPorts,
		Visible:    p.Visible,
	}
}

func problemCacheKey(id int64) string {
	return "problem:" + strconv.FormatInt(id, 10)
}
