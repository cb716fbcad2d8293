// Package pgstore is the Postgres attribute store backend.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cabinmap/core-go/internal/db"
	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/sqlcgen"
)

type Store struct {
	pool    *db.Pool
	queries *sqlcgen.Queries
}

var _ meta.Backend = (*Store)(nil)

func New(pool *db.Pool) *Store {
	return &Store{pool: pool, queries: pool.Queries()}
}

func (s *Store) Get(ctx context.Context, kind meta.Kind, id int64, key string) ([]byte, error) {
	v, err := s.queries.GetMeta(ctx, string(kind), id, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *Store) Set(ctx context.Context, kind meta.Kind, id int64, key string, value []byte) error {
	return s.queries.UpsertMeta(ctx, sqlcgen.UpsertMetaParams{
		Kind:      string(kind),
		EntityID:  id,
		MetaKey:   key,
		MetaValue: string(value),
	})
}

func (s *Store) Delete(ctx context.Context, kind meta.Kind, id int64, key string) error {
	return s.queries.DeleteMeta(ctx, string(kind), id, key)
}

func (s *Store) Entity(ctx context.Context, kind meta.Kind, id int64) (meta.Entity, error) {
	e, err := s.queries.GetEntity(ctx, string(kind), id)
	if errors.Is(err, pgx.ErrNoRows) {
		return meta.Entity{}, meta.ErrNotFound
	}
	if err != nil {
		return meta.Entity{}, err
	}
	return toEntity(e), nil
}

func (s *Store) ListEntities(ctx context.Context, kind meta.Kind, subtype string) ([]meta.Entity, error) {
	rows, err := s.queries.ListEntities(ctx, string(kind), subtype)
	if err != nil {
		return nil, err
	}
	out := make([]meta.Entity, 0, len(rows))
	for _, e := range rows {
		out = append(out, toEntity(e))
	}
	return out, nil
}

func (s *Store) CreateEntity(ctx context.Context, e meta.Entity) (meta.Entity, error) {
	if !e.Kind.Valid() {
		return meta.Entity{}, fmt.Errorf("create entity: invalid kind %q", e.Kind)
	}
	row, err := s.queries.CreateEntity(ctx, sqlcgen.CreateEntityParams{
		Kind:    string(e.Kind),
		ID:      e.ID,
		Subtype: e.Subtype,
		Title:   e.Title,
		Link:    e.Link,
	})
	if err != nil {
		return meta.Entity{}, fmt.Errorf("create entity: %w", err)
	}
	return toEntity(row), nil
}

func (s *Store) UpdateEntity(ctx context.Context, e meta.Entity) (meta.Entity, error) {
	row, err := s.queries.UpdateEntity(ctx, sqlcgen.UpdateEntityParams{
		Kind:    string(e.Kind),
		ID:      e.ID,
		Subtype: e.Subtype,
		Title:   e.Title,
		Link:    e.Link,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return meta.Entity{}, meta.ErrNotFound
	}
	if err != nil {
		return meta.Entity{}, err
	}
	return toEntity(row), nil
}

// DeleteEntity removes the record and its attributes in one transaction.
func (s *Store) DeleteEntity(ctx context.Context, kind meta.Kind, id int64) error {
	return s.pool.InTx(ctx, func(q *sqlcgen.Queries) error {
		n, err := q.DeleteEntity(ctx, string(kind), id)
		if err != nil {
			return err
		}
		if n == 0 {
			return meta.ErrNotFound
		}
		return q.DeleteAllMeta(ctx, string(kind), id)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func toEntity(e sqlcgen.Entity) meta.Entity {
	return meta.Entity{
		ID:      e.ID,
		Kind:    meta.Kind(e.Kind),
		Subtype: e.Subtype,
		Title:   e.Title,
		Link:    e.Link,
	}
}
