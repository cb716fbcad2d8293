package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getMeta = `-- name: GetMeta :one
SELECT meta_value
FROM entity_meta
WHERE kind = $1
  AND entity_id = $2
  AND meta_key = $3
`

func (q *Queries) GetMeta(ctx context.Context, kind string, entityID int64, key string) (string, error) {
	row := q.db.QueryRow(ctx, getMeta, kind, entityID, key)
	var v string
	err := row.Scan(&v)
	return v, err
}

const upsertMeta = `-- name: UpsertMeta :exec
INSERT INTO entity_meta (kind, entity_id, meta_key, meta_value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (kind, entity_id, meta_key)
DO UPDATE SET meta_value = EXCLUDED.meta_value,
              updated_at = now()
`

type UpsertMetaParams struct {
	Kind      string
	EntityID  int64
	MetaKey   string
	MetaValue string
}

func (q *Queries) UpsertMeta(ctx context.Context, arg UpsertMetaParams) error {
	_, err := q.db.Exec(ctx, upsertMeta, arg.Kind, arg.EntityID, arg.MetaKey, arg.MetaValue)
	return err
}

const deleteMeta = `-- name: DeleteMeta :exec
DELETE FROM entity_meta
WHERE kind = $1
  AND entity_id = $2
  AND meta_key = $3
`

func (q *Queries) DeleteMeta(ctx context.Context, kind string, entityID int64, key string) error {
	_, err := q.db.Exec(ctx, deleteMeta, kind, entityID, key)
	return err
}

const deleteAllMeta = `-- name: DeleteAllMeta :exec
DELETE FROM entity_meta
WHERE kind = $1
  AND entity_id = $2
`

func (q *Queries) DeleteAllMeta(ctx context.Context, kind string, entityID int64) error {
	_, err := q.db.Exec(ctx, deleteAllMeta, kind, entityID)
	return err
}

const getEntity = `-- name: GetEntity :one
SELECT kind, id, subtype, title, link, created_at, updated_at
FROM entities
WHERE kind = $1
  AND id = $2
`

func (q *Queries) GetEntity(ctx context.Context, kind string, id int64) (Entity, error) {
	row := q.db.QueryRow(ctx, getEntity, kind, id)
	var i Entity
	err := row.Scan(&i.Kind, &i.ID, &i.Subtype, &i.Title, &i.Link, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const listEntities = `-- name: ListEntities :many
SELECT kind, id, subtype, title, link, created_at, updated_at
FROM entities
WHERE kind = $1
  AND ($2::text = '' OR subtype = $2::text)
ORDER BY id ASC
`

func (q *Queries) ListEntities(ctx context.Context, kind, subtype string) ([]Entity, error) {
	rows, err := q.db.Query(ctx, listEntities, kind, subtype)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Entity
	for rows.Next() {
		var i Entity
		if err := rows.Scan(&i.Kind, &i.ID, &i.Subtype, &i.Title, &i.Link, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createEntity = `-- name: CreateEntity :one
INSERT INTO entities (kind, id, subtype, title, link)
VALUES (
  $1,
  CASE
    WHEN $2::bigint > 0 THEN $2::bigint
    ELSE (SELECT COALESCE(MAX(id), 0) + 1 FROM entities WHERE kind = $1)
  END,
  $3, $4, $5
)
RETURNING kind, id, subtype, title, link, created_at, updated_at
`

type CreateEntityParams struct {
	Kind    string
	ID      int64
	Subtype string
	Title   string
	Link    string
}

func (q *Queries) CreateEntity(ctx context.Context, arg CreateEntityParams) (Entity, error) {
	row := q.db.QueryRow(ctx, createEntity, arg.Kind, arg.ID, arg.Subtype, arg.Title, arg.Link)
	var i Entity
	err := row.Scan(&i.Kind, &i.ID, &i.Subtype, &i.Title, &i.Link, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const updateEntity = `-- name: UpdateEntity :one
UPDATE entities
SET subtype = $3,
    title = $4,
    link = $5,
    updated_at = now()
WHERE kind = $1
  AND id = $2
RETURNING kind, id, subtype, title, link, created_at, updated_at
`

type UpdateEntityParams struct {
	Kind    string
	ID      int64
	Subtype string
	Title   string
	Link    string
}

func (q *Queries) UpdateEntity(ctx context.Context, arg UpdateEntityParams) (Entity, error) {
	row := q.db.QueryRow(ctx, updateEntity, arg.Kind, arg.ID, arg.Subtype, arg.Title, arg.Link)
	var i Entity
	err := row.Scan(&i.Kind, &i.ID, &i.Subtype, &i.Title, &i.Link, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const deleteEntity = `-- name: DeleteEntity :execrows
DELETE FROM entities
WHERE kind = $1
  AND id = $2
`

func (q *Queries) DeleteEntity(ctx context.Context, kind string, id int64) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteEntity, kind, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
