// Package sqlitestore is the single-file SQLite attribute store backend, for
// small deployments that run without a database server.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"cabinmap/core-go/internal/meta"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	kind    TEXT    NOT NULL,
	id      INTEGER NOT NULL,
	subtype TEXT    NOT NULL DEFAULT '',
	title   TEXT    NOT NULL DEFAULT '',
	link    TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS entities_kind_subtype_idx ON entities (kind, subtype, id);
CREATE TABLE IF NOT EXISTS entity_meta (
	kind       TEXT    NOT NULL,
	entity_id  INTEGER NOT NULL,
	meta_key   TEXT    NOT NULL,
	meta_value BLOB    NOT NULL,
	PRIMARY KEY (kind, entity_id, meta_key)
);
`

type Store struct {
	db   *sql.DB
	path string
}

var _ meta.Backend = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = "cabinmap.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(ctx context.Context, kind meta.Kind, id int64, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT meta_value FROM entity_meta WHERE kind = ? AND entity_id = ? AND meta_key = ?`,
		string(kind), id, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select meta: %w", err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, kind meta.Kind, id int64, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_meta(kind, entity_id, meta_key, meta_value) VALUES(?,?,?,?)
		 ON CONFLICT(kind, entity_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		string(kind), id, key, value)
	if err != nil {
		return fmt.Errorf("upsert meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind meta.Kind, id int64, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_meta WHERE kind = ? AND entity_id = ? AND meta_key = ?`,
		string(kind), id, key); err != nil {
		return fmt.Errorf("delete meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) Entity(ctx context.Context, kind meta.Kind, id int64) (meta.Entity, error) {
	e := meta.Entity{Kind: kind}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subtype, title, link FROM entities WHERE kind = ? AND id = ?`,
		string(kind), id).Scan(&e.ID, &e.Subtype, &e.Title, &e.Link)
	if errors.Is(err, sql.ErrNoRows) {
		return meta.Entity{}, meta.ErrNotFound
	}
	if err != nil {
		return meta.Entity{}, fmt.Errorf("select entity: %w", err)
	}
	return e, nil
}

func (s *Store) ListEntities(ctx context.Context, kind meta.Kind, subtype string) ([]meta.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subtype, title, link FROM entities
		 WHERE kind = ? AND (? = '' OR subtype = ?)
		 ORDER BY id ASC`,
		string(kind), subtype, subtype)
	if err != nil {
		return nil, fmt.Errorf("select entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []meta.Entity
	for rows.Next() {
		e := meta.Entity{Kind: kind}
		if err := rows.Scan(&e.ID, &e.Subtype, &e.Title, &e.Link); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateEntity(ctx context.Context, e meta.Entity) (meta.Entity, error) {
	if !e.Kind.Valid() {
		return meta.Entity{}, fmt.Errorf("create entity: invalid kind %q", e.Kind)
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO entities(kind, id, subtype, title, link)
		 VALUES(?1, CASE WHEN ?2 > 0 THEN ?2 ELSE (SELECT COALESCE(MAX(id), 0) + 1 FROM entities WHERE kind = ?1) END, ?3, ?4, ?5)
		 RETURNING id`,
		string(e.Kind), e.ID, e.Subtype, e.Title, e.Link).Scan(&e.ID)
	if err != nil {
		return meta.Entity{}, fmt.Errorf("create entity: %w", err)
	}
	return e, nil
}

func (s *Store) UpdateEntity(ctx context.Context, e meta.Entity) (meta.Entity, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET subtype = ?, title = ?, link = ? WHERE kind = ? AND id = ?`,
		e.Subtype, e.Title, e.Link, string(e.Kind), e.ID)
	if err != nil {
		return meta.Entity{}, fmt.Errorf("update entity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return meta.Entity{}, meta.ErrNotFound
	}
	return e, nil
}

// DeleteEntity removes the record and its attributes in one transaction.
func (s *Store) DeleteEntity(ctx context.Context, kind meta.Kind, id int64) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return meta.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_meta WHERE kind = ? AND entity_id = ?`, string(kind), id); err != nil {
		return fmt.Errorf("delete entity meta: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
