// Package meta describes the host platform's attribute storage: a per-entity
// key/value store namespaced by entity kind, plus the minimal entity directory
// (titles, links, subtypes) that connection details and migrations read from.
package meta

import (
	"context"
	"errors"
	"strings"
)

// Kind namespaces entities. Each kind has its own id space and attribute slots.
type Kind string

const (
	KindContent Kind = "content"
	KindAccount Kind = "account"
	KindTerm    Kind = "term"
)

// SubtypeLocation is the content subtype that marks an entity as a map location.
const SubtypeLocation = "map_location"

// SubtypeAccount is the subtype stored on account entities. Legacy connection
// lists tag accounts with this value instead of a post type.
const SubtypeAccount = "user"

var ErrNotFound = errors.New("entity not found")

func (k Kind) Valid() bool {
	switch k {
	case KindContent, KindAccount, KindTerm:
		return true
	}
	return false
}

// ParseKind accepts the canonical kind names plus the aliases used by the
// legacy schema ("post", "user", "taxonomy").
func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "content", "post":
		return KindContent, true
	case "account", "user":
		return KindAccount, true
	case "term", "taxonomy":
		return KindTerm, true
	}
	return "", false
}

// Entity is a host record: a content item, an account, or a taxonomy term.
type Entity struct {
	ID      int64  `json:"id"`
	Kind    Kind   `json:"kind"`
	Subtype string `json:"subtype"`
	Title   string `json:"title"`
	Link    string `json:"link,omitempty"`
}

// IsLocation reports whether e is a location-type record.
func (e Entity) IsLocation() bool {
	return e.Kind == KindContent && e.Subtype == SubtypeLocation
}

// Store is the per-entity attribute primitive. Get returns (nil, nil) for an
// unset key. Values are raw JSON documents.
type Store interface {
	Get(ctx context.Context, kind Kind, id int64, key string) ([]byte, error)
	Set(ctx context.Context, kind Kind, id int64, key string, value []byte) error
	Delete(ctx context.Context, kind Kind, id int64, key string) error
}

// Entities is the directory of host records.
type Entities interface {
	Entity(ctx context.Context, kind Kind, id int64) (Entity, error)
	ListEntities(ctx context.Context, kind Kind, subtype string) ([]Entity, error)
	CreateEntity(ctx context.Context, e Entity) (Entity, error)
	UpdateEntity(ctx context.Context, e Entity) (Entity, error)
	DeleteEntity(ctx context.Context, kind Kind, id int64) error
}

// Backend is a complete attribute-store implementation.
type Backend interface {
	Store
	Entities
	Ping(ctx context.Context) error
	Close() error
}

// Exists reports whether an entity of the given kind exists. Lookup failures
// other than ErrNotFound are returned.
func Exists(ctx context.Context, ents Entities, kind Kind, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	_, err := ents.Entity(ctx, kind, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
