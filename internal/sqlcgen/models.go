package sqlcgen

import "time"

type Entity struct {
	Kind      string
	ID        int64
	Subtype   string
	Title     string
	Link      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EntityMeta struct {
	Kind      string
	EntityID  int64
	MetaKey   string
	MetaValue string
	UpdatedAt time.Time
}
