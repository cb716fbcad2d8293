// Package locations composes the external Location representation and
// implements the create/update/delete flows that keep geometry, style, labels
// and connections consistent.
package locations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/connections"
	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/style"
)

const (
	KeyCoordinates = "_coordinates"
	KeyType        = "_type"
	KeyLabel       = "_label"
	KeyGroupTag    = "_group_tag"

	// KeyCabinNumber is read from account records for the label fallback.
	KeyCabinNumber = "cabin_number"
)

// Location is the assembled, externally visible record.
type Location struct {
	ID              int64                        `json:"id"`
	Title           string                       `json:"title"`
	Link            string                       `json:"link,omitempty"`
	Type            string                       `json:"type"`
	Coordinates     json.RawMessage              `json:"coordinates"`
	Style           style.Style                  `json:"style"`
	Label           *string                      `json:"label"`
	GroupTag        string                       `json:"group_tag,omitempty"`
	Connections     []connections.Connection     `json:"connections"`
	TermConnections []connections.TermConnection `json:"term_connections"`
}

// Backend is the storage the assembler and service read and write.
type Backend interface {
	meta.Store
	meta.Entities
}

type Assembler struct {
	log    zerolog.Logger
	store  Backend
	index  *connections.Index
	styles *style.Resolver
}

func NewAssembler(log zerolog.Logger, store Backend, index *connections.Index, styles *style.Resolver) *Assembler {
	return &Assembler{log: log, store: store, index: index, styles: styles}
}

// Assemble reads every attribute of the location record e. Stored values are
// not re-validated: malformed geometry is passed through as stored.
func (a *Assembler) Assemble(ctx context.Context, e meta.Entity) (Location, error) {
	loc := Location{ID: e.ID, Title: e.Title, Link: e.Link}

	coords, err := a.store.Get(ctx, meta.KindContent, e.ID, KeyCoordinates)
	if err != nil {
		return Location{}, fmt.Errorf("get coordinates: %w", err)
	}
	loc.Coordinates = passthrough(coords)

	if loc.Type, err = a.getString(ctx, meta.KindContent, e.ID, KeyType); err != nil {
		return Location{}, err
	}
	if loc.GroupTag, err = a.getString(ctx, meta.KindContent, e.ID, KeyGroupTag); err != nil {
		return Location{}, err
	}
	if loc.Style, err = a.styles.Get(ctx, e.ID); err != nil {
		return Location{}, err
	}
	if loc.Connections, err = a.index.GetConnections(ctx, e.ID); err != nil {
		return Location{}, err
	}
	if loc.TermConnections, err = a.index.GetTermConnections(ctx, e.ID); err != nil {
		return Location{}, err
	}
	if loc.Label, err = a.label(ctx, e.ID, loc.Connections); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// label returns the stored label, else the cabin number of the first
// connected account, else nil.
func (a *Assembler) label(ctx context.Context, locationID int64, conns []connections.Connection) (*string, error) {
	stored, err := a.getString(ctx, meta.KindContent, locationID, KeyLabel)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		return &stored, nil
	}

	for _, c := range conns {
		if c.Kind != meta.KindAccount {
			continue
		}
		raw, err := a.store.Get(ctx, meta.KindAccount, c.ID, KeyCabinNumber)
		if err != nil {
			return nil, fmt.Errorf("get cabin number: %w", err)
		}
		if cabin := scalarString(raw); cabin != "" {
			return &cabin, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (a *Assembler) getString(ctx context.Context, kind meta.Kind, id int64, key string) (string, error) {
	raw, err := a.store.Get(ctx, kind, id, key)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return scalarString(raw), nil
}

// scalarString reads a stored JSON string or number. Values written by older
// clients as bare text are returned as-is.
func scalarString(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	if !json.Valid(raw) {
		return string(raw)
	}
	return ""
}

// passthrough returns stored geometry for embedding in a response. Bytes
// that are not JSON are wrapped in a JSON string rather than dropped.
func passthrough(raw []byte) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(string(raw))
	return b
}
