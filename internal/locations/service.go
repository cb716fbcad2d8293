package locations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/connections"
	"cabinmap/core-go/internal/geometry"
	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/spatial"
	"cabinmap/core-go/internal/style"
)

// ValidationError lists rejected input fields. Nothing is written when one is
// returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Input carries the writable fields of a location. Nil fields are left
// unchanged on update. An empty Label or GroupTag clears the stored value.
type Input struct {
	Title       *string
	Type        *string
	Coordinates json.RawMessage
	Label       *string
	GroupTag    *string
	Style       *style.Patch
	Connections *[]connections.Target
}

// ConnectionDetail is a connection with the target's display fields.
type ConnectionDetail struct {
	ID       int64     `json:"id"`
	Kind     meta.Kind `json:"kind"`
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Link     string    `json:"link,omitempty"`
	Resolved bool      `json:"resolved"`
}

type Service struct {
	log       zerolog.Logger
	store     Backend
	index     *connections.Index
	styles    *style.Resolver
	assembler *Assembler
}

func NewService(log zerolog.Logger, store Backend, index *connections.Index, styles *style.Resolver) *Service {
	return &Service{
		log:       log,
		store:     store,
		index:     index,
		styles:    styles,
		assembler: NewAssembler(log, store, index, styles),
	}
}

func (s *Service) Index() *connections.Index {
	return s.index
}

// location returns the record for id, or meta.ErrNotFound when id is not a
// location.
func (s *Service) location(ctx context.Context, id int64) (meta.Entity, error) {
	if id <= 0 {
		return meta.Entity{}, meta.ErrNotFound
	}
	e, err := s.store.Entity(ctx, meta.KindContent, id)
	if err != nil {
		return meta.Entity{}, err
	}
	if !e.IsLocation() {
		return meta.Entity{}, meta.ErrNotFound
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	e, err := s.location(ctx, id)
	if err != nil {
		return Location{}, err
	}
	return s.assembler.Assemble(ctx, e)
}

// List assembles every location. A non-nil bbox restricts the result to
// locations whose stored geometry intersects it; locations with invalid
// stored geometry never match a bbox.
func (s *Service) List(ctx context.Context, bbox *geometry.Box) ([]Location, error) {
	ents, err := s.store.ListEntities(ctx, meta.KindContent, meta.SubtypeLocation)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}

	if bbox != nil {
		ents, err = s.filterByBox(ctx, ents, *bbox)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Location, 0, len(ents))
	for _, e := range ents {
		loc, err := s.assembler.Assemble(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

func (s *Service) filterByBox(ctx context.Context, ents []meta.Entity, bbox geometry.Box) ([]meta.Entity, error) {
	idx := spatial.New()
	for _, e := range ents {
		raw, err := s.store.Get(ctx, meta.KindContent, e.ID, KeyCoordinates)
		if err != nil {
			return nil, fmt.Errorf("get coordinates: %w", err)
		}
		payload, err := geometry.Decode(raw)
		if err != nil {
			continue
		}
		box, ok := geometry.Bounds(payload)
		if !ok {
			continue
		}
		if err := idx.Insert(e.ID, box); err != nil {
			s.log.Debug().Err(err).Int64("location_id", e.ID).Msg("skipping location in bbox filter")
		}
	}

	ids, err := idx.Search(bbox)
	if err != nil {
		ve := &ValidationError{}
		ve.add("bbox", err.Error())
		return nil, ve
	}
	keep := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := ents[:0:0]
	for _, e := range ents {
		if _, ok := keep[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create validates in, creates the location record and writes its attributes.
// Title and coordinates are required.
func (s *Service) Create(ctx context.Context, in Input) (Location, error) {
	ve := &ValidationError{}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		ve.add("title", "is required")
	}
	if len(in.Coordinates) == 0 {
		ve.add("coordinates", "is required")
	}
	w := s.validate(in, style.Default(), "", ve)
	if err := ve.orNil(); err != nil {
		return Location{}, err
	}

	e, err := s.store.CreateEntity(ctx, meta.Entity{
		Kind:    meta.KindContent,
		Subtype: meta.SubtypeLocation,
		Title:   strings.TrimSpace(*in.Title),
	})
	if err != nil {
		return Location{}, fmt.Errorf("create location: %w", err)
	}
	if err := s.apply(ctx, e.ID, in, w); err != nil {
		s.discard(ctx, e.ID)
		return Location{}, err
	}
	s.log.Info().Int64("location_id", e.ID).Str("type", string(w.shape)).Msg("location created")
	return s.assembler.Assemble(ctx, e)
}

// Update validates in against the stored location and applies the supplied
// fields. Connections, when present, replace the current edge set.
func (s *Service) Update(ctx context.Context, id int64, in Input) (Location, error) {
	e, err := s.location(ctx, id)
	if err != nil {
		return Location{}, err
	}

	ve := &ValidationError{}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		ve.add("title", "must not be empty")
	}
	current, err := s.styles.Get(ctx, id)
	if err != nil {
		return Location{}, err
	}
	storedCoords, err := s.store.Get(ctx, meta.KindContent, id, KeyCoordinates)
	if err != nil {
		return Location{}, fmt.Errorf("get coordinates: %w", err)
	}
	w := s.validate(in, current, string(storedCoords), ve)
	if err := ve.orNil(); err != nil {
		return Location{}, err
	}

	if in.Title != nil {
		e.Title = strings.TrimSpace(*in.Title)
		if e, err = s.store.UpdateEntity(ctx, e); err != nil {
			return Location{}, fmt.Errorf("update location: %w", err)
		}
	}
	if err := s.apply(ctx, id, in, w); err != nil {
		return Location{}, err
	}
	return s.assembler.Assemble(ctx, e)
}

// UpdateStyle applies a partial style update to an existing location.
func (s *Service) UpdateStyle(ctx context.Context, id int64, patch style.Patch) (style.Style, error) {
	if _, err := s.location(ctx, id); err != nil {
		return style.Style{}, err
	}
	st, err := s.styles.UpdateStyle(ctx, id, patch)
	if errors.Is(err, style.ErrInvalidStyle) {
		ve := &ValidationError{}
		ve.add("style", err.Error())
		return style.Style{}, ve
	}
	return st, err
}

// Delete removes a location after cleaning up every connection that points
// at or from it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.location(ctx, id); err != nil {
		return err
	}
	if err := s.index.CleanupOnDelete(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteEntity(ctx, meta.KindContent, id); err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	s.log.Info().Int64("location_id", id).Msg("location deleted")
	return nil
}

// discard removes a location whose initial write failed part way.
func (s *Service) discard(ctx context.Context, id int64) {
	if err := s.index.CleanupOnDelete(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("location_id", id).Msg("discard partial location: cleanup")
	}
	if err := s.store.DeleteEntity(ctx, meta.KindContent, id); err != nil {
		s.log.Warn().Err(err).Int64("location_id", id).Msg("discard partial location")
	}
}

// MigrationReport summarizes a MigrateConnections sweep.
type MigrationReport struct {
	Scanned  int
	Migrated int
}

// MigrateConnections rewrites legacy connection lists on every location. It
// is safe to run repeatedly; already-typed lists are left untouched.
func (s *Service) MigrateConnections(ctx context.Context) (MigrationReport, error) {
	ents, err := s.store.ListEntities(ctx, meta.KindContent, meta.SubtypeLocation)
	if err != nil {
		return MigrationReport{}, fmt.Errorf("list locations: %w", err)
	}
	var rep MigrationReport
	for _, e := range ents {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		migrated, err := s.index.MigrateLegacy(ctx, e.ID)
		if err != nil {
			return rep, fmt.Errorf("migrate location %d: %w", e.ID, err)
		}
		if migrated {
			rep.Migrated++
			s.log.Info().Int64("location_id", e.ID).Msg("legacy connections migrated")
		}
	}
	return rep, nil
}

// ConnectionDetails lists the location's connections with the target's title
// and link. Targets whose record no longer exists are returned unresolved.
func (s *Service) ConnectionDetails(ctx context.Context, id int64) ([]ConnectionDetail, error) {
	if _, err := s.location(ctx, id); err != nil {
		return nil, err
	}
	conns, err := s.index.GetConnections(ctx, id)
	if err != nil {
		return nil, err
	}
	terms, err := s.index.GetTermConnections(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]ConnectionDetail, 0, len(conns)+len(terms))
	for _, c := range conns {
		d, err := s.detail(ctx, c.ID, c.Kind, c.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	for _, tc := range terms {
		d, err := s.detail(ctx, tc.TermID, meta.KindTerm, tc.Taxonomy)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) detail(ctx context.Context, id int64, kind meta.Kind, typ string) (ConnectionDetail, error) {
	d := ConnectionDetail{ID: id, Kind: kind, Type: typ}
	e, err := s.store.Entity(ctx, kind, id)
	switch {
	case errors.Is(err, meta.ErrNotFound):
		return d, nil
	case err != nil:
		return ConnectionDetail{}, fmt.Errorf("connection target lookup: %w", err)
	}
	d.Title, d.Link, d.Resolved = e.Title, e.Link, true
	return d, nil
}

// write is the validated form of an Input.
type write struct {
	shape       geometry.Shape
	coordinates []byte
	label       *string
	groupTag    *string
	style       *style.Style
}

func (s *Service) validate(in Input, currentStyle style.Style, storedCoords string, ve *ValidationError) write {
	var w write

	if len(in.Coordinates) > 0 {
		shape, ok := geometry.ValidateJSON(in.Coordinates)
		if !ok {
			ve.add("coordinates", "must be a marker, rectangle or polygon geometry")
		} else {
			w.shape = shape
			w.coordinates = compact(in.Coordinates)
		}
	}

	if in.Type != nil {
		declared, ok := geometry.ParseShape(strings.TrimSpace(*in.Type))
		switch {
		case !ok:
			ve.add("type", "must be one of marker, rectangle, polygon")
		case w.shape != "" && declared != w.shape:
			ve.add("type", fmt.Sprintf("does not match coordinates (%s)", w.shape))
		case w.shape == "" && len(in.Coordinates) == 0:
			stored, valid := geometry.ValidateJSON([]byte(storedCoords))
			if !valid || stored != declared {
				ve.add("type", "does not match stored coordinates")
			}
		}
	}

	if in.Label != nil {
		l := SanitizeLabel(*in.Label)
		w.label = &l
	}
	if in.GroupTag != nil {
		g := strings.TrimSpace(*in.GroupTag)
		w.groupTag = &g
	}

	if in.Style != nil {
		st, err := s.styles.Resolve(currentStyle, *in.Style)
		if err != nil {
			ve.add("style", err.Error())
		} else {
			w.style = &st
		}
	}

	if in.Connections != nil {
		for i, t := range *in.Connections {
			if t.ID <= 0 || !t.Kind.Valid() {
				ve.add(fmt.Sprintf("connections[%d]", i), "needs a positive id and a kind of content, account or term")
			}
		}
	}
	return w
}

func (s *Service) apply(ctx context.Context, id int64, in Input, w write) error {
	if w.coordinates != nil {
		if err := s.store.Set(ctx, meta.KindContent, id, KeyCoordinates, w.coordinates); err != nil {
			return fmt.Errorf("set coordinates: %w", err)
		}
		if err := s.setString(ctx, id, KeyType, string(w.shape)); err != nil {
			return err
		}
	}
	if w.label != nil {
		if err := s.setString(ctx, id, KeyLabel, *w.label); err != nil {
			return err
		}
	}
	if w.groupTag != nil {
		if err := s.setString(ctx, id, KeyGroupTag, *w.groupTag); err != nil {
			return err
		}
	}
	if w.style != nil {
		b, err := json.Marshal(*w.style)
		if err != nil {
			return fmt.Errorf("encode style: %w", err)
		}
		if err := s.store.Set(ctx, meta.KindContent, id, style.KeyStyle, b); err != nil {
			return fmt.Errorf("set style: %w", err)
		}
	}
	if in.Connections != nil {
		if err := s.index.SetConnections(ctx, id, *in.Connections); err != nil {
			return err
		}
	}
	return nil
}

// setString stores v as a JSON string, or deletes key when v is empty.
func (s *Service) setString(ctx context.Context, id int64, key, v string) error {
	if v == "" {
		if err := s.store.Delete(ctx, meta.KindContent, id, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.store.Set(ctx, meta.KindContent, id, key, b); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return []byte(raw)
	}
	return buf.Bytes()
}
