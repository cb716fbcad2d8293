// Package connections maintains the bidirectional relation graph between
// locations and the entities they are connected to.
//
// Every forward edge on a location (`_connections` for content and accounts,
// `_term_connections` for taxonomy terms) is mirrored by the location id in the
// target's `_connected_locations` list. Each mutating operation is a pair of
// independent read-modify-write cycles against the attribute store. Without
// Options.SerializedWrites two concurrent writers on the same list can lose an
// update; with it, cycles on the same (kind, id) are serialized within this
// process only.
package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/metrics"
)

const (
	KeyConnections        = "_connections"
	KeyConnectedLocations = "_connected_locations"
	KeyTermConnections    = "_term_connections"
)

// Content targets whose record has vanished are tagged with this type.
const defaultContentType = "post"

const (
	opAdd     = "add"
	opRemove  = "remove"
	opCleanup = "cleanup"
	opMigrate = "migrate"

	outcomeWritten  = "written"
	outcomeNoop     = "noop"
	outcomeRejected = "rejected"
)

var ErrInvalidTarget = errors.New("invalid connection target")

// Connection is a forward edge from a location to a content item or account.
// Type is "user" for accounts and the post type for content.
type Connection struct {
	ID   int64     `json:"id"`
	Kind meta.Kind `json:"kind"`
	Type string    `json:"type"`
}

// TermConnection is a forward edge from a location to a taxonomy term.
type TermConnection struct {
	TermID   int64  `json:"term_id"`
	Taxonomy string `json:"taxonomy"`
}

// Target identifies the far end of an edge.
type Target struct {
	ID   int64     `json:"id"`
	Kind meta.Kind `json:"kind"`
}

func (t Target) valid() bool {
	return t.ID > 0 && t.Kind.Valid()
}

// Backend is the storage the index needs: attributes plus entity lookups for
// legacy kind probing and edge types.
type Backend interface {
	meta.Store
	meta.Entities
}

type Options struct {
	// SerializedWrites enables per-(kind, id) locking of read-modify-write
	// cycles. Off by default.
	SerializedWrites bool
}

type Index struct {
	log     zerolog.Logger
	store   Backend
	locks   *keyedMutex
	metrics *metrics.Metrics
}

func New(log zerolog.Logger, store Backend, opts Options, m *metrics.Metrics) *Index {
	var locks *keyedMutex
	if opts.SerializedWrites {
		locks = newKeyedMutex()
	}
	return &Index{log: log, store: store, locks: locks, metrics: m}
}

// GetConnections returns the location's content and account edges in stored
// order. Legacy bare ids are resolved by probing accounts first, then content;
// unresolvable ids are dropped. Nothing is written back.
func (x *Index) GetConnections(ctx context.Context, locationID int64) ([]Connection, error) {
	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyConnections)
	if err != nil {
		return nil, fmt.Errorf("get connections: %w", err)
	}
	return x.resolveEdges(ctx, decodeEdges(raw))
}

// GetConnectionIDs projects GetConnections onto target ids.
func (x *Index) GetConnectionIDs(ctx context.Context, locationID int64) ([]int64, error) {
	conns, err := x.GetConnections(ctx, locationID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// GetTermConnections returns the location's taxonomy edges.
func (x *Index) GetTermConnections(ctx context.Context, locationID int64) ([]TermConnection, error) {
	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyTermConnections)
	if err != nil {
		return nil, fmt.Errorf("get term connections: %w", err)
	}
	return x.resolveTerms(ctx, decodeTerms(raw))
}

// GetConnectedLocations reads the reverse index of a target.
func (x *Index) GetConnectedLocations(ctx context.Context, targetID int64, kind meta.Kind) ([]int64, error) {
	if !(Target{ID: targetID, Kind: kind}).valid() {
		return []int64{}, nil
	}
	raw, err := x.store.Get(ctx, kind, targetID, KeyConnectedLocations)
	if err != nil {
		return nil, fmt.Errorf("get connected locations: %w", err)
	}
	return decodeIDList(raw), nil
}

// AddConnection creates the edge location -> target and its reverse entry.
// It returns false for a zero id or unknown kind. An existing forward edge is
// left alone but the reverse entry is still repaired.
func (x *Index) AddConnection(ctx context.Context, locationID int64, target Target) (bool, error) {
	if locationID <= 0 || !target.valid() {
		x.metrics.IncConnectionMutation(opAdd, string(target.Kind), outcomeRejected)
		return false, nil
	}

	var err error
	if target.Kind == meta.KindTerm {
		err = x.addTermForward(ctx, locationID, target.ID)
	} else {
		err = x.addForward(ctx, locationID, target)
	}
	if err != nil {
		return false, err
	}
	if err := x.addReverse(ctx, locationID, target); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveConnection deletes the edge location -> target and its reverse entry.
// Removing an edge that does not exist succeeds.
func (x *Index) RemoveConnection(ctx context.Context, locationID int64, target Target) (bool, error) {
	if locationID <= 0 || !target.valid() {
		return true, nil
	}
	if err := x.removeForward(ctx, locationID, target); err != nil {
		return false, err
	}
	if err := x.removeReverse(ctx, locationID, target); err != nil {
		return false, err
	}
	return true, nil
}

// SetConnections makes the location's edges equal to targets: edges not in
// targets are removed, missing ones are appended in the given order.
func (x *Index) SetConnections(ctx context.Context, locationID int64, targets []Target) error {
	if locationID <= 0 {
		return fmt.Errorf("%w: location id %d", ErrInvalidTarget, locationID)
	}
	desired := make([]Target, 0, len(targets))
	seen := make(map[Target]struct{}, len(targets))
	for _, t := range targets {
		if !t.valid() {
			return fmt.Errorf("%w: %s %d", ErrInvalidTarget, t.Kind, t.ID)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		desired = append(desired, t)
	}

	current, err := x.currentTargets(ctx, locationID)
	if err != nil {
		return err
	}
	for _, t := range current {
		if _, keep := seen[t]; keep {
			continue
		}
		if _, err := x.RemoveConnection(ctx, locationID, t); err != nil {
			return err
		}
	}
	for _, t := range desired {
		if _, err := x.AddConnection(ctx, locationID, t); err != nil {
			return err
		}
	}
	return nil
}

// CleanupOnDelete strips locationID from the reverse list of every entity it
// points at, removes edges other locations hold to it, and clears its own
// lists. It must run before the location record is deleted and does nothing
// for ids that are not location records.
func (x *Index) CleanupOnDelete(ctx context.Context, locationID int64) error {
	e, err := x.store.Entity(ctx, meta.KindContent, locationID)
	if errors.Is(err, meta.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cleanup lookup: %w", err)
	}
	if !e.IsLocation() {
		x.log.Debug().Int64("entity_id", locationID).Str("subtype", e.Subtype).Msg("cleanup skipped for non-location entity")
		return nil
	}

	targets, err := x.currentTargets(ctx, locationID)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := x.removeReverse(ctx, locationID, t); err != nil {
			return err
		}
	}

	sources, err := x.GetConnectedLocations(ctx, locationID, meta.KindContent)
	if err != nil {
		return err
	}
	self := Target{ID: locationID, Kind: meta.KindContent}
	for _, src := range sources {
		if err := x.removeForward(ctx, src, self); err != nil {
			return err
		}
	}

	for _, key := range []string{KeyConnections, KeyTermConnections, KeyConnectedLocations} {
		if err := x.store.Delete(ctx, meta.KindContent, locationID, key); err != nil {
			return fmt.Errorf("cleanup %s: %w", key, err)
		}
	}
	x.metrics.IncConnectionMutation(opCleanup, string(meta.KindContent), outcomeWritten)
	x.log.Info().Int64("location_id", locationID).Int("targets", len(targets)).Int("sources", len(sources)).Msg("location connections cleaned up")
	return nil
}

// MigrateLegacy rewrites legacy bare-id entries of the location's forward
// lists as typed edges and repairs the matching reverse entries. It reports
// whether anything was rewritten.
func (x *Index) MigrateLegacy(ctx context.Context, locationID int64) (bool, error) {
	if locationID <= 0 {
		return false, nil
	}
	migratedEdges, conns, err := x.migrateEdges(ctx, locationID)
	if err != nil {
		return false, err
	}
	migratedTerms, terms, err := x.migrateTerms(ctx, locationID)
	if err != nil {
		return false, err
	}
	if !migratedEdges && !migratedTerms {
		return false, nil
	}

	for _, c := range conns {
		if err := x.addReverse(ctx, locationID, Target{ID: c.ID, Kind: c.Kind}); err != nil {
			return false, err
		}
	}
	for _, tc := range terms {
		if err := x.addReverse(ctx, locationID, Target{ID: tc.TermID, Kind: meta.KindTerm}); err != nil {
			return false, err
		}
	}
	x.metrics.IncConnectionMutation(opMigrate, string(meta.KindContent), outcomeWritten)
	return true, nil
}

func (x *Index) migrateEdges(ctx context.Context, locationID int64) (bool, []Connection, error) {
	unlock := x.locks.lock(meta.KindContent, locationID)
	defer unlock()

	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyConnections)
	if err != nil {
		return false, nil, fmt.Errorf("migrate connections: %w", err)
	}
	edges := decodeEdges(raw)
	if !slices.ContainsFunc(edges, func(e storedEdge) bool { return e.legacy }) {
		return false, nil, nil
	}
	conns, err := x.resolveEdges(ctx, edges)
	if err != nil {
		return false, nil, err
	}
	items := make([]json.RawMessage, 0, len(conns))
	for _, c := range conns {
		item, err := encodeEdge(c)
		if err != nil {
			return false, nil, fmt.Errorf("encode edge: %w", err)
		}
		items = append(items, item)
	}
	if err := x.setList(ctx, meta.KindContent, locationID, KeyConnections, items); err != nil {
		return false, nil, err
	}
	return true, conns, nil
}

func (x *Index) migrateTerms(ctx context.Context, locationID int64) (bool, []TermConnection, error) {
	unlock := x.locks.lock(meta.KindContent, locationID)
	defer unlock()

	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyTermConnections)
	if err != nil {
		return false, nil, fmt.Errorf("migrate term connections: %w", err)
	}
	stored := decodeTerms(raw)
	if !slices.ContainsFunc(stored, func(t storedTerm) bool { return t.legacy }) {
		return false, nil, nil
	}
	terms, err := x.resolveTerms(ctx, stored)
	if err != nil {
		return false, nil, err
	}
	items := make([]json.RawMessage, 0, len(terms))
	for _, tc := range terms {
		item, err := encodeTerm(tc)
		if err != nil {
			return false, nil, fmt.Errorf("encode term: %w", err)
		}
		items = append(items, item)
	}
	if err := x.setList(ctx, meta.KindContent, locationID, KeyTermConnections, items); err != nil {
		return false, nil, err
	}
	return true, terms, nil
}

func (x *Index) currentTargets(ctx context.Context, locationID int64) ([]Target, error) {
	conns, err := x.GetConnections(ctx, locationID)
	if err != nil {
		return nil, err
	}
	terms, err := x.GetTermConnections(ctx, locationID)
	if err != nil {
		return nil, err
	}
	out := make([]Target, 0, len(conns)+len(terms))
	for _, c := range conns {
		out = append(out, Target{ID: c.ID, Kind: c.Kind})
	}
	for _, tc := range terms {
		out = append(out, Target{ID: tc.TermID, Kind: meta.KindTerm})
	}
	return out, nil
}

func (x *Index) addForward(ctx context.Context, locationID int64, target Target) error {
	unlock := x.locks.lock(meta.KindContent, locationID)
	defer unlock()

	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyConnections)
	if err != nil {
		return fmt.Errorf("add connection: %w", err)
	}
	edges := decodeEdges(raw)
	current, err := x.resolveEdges(ctx, edges)
	if err != nil {
		return err
	}
	for _, c := range current {
		if c.ID == target.ID && c.Kind == target.Kind {
			x.metrics.IncConnectionMutation(opAdd, string(target.Kind), outcomeNoop)
			return nil
		}
	}

	typ, err := x.edgeType(ctx, target)
	if err != nil {
		return err
	}
	item, err := encodeEdge(Connection{ID: target.ID, Kind: target.Kind, Type: typ})
	if err != nil {
		return fmt.Errorf("encode edge: %w", err)
	}
	items := make([]json.RawMessage, 0, len(edges)+1)
	for _, e := range edges {
		items = append(items, e.raw)
	}
	items = append(items, item)
	if err := x.setList(ctx, meta.KindContent, locationID, KeyConnections, items); err != nil {
		return err
	}
	x.metrics.IncConnectionMutation(opAdd, string(target.Kind), outcomeWritten)
	return nil
}

func (x *Index) addTermForward(ctx context.Context, locationID, termID int64) error {
	unlock := x.locks.lock(meta.KindContent, locationID)
	defer unlock()

	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyTermConnections)
	if err != nil {
		return fmt.Errorf("add term connection: %w", err)
	}
	stored := decodeTerms(raw)
	for _, t := range stored {
		if t.termID == termID {
			x.metrics.IncConnectionMutation(opAdd, string(meta.KindTerm), outcomeNoop)
			return nil
		}
	}

	var taxonomy string
	term, err := x.store.Entity(ctx, meta.KindTerm, termID)
	switch {
	case err == nil:
		taxonomy = term.Subtype
	case !errors.Is(err, meta.ErrNotFound):
		return fmt.Errorf("term lookup: %w", err)
	}

	item, err := encodeTerm(TermConnection{TermID: termID, Taxonomy: taxonomy})
	if err != nil {
		return fmt.Errorf("encode term: %w", err)
	}
	items := make([]json.RawMessage, 0, len(stored)+1)
	for _, t := range stored {
		items = append(items, t.raw)
	}
	items = append(items, item)
	if err := x.setList(ctx, meta.KindContent, locationID, KeyTermConnections, items); err != nil {
		return err
	}
	x.metrics.IncConnectionMutation(opAdd, string(meta.KindTerm), outcomeWritten)
	return nil
}

func (x *Index) addReverse(ctx context.Context, locationID int64, target Target) error {
	unlock := x.locks.lock(target.Kind, target.ID)
	defer unlock()

	raw, err := x.store.Get(ctx, target.Kind, target.ID, KeyConnectedLocations)
	if err != nil {
		return fmt.Errorf("get reverse list: %w", err)
	}
	ids := decodeIDList(raw)
	if slices.Contains(ids, locationID) {
		return nil
	}
	return x.setIDs(ctx, target, append(ids, locationID))
}

func (x *Index) removeForward(ctx context.Context, locationID int64, target Target) error {
	if target.Kind == meta.KindTerm {
		return x.removeTermForward(ctx, locationID, target.ID)
	}

	unlock := x.locks.lock(meta.KindContent, locationID)
	defer unlock()

	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyConnections)
	if err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	edges := decodeEdges(raw)
	items := make([]json.RawMessage, 0, len(edges))
	for _, e := range edges {
		if e.id == target.ID {
			c, ok, err := x.resolve(ctx, e)
			if err != nil {
				return err
			}
			if ok && c.Kind == target.Kind {
				continue
			}
		}
		items = append(items, e.raw)
	}
	if len(items) == len(edges) {
		x.metrics.IncConnectionMutation(opRemove, string(target.Kind), outcomeNoop)
		return nil
	}
	if err := x.setList(ctx, meta.KindContent, locationID, KeyConnections, items); err != nil {
		return err
	}
	x.metrics.IncConnectionMutation(opRemove, string(target.Kind), outcomeWritten)
	return nil
}

func (x *Index) removeTermForward(ctx context.Context, locationID, termID int64) error {
	unlock := x.locks.lock(meta.KindContent, locationID)
	defer unlock()

	raw, err := x.store.Get(ctx, meta.KindContent, locationID, KeyTermConnections)
	if err != nil {
		return fmt.Errorf("remove term connection: %w", err)
	}
	stored := decodeTerms(raw)
	items := make([]json.RawMessage, 0, len(stored))
	for _, t := range stored {
		if t.termID == termID {
			continue
		}
		items = append(items, t.raw)
	}
	if len(items) == len(stored) {
		x.metrics.IncConnectionMutation(opRemove, string(meta.KindTerm), outcomeNoop)
		return nil
	}
	if err := x.setList(ctx, meta.KindContent, locationID, KeyTermConnections, items); err != nil {
		return err
	}
	x.metrics.IncConnectionMutation(opRemove, string(meta.KindTerm), outcomeWritten)
	return nil
}

func (x *Index) removeReverse(ctx context.Context, locationID int64, target Target) error {
	unlock := x.locks.lock(target.Kind, target.ID)
	defer unlock()

	raw, err := x.store.Get(ctx, target.Kind, target.ID, KeyConnectedLocations)
	if err != nil {
		return fmt.Errorf("get reverse list: %w", err)
	}
	ids := decodeIDList(raw)
	kept := slices.DeleteFunc(slices.Clone(ids), func(id int64) bool { return id == locationID })
	if len(kept) == len(ids) {
		return nil
	}
	return x.setIDs(ctx, target, kept)
}

func (x *Index) setList(ctx context.Context, kind meta.Kind, id int64, key string, items []json.RawMessage) error {
	b, err := encodeList(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := x.store.Set(ctx, kind, id, key, b); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (x *Index) setIDs(ctx context.Context, target Target, ids []int64) error {
	b, err := encodeIDList(ids)
	if err != nil {
		return fmt.Errorf("encode reverse list: %w", err)
	}
	if err := x.store.Set(ctx, target.Kind, target.ID, KeyConnectedLocations, b); err != nil {
		return fmt.Errorf("set reverse list: %w", err)
	}
	return nil
}

func (x *Index) edgeType(ctx context.Context, target Target) (string, error) {
	if target.Kind == meta.KindAccount {
		return meta.SubtypeAccount, nil
	}
	e, err := x.store.Entity(ctx, target.Kind, target.ID)
	if errors.Is(err, meta.ErrNotFound) {
		return defaultContentType, nil
	}
	if err != nil {
		return "", fmt.Errorf("target lookup: %w", err)
	}
	if e.Subtype == "" {
		return defaultContentType, nil
	}
	return e.Subtype, nil
}
