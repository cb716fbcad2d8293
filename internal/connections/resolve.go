package connections

import (
	"context"
	"errors"
	"fmt"

	"cabinmap/core-go/internal/meta"
)

func (x *Index) resolveEdges(ctx context.Context, edges []storedEdge) ([]Connection, error) {
	out := make([]Connection, 0, len(edges))
	for _, e := range edges {
		c, ok, err := x.resolve(ctx, e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (x *Index) resolve(ctx context.Context, e storedEdge) (Connection, bool, error) {
	if !e.legacy {
		return Connection{ID: e.id, Kind: e.kind, Type: e.typ}, true, nil
	}
	return x.probeLegacy(ctx, e.id)
}

// probeLegacy resolves a pre-discriminator bare id. Accounts win over content
// items sharing the same numeric id.
func (x *Index) probeLegacy(ctx context.Context, id int64) (Connection, bool, error) {
	_, err := x.store.Entity(ctx, meta.KindAccount, id)
	switch {
	case err == nil:
		x.metrics.IncLegacyResolution(string(meta.KindAccount))
		return Connection{ID: id, Kind: meta.KindAccount, Type: meta.SubtypeAccount}, true, nil
	case !errors.Is(err, meta.ErrNotFound):
		return Connection{}, false, fmt.Errorf("legacy account probe: %w", err)
	}

	content, err := x.store.Entity(ctx, meta.KindContent, id)
	switch {
	case err == nil:
		x.metrics.IncLegacyResolution(string(meta.KindContent))
		typ := content.Subtype
		if typ == "" {
			typ = defaultContentType
		}
		return Connection{ID: id, Kind: meta.KindContent, Type: typ}, true, nil
	case !errors.Is(err, meta.ErrNotFound):
		return Connection{}, false, fmt.Errorf("legacy content probe: %w", err)
	}

	x.metrics.IncLegacyResolution("dropped")
	x.log.Debug().Int64("id", id).Msg("dropping unresolvable legacy connection id")
	return Connection{}, false, nil
}

func (x *Index) resolveTerms(ctx context.Context, stored []storedTerm) ([]TermConnection, error) {
	out := make([]TermConnection, 0, len(stored))
	for _, t := range stored {
		if !t.legacy {
			out = append(out, TermConnection{TermID: t.termID, Taxonomy: t.taxonomy})
			continue
		}
		term, err := x.store.Entity(ctx, meta.KindTerm, t.termID)
		if errors.Is(err, meta.ErrNotFound) {
			x.log.Debug().Int64("term_id", t.termID).Msg("dropping unresolvable legacy term id")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("legacy term probe: %w", err)
		}
		out = append(out, TermConnection{TermID: t.termID, Taxonomy: term.Subtype})
	}
	return out, nil
}
