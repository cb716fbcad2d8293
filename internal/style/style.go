// Package style resolves location styles: explicit fields layered over an
// optional named preset, with opacity clamped to [0,1].
package style

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"cabinmap/core-go/internal/geometry"
	"cabinmap/core-go/internal/meta"
)

// KeyStyle is the attribute holding a location's style record.
const KeyStyle = "_style"

var ErrInvalidStyle = errors.New("invalid style")

// Style is the canonical, persisted style record.
type Style struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
	Weight  float64 `json:"weight"`
	Icon    string  `json:"icon,omitempty"`
	Preset  string  `json:"preset,omitempty"`
}

// Default is the style of a location that has never been styled.
func Default() Style {
	return Style{Color: "#3388ff", Opacity: 1, Weight: 3}
}

// Patch is a partial style update. Nil fields are left untouched. An empty
// Preset clears the preset name but keeps the current color and icon.
type Patch struct {
	Color   *string  `json:"color,omitempty"`
	Opacity *float64 `json:"opacity,omitempty"`
	Weight  *float64 `json:"weight,omitempty"`
	Icon    *string  `json:"icon,omitempty"`
	Preset  *string  `json:"preset,omitempty"`
}

type Resolver struct {
	store   meta.Store
	presets Presets
	log     zerolog.Logger
}

// NewResolver copies presets; later changes to the caller's map are not seen.
func NewResolver(log zerolog.Logger, store meta.Store, presets Presets) *Resolver {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &Resolver{store: store, presets: presets.clone(), log: log}
}

// Presets returns a copy of the resolver's preset table.
func (r *Resolver) Presets() Presets {
	return r.presets.clone()
}

// Resolve applies patch on top of current. The preset is applied first, then
// explicit fields, so a preset only supplies defaults for the same call.
func (r *Resolver) Resolve(current Style, patch Patch) (Style, error) {
	out := current

	if patch.Preset != nil {
		name := canonicalizePresetName(*patch.Preset)
		if name == "" {
			out.Preset = ""
		} else {
			p, ok := r.presets[name]
			if !ok {
				return Style{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidStyle, name)
			}
			out.Preset = name
			out.Color = p.Color
			out.Icon = p.Icon
		}
	}

	if patch.Color != nil {
		c, ok := geometry.SanitizeColor(*patch.Color)
		if !ok {
			return Style{}, fmt.Errorf("%w: invalid color %q", ErrInvalidStyle, *patch.Color)
		}
		out.Color = c
	}
	if patch.Icon != nil {
		out.Icon = *patch.Icon
	}
	if patch.Weight != nil {
		out.Weight = *patch.Weight
	}
	if patch.Opacity != nil {
		out.Opacity = *patch.Opacity
	}

	out.Opacity = clamp(out.Opacity, 0, 1)
	if out.Weight < 0 {
		out.Weight = 0
	}
	return out, nil
}

// Get reads the stored style. Missing or malformed records yield Default.
func (r *Resolver) Get(ctx context.Context, locationID int64) (Style, error) {
	raw, err := r.store.Get(ctx, meta.KindContent, locationID, KeyStyle)
	if err != nil {
		return Style{}, fmt.Errorf("get style: %w", err)
	}
	return decodeStyle(r.log, locationID, raw), nil
}

// UpdateStyle resolves patch against the stored style and persists the result.
func (r *Resolver) UpdateStyle(ctx context.Context, locationID int64, patch Patch) (Style, error) {
	current, err := r.Get(ctx, locationID)
	if err != nil {
		return Style{}, err
	}
	next, err := r.Resolve(current, patch)
	if err != nil {
		return Style{}, err
	}
	b, err := json.Marshal(next)
	if err != nil {
		return Style{}, fmt.Errorf("encode style: %w", err)
	}
	if err := r.store.Set(ctx, meta.KindContent, locationID, KeyStyle, b); err != nil {
		return Style{}, fmt.Errorf("set style: %w", err)
	}
	return next, nil
}

// Decode parses a stored style record, falling back to Default.
func Decode(raw []byte) Style {
	return decodeStyle(zerolog.Nop(), 0, raw)
}

func decodeStyle(log zerolog.Logger, locationID int64, raw []byte) Style {
	s := Default()
	if len(raw) == 0 {
		return s
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Warn().Err(err).Int64("location_id", locationID).Msg("malformed stored style, using default")
		return Default()
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
