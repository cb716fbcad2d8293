package style

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinmap/core-go/internal/geometry"
	"cabinmap/core-go/internal/meta"
)

func ptr[T any](v T) *T { return &v }

func newResolver(t *testing.T) (*Resolver, *meta.Memory) {
	t.Helper()
	store := meta.NewMemory()
	return NewResolver(zerolog.Nop(), store, nil), store
}

func storedStyle(t *testing.T, store *meta.Memory, id int64) Style {
	t.Helper()
	raw, err := store.Get(context.Background(), meta.KindContent, id, KeyStyle)
	require.NoError(t, err)
	require.NotNil(t, raw, "expected a persisted style")
	var s Style
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestDefaultPresets_EveryColorIsValid(t *testing.T) {
	presets := DefaultPresets()
	require.NotEmpty(t, presets)
	for _, name := range presets.Names() {
		p := presets[name]
		assert.NotEmpty(t, p.Color, name)
		got, ok := geometry.SanitizeColor(p.Color)
		assert.True(t, ok, "preset %q color %q", name, p.Color)
		assert.Equal(t, p.Color, got, name)
	}
	assert.NoError(t, presets.Validate())
}

func TestUpdateStyle_ClampsOpacity(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)

	_, err := r.UpdateStyle(ctx, 1, Patch{Opacity: ptr(1.5)})
	require.NoError(t, err)
	assert.Equal(t, 1.0, storedStyle(t, store, 1).Opacity)

	_, err = r.UpdateStyle(ctx, 1, Patch{Opacity: ptr(-0.5)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, storedStyle(t, store, 1).Opacity)

	_, err = r.UpdateStyle(ctx, 1, Patch{Opacity: ptr(0.4)})
	require.NoError(t, err)
	assert.Equal(t, 0.4, storedStyle(t, store, 1).Opacity)
}

func TestUpdateStyle_PresetSetsColorAndIcon(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)

	got, err := r.UpdateStyle(ctx, 7, Patch{Preset: ptr(" Cabin ")})
	require.NoError(t, err)
	assert.Equal(t, "cabin", got.Preset)
	assert.Equal(t, "#8b4513", got.Color)
	assert.Equal(t, "home", got.Icon)
	assert.Equal(t, got, storedStyle(t, store, 7))
}

func TestUpdateStyle_ExplicitFieldsOverridePreset(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t)

	got, err := r.UpdateStyle(ctx, 7, Patch{Preset: ptr("parking"), Color: ptr("#abc"), Weight: ptr(5.0)})
	require.NoError(t, err)
	assert.Equal(t, "parking", got.Preset)
	assert.Equal(t, "#abc", got.Color)
	assert.Equal(t, "parking", got.Icon)
	assert.Equal(t, 5.0, got.Weight)

	// A later call without a preset keeps the previous preset-derived icon.
	got, err = r.UpdateStyle(ctx, 7, Patch{Opacity: ptr(0.5)})
	require.NoError(t, err)
	assert.Equal(t, "parking", got.Icon)
	assert.Equal(t, "#abc", got.Color)
}

func TestUpdateStyle_Rejections(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)

	_, err := r.UpdateStyle(ctx, 3, Patch{Preset: ptr("castle")})
	assert.True(t, errors.Is(err, ErrInvalidStyle))

	_, err = r.UpdateStyle(ctx, 3, Patch{Color: ptr("red")})
	assert.True(t, errors.Is(err, ErrInvalidStyle))

	raw, _ := store.Get(ctx, meta.KindContent, 3, KeyStyle)
	assert.Nil(t, raw, "rejected updates must not write")
}

func TestResolve_ClearsPresetAndClampsWeight(t *testing.T) {
	r, _ := newResolver(t)
	current := Style{Color: "#ff7800", Opacity: 1, Weight: 3, Icon: "star", Preset: "common"}

	got, err := r.Resolve(current, Patch{Preset: ptr(""), Weight: ptr(-2.0)})
	require.NoError(t, err)
	assert.Equal(t, "", got.Preset)
	assert.Equal(t, "#ff7800", got.Color)
	assert.Equal(t, 0.0, got.Weight)
}

func TestGet_MalformedStoredStyleFallsBack(t *testing.T) {
	ctx := context.Background()
	r, store := newResolver(t)
	require.NoError(t, store.Set(ctx, meta.KindContent, 9, KeyStyle, []byte(`"not an object"`)))

	got, err := r.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestNewResolver_CopiesPresetTable(t *testing.T) {
	table := Presets{"dock": {Color: "#123456", Icon: "anchor"}}
	r := NewResolver(zerolog.Nop(), meta.NewMemory(), table)
	table["dock"] = Preset{Color: "#000000"}

	got, err := r.Resolve(Default(), Patch{Preset: ptr("dock")})
	require.NoError(t, err)
	assert.Equal(t, "#123456", got.Color)
	assert.Equal(t, "anchor", got.Icon)
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
presets:
  Dock:
    color: "#123456"
    icon: anchor
  sauna:
    color: "rgb(200, 80, 40)"
    icon: fire
`), 0o600))

	presets, err := LoadPresets(good)
	require.NoError(t, err)
	assert.Equal(t, []string{"dock", "sauna"}, presets.Names())
	assert.Equal(t, "anchor", presets["dock"].Icon)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
presets:
  dock:
    color: navy
`), 0o600))
	_, err = LoadPresets(bad)
	assert.True(t, errors.Is(err, ErrInvalidStyle))

	_, err = LoadPresets(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
