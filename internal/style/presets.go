package style

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"cabinmap/core-go/internal/geometry"
)

// Preset is a named color and icon bundle.
type Preset struct {
	Color string `yaml:"color" json:"color"`
	Icon  string `yaml:"icon" json:"icon"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Presets is the read-only preset table a Resolver is built with.
type Presets map[string]Preset

// DefaultPresets returns the built-in table used when no presets file is
// configured.
func DefaultPresets() Presets {
	return Presets{
		"cabin":     {Color: "#8b4513", Icon: "home", Label: "Cabin"},
		"common":    {Color: "#ff7800", Icon: "star", Label: "Common area"},
		"parking":   {Color: "#0066cc", Icon: "parking", Label: "Parking"},
		"beach":     {Color: "#f4d03f", Icon: "umbrella-beach", Label: "Beach"},
		"trail":     {Color: "rgb(34,139,34)", Icon: "hiking", Label: "Trail"},
		"water":     {Color: "rgb(90,146,203)", Icon: "tint", Label: "Water"},
		"waste":     {Color: "#666", Icon: "trash", Label: "Waste station"},
		"hazard":    {Color: "#cc0000", Icon: "exclamation-triangle", Label: "Hazard"},
		"boathouse": {Color: "#1abc9c", Icon: "ship", Label: "Boathouse"},
	}
}

type presetsFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadPresets reads a YAML presets file of the form
//
//	presets:
//	  cabin: {color: "#8b4513", icon: home}
//
// and validates it.
func LoadPresets(path string) (Presets, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets %q: %w", path, err)
	}
	var f presetsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse presets %q: %w", path, err)
	}
	out := make(Presets, len(f.Presets))
	for name, p := range f.Presets {
		out[canonicalizePresetName(name)] = p
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("presets %q: %w", path, err)
	}
	return out, nil
}

// Validate checks that every preset has a color SanitizeColor accepts.
func (p Presets) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: preset table is empty", ErrInvalidStyle)
	}
	for _, name := range p.Names() {
		if name == "" {
			return fmt.Errorf("%w: preset with empty name", ErrInvalidStyle)
		}
		if _, ok := geometry.SanitizeColor(p[name].Color); !ok {
			return fmt.Errorf("%w: preset %q has invalid color %q", ErrInvalidStyle, name, p[name].Color)
		}
	}
	return nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	out := make([]string, 0, len(p))
	for name := range p {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p Presets) clone() Presets {
	out := make(Presets, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func canonicalizePresetName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
