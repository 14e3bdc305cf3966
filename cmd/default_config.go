package cmd

import (
	"bytes"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Lr-2002/iris/wm"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Preset bundles a world-model configuration with the reference backbone and
// codec parameters used by the demo commands.
type Preset struct {
	wm.Config      `yaml:",inline"`
	BackboneLayers int `yaml:"backbone_layers"`
	BackboneHidden int `yaml:"backbone_hidden"`
	CellPixels     int `yaml:"cell_pixels"`
}

// Defaults represents the full defaults.yaml structure. All top-level
// sections must be listed to satisfy KnownFields(true) strict parsing.
type Defaults struct {
	Version string            `yaml:"version"`
	Presets map[string]Preset `yaml:"presets"`
}

// LoadDefaults parses defaults.yaml content with strict field checking.
func LoadDefaults(data []byte) (Defaults, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var d Defaults
	if err := dec.Decode(&d); err != nil {
		return Defaults{}, fmt.Errorf("parse defaults: %w", err)
	}
	return d, nil
}

func lookupPreset(name string) (Preset, error) {
	defaults, err := LoadDefaults(defaultsYAML)
	if err != nil {
		return Preset{}, err
	}
	preset, ok := defaults.Presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	return preset, nil
}
