package chainstate

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Genesis is the initial confirmed state loaded into a backend.
//
//	local:
//	  owner: alice
//	global:
//	  height: "42"
type Genesis struct {
	Local  map[string]string `yaml:"local"`
	Global map[string]string `yaml:"global"`
}

// ParseGenesis decodes a YAML genesis document. Unknown fields are rejected.
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return &g, nil
}

// LoadGenesis reads the genesis file at path and writes it into backend.
func LoadGenesis(path string, backend Backend) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read genesis: %w", err)
	}
	g, err := ParseGenesis(data)
	if err != nil {
		return err
	}
	return g.Apply(backend)
}

// Apply writes the genesis entries into backend.
func (g *Genesis) Apply(backend Backend) error {
	for tier, entries := range map[Tier]map[string]string{Local: g.Local, Global: g.Global} {
		for k, v := range entries {
			if err := backend.Put(BackendKey(tier, []byte(k)), []byte(v)); err != nil {
				return fmt.Errorf("seed %s key %q: %w", tier, k, err)
			}
		}
	}
	return nil
}
