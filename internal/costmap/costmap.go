// Package costmap reads field costs from a YAML file and attaches them to a
// schema, for schemas whose SDL cannot carry @cost.
package costmap

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/querycost/internal/schema"
)

// Entry is the cost of one field. Absent keys take the @cost defaults.
type Entry struct {
	Complexity     *float64 `yaml:"complexity"`
	Multipliers    []string `yaml:"multipliers"`
	UseMultipliers *bool    `yaml:"useMultipliers"`
	IgnoreChildren bool     `yaml:"ignoreChildren"`
}

// Spec returns the cost parameters of e.
func (e Entry) Spec() schema.CostSpec {
	spec := schema.DefaultCostSpec()
	if e.Complexity != nil {
		spec.Complexity = *e.Complexity
	}
	spec.Multipliers = e.Multipliers
	if e.UseMultipliers != nil {
		spec.UseMultipliers = *e.UseMultipliers
	}
	spec.IgnoreChildren = e.IgnoreChildren
	return spec
}

// Map is keyed by field coordinate, "Type.field".
type Map map[string]Entry

// Load reads a cost map file.
func Load(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cost map: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Map, error) {
	var m Map
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse cost map: %w", err)
	}
	return m, nil
}

// Apply attaches the cost of every entry to its field, replacing costs
// declared in SDL. It fails without modifying s when a coordinate does not
// name a field or a multiplier does not name one of its arguments.
func Apply(s *schema.Schema, m Map) error {
	coords := make([]string, 0, len(m))
	for coord := range m {
		coords = append(coords, coord)
	}
	sort.Strings(coords)

	fields := make([]*schema.Field, len(coords))
	for i, coord := range coords {
		f, err := lookup(s, coord)
		if err != nil {
			return err
		}
		for _, name := range m[coord].Multipliers {
			if f.Argument(name) == nil {
				return fmt.Errorf("cost map %s: multiplier %q is not an argument of the field", coord, name)
			}
		}
		if c := m[coord].Complexity; c != nil && *c < 0 {
			return fmt.Errorf("cost map %s: complexity must not be negative", coord)
		}
		fields[i] = f
	}
	for i, coord := range coords {
		fields[i].SetCost(m[coord].Spec())
	}
	return nil
}

func lookup(s *schema.Schema, coord string) (*schema.Field, error) {
	typeName, fieldName, ok := strings.Cut(coord, ".")
	if !ok || typeName == "" || fieldName == "" {
		return nil, fmt.Errorf("cost map: %q is not a Type.field coordinate", coord)
	}
	t := s.Type(typeName)
	if t == nil {
		return nil, fmt.Errorf("cost map %s: unknown type %q", coord, typeName)
	}
	f := t.Field(fieldName)
	if f == nil {
		return nil, fmt.Errorf("cost map %s: type %q has no field %q", coord, typeName, fieldName)
	}
	return f, nil
}
