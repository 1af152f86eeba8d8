package schema

import (
	"github.com/hanpama/querycost/internal/language"
)

// ArgumentValues resolves an argument of the field being costed to its
// coerced value. Absent arguments resolve to the declared default, or nil.
type ArgumentValues func(name string) any

// ComplexityContext describes the field occurrence being costed.
type ComplexityContext interface {
	Schema() *Schema
	ParentType() *Type
	FieldDefinition() *Field
	Field() *language.Field
	Variables() map[string]any
	DefaultCollectionChildrenCount() int
	// Depth is the number of field levels above this occurrence.
	Depth() int
}

// ComplexityFunc computes the cost of one field occurrence from its
// arguments and the aggregated complexity of its selection set.
type ComplexityFunc func(ctx ComplexityContext, args ArgumentValues, childComplexity float64) float64

// CostSpec is the declarative form of a ComplexityFunc, read from the
// @cost directive or a cost map.
type CostSpec struct {
	Complexity     float64  `json:"complexity" yaml:"complexity"`
	Multipliers    []string `json:"multipliers,omitempty" yaml:"multipliers"`
	UseMultipliers bool     `json:"useMultipliers" yaml:"useMultipliers"`
	IgnoreChildren bool     `json:"ignoreChildren" yaml:"ignoreChildren"`
}

// DefaultCostSpec returns the parameters @cost takes when no argument is given.
func DefaultCostSpec() CostSpec {
	return CostSpec{Complexity: 1, UseMultipliers: true}
}

// Func builds the ComplexityFunc for f.
//
// The child complexity is multiplied by the product of the multiplier
// arguments that carry a positive number. Without any, list fields fall back
// to the default collection count and other fields to 1. With UseMultipliers
// off the child complexity is added as is.
func (c CostSpec) Func(f *Field) ComplexityFunc {
	spec := c
	spec.Multipliers = append([]string(nil), c.Multipliers...)
	list := f != nil && f.Type.IsList()
	return func(ctx ComplexityContext, args ArgumentValues, child float64) float64 {
		if spec.IgnoreChildren {
			child = 0
		}
		if !spec.UseMultipliers {
			return spec.Complexity + child
		}
		m, found := 1.0, false
		for _, name := range spec.Multipliers {
			if n, ok := multiplier(args(name)); ok {
				m *= n
				found = true
			}
		}
		if !found && list {
			m = float64(ctx.DefaultCollectionChildrenCount())
		}
		return spec.Complexity + m*child
	}
}

func multiplier(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case float32:
		n = float64(x)
	case float64:
		n = x
	case []any:
		n = float64(len(x))
	default:
		return 0, false
	}
	return n, n > 0
}
