package complexity

import (
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

// fieldContext implements schema.ComplexityContext for one field occurrence.
type fieldContext struct {
	w      *walker
	parent *schema.Type
	def    *schema.Field
	field  *language.Field
	depth  int
}

var _ schema.ComplexityContext = (*fieldContext)(nil)

func (c *fieldContext) Schema() *schema.Schema         { return c.w.schema }
func (c *fieldContext) ParentType() *schema.Type       { return c.parent }
func (c *fieldContext) FieldDefinition() *schema.Field { return c.def }
func (c *fieldContext) Field() *language.Field         { return c.field }
func (c *fieldContext) Variables() map[string]any      { return c.w.vars }
func (c *fieldContext) Depth() int                     { return c.depth }
func (c *fieldContext) DefaultCollectionChildrenCount() int {
	return c.w.cfg.DefaultCollectionChildrenCount
}

// arguments returns the accessor for the arguments of the field currently
// entered in w. Values are coerced once per name.
func (w *walker) arguments(field *language.Field, def *schema.Field) schema.ArgumentValues {
	var cache map[string]any
	return func(name string) any {
		if v, ok := cache[name]; ok {
			return v
		}
		argDef := def.Argument(name)
		if argDef == nil {
			return nil
		}
		var v any
		if arg := field.Arguments.ForName(name); arg != nil {
			w.ti.Enter(arg)
			v = CoerceValue(w.schema, w.ti.InputType(), arg.Value, w.vars)
			w.ti.Leave(arg)
		}
		if v == nil {
			v = argDef.DefaultValue
		}
		if cache == nil {
			cache = make(map[string]any)
		}
		cache[name] = v
		return v
	}
}
