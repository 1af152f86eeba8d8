package complexity

import (
	"fmt"

	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

// CoerceValue converts an argument literal to the runtime value of typ.
// Variables resolve against vars, and to nil when vars is nil. It returns nil
// for absent or unresolvable values so callers can fall back to a default.
func CoerceValue(s *schema.Schema, typ *schema.TypeRef, value *language.Value, vars map[string]any) any {
	if value == nil || typ == nil {
		return nil
	}
	if value.Kind == language.Variable {
		if vars == nil {
			return nil
		}
		return vars[value.Raw]
	}
	for typ.IsNonNull() {
		typ = typ.OfType
	}
	if value.Kind == language.NullValue {
		return nil
	}

	if typ.Kind == schema.TypeRefKindList {
		if value.Kind != language.ListValue {
			item := CoerceValue(s, typ.OfType, value, vars)
			if item == nil {
				return nil
			}
			return []any{item}
		}
		items := make([]any, 0, len(value.Children))
		for _, c := range value.Children {
			items = append(items, CoerceValue(s, typ.OfType, c.Value, vars))
		}
		return items
	}

	named := s.Type(typ.Named)
	if named == nil {
		return nil
	}
	switch named.Kind {
	case schema.TypeKindInputObject:
		if value.Kind != language.ObjectValue {
			return nil
		}
		fields := make(map[string]any, len(named.InputFields))
		for _, f := range named.InputFields {
			lit := value.Children.ForName(f.Name)
			var v any
			if lit != nil {
				v = CoerceValue(s, f.Type, lit, vars)
			}
			if v == nil && (lit == nil || lit.Kind != language.NullValue) {
				v = f.DefaultValue
			}
			if v != nil || lit != nil {
				fields[f.Name] = v
			}
		}
		return fields
	case schema.TypeKindEnum:
		if value.Kind != language.EnumValue || named.EnumValue(value.Raw) == nil {
			return nil
		}
		return value.Raw
	case schema.TypeKindScalar:
		return named.ParseLiteral(value)
	}
	return nil
}

// CoerceVariables coerces raw variable values, as decoded from JSON, against
// the variable definitions of op. Defaults are applied and required
// variables are checked.
func CoerceVariables(s *schema.Schema, op *language.OperationDefinition, raw map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		name := def.Variable
		typ := typeRefFromAST(def.Type)
		val, ok := raw[name]
		if !ok {
			if def.DefaultValue != nil {
				coerced[name] = CoerceValue(s, typ, def.DefaultValue, nil)
				continue
			}
			if def.Type.NonNull {
				return nil, variableError(name, "of required type %s was not provided", def.Type.String())
			}
			continue
		}
		v, err := coerceInput(s, typ, val)
		if err != nil {
			return nil, variableError(name, "got invalid value: %v", err)
		}
		coerced[name] = v
	}
	return coerced, nil
}

func variableError(name, format string, args ...any) error {
	return newError(ErrInvalidVariables, nil, "variable $%s %s", name, fmt.Sprintf(format, args...))
}

func coerceInput(s *schema.Schema, typ *schema.TypeRef, value any) (any, error) {
	if typ.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("null for non-null type %s", typ)
		}
		return coerceInput(s, typ.OfType, value)
	}
	if value == nil {
		return nil, nil
	}
	if typ.Kind == schema.TypeRefKindList {
		items, ok := value.([]any)
		if !ok {
			item, err := coerceInput(s, typ.OfType, value)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := coerceInput(s, typ.OfType, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	named := s.Type(typ.Named)
	if named == nil {
		return nil, fmt.Errorf("unknown type %s", typ.Named)
	}
	switch named.Kind {
	case schema.TypeKindInputObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object for %s", named.Name)
		}
		out := make(map[string]any, len(named.InputFields))
		for _, f := range named.InputFields {
			v, present := obj[f.Name]
			if !present {
				if f.DefaultValue != nil {
					out[f.Name] = f.DefaultValue
				} else if f.Type.IsNonNull() {
					return nil, fmt.Errorf("field %s.%s of required type %s was not provided", named.Name, f.Name, f.Type)
				}
				continue
			}
			cv, err := coerceInput(s, f.Type, v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", named.Name, f.Name, err)
			}
			out[f.Name] = cv
		}
		for k := range obj {
			if named.InputField(k) == nil {
				return nil, fmt.Errorf("field %q is not defined by %s", k, named.Name)
			}
		}
		return out, nil
	case schema.TypeKindEnum:
		name, ok := value.(string)
		if !ok || named.EnumValue(name) == nil {
			return nil, fmt.Errorf("%v is not a value of enum %s", value, named.Name)
		}
		return name, nil
	case schema.TypeKindScalar:
		return named.ParseValue(value)
	}
	return nil, fmt.Errorf("%s is not an input type", named.Name)
}
