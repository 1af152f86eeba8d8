package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hanpama/querycost/internal/language"
)

// NewSchema returns an empty schema carrying the built-in scalars and directives.
func NewSchema(description string) *Schema {
	s := &Schema{
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
		Description: description,
	}
	s.AddType(stringType).
		AddType(intType).
		AddType(floatType).
		AddType(booleanType).
		AddType(idType)
	s.AddDirective(includeDirective).
		AddDirective(skipDirective).
		AddDirective(deprecatedDirective).
		AddDirective(specifiedByDirective).
		AddDirective(oneOfDirective).
		AddDirective(costDirective)
	return s
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }

func (s *Schema) AddType(t *Type) *Schema {
	s.Types[t.Name] = t
	return s
}

func (s *Schema) AddDirective(d *Directive) *Schema {
	s.Directives[d.Name] = d
	return s
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type {
	t.Fields = append(t.Fields, f)
	return t
}

func (t *Type) AddInterface(name string) *Type {
	t.Interfaces = append(t.Interfaces, name)
	return t
}

func (t *Type) AddPossibleType(name string) *Type {
	t.PossibleTypes = append(t.PossibleTypes, name)
	return t
}

func (t *Type) AddEnumValue(v *EnumValue) *Type {
	t.EnumValues = append(t.EnumValues, v)
	return t
}

func (t *Type) AddInputField(v *InputValue) *Type {
	t.InputFields = append(t.InputFields, v)
	return t
}

func (t *Type) SetOneOf(oneOf bool) *Type {
	t.OneOf = oneOf
	return t
}

func (t *Type) SetSpecifiedBy(url string) *Type {
	t.SpecifiedByURL = &url
	return t
}

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

func (f *Field) AddArgument(v *InputValue) *Field {
	f.Arguments = append(f.Arguments, v)
	return f
}

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

// SetComplexity attaches an explicit cost function.
func (f *Field) SetComplexity(fn ComplexityFunc) *Field {
	f.Complexity = fn
	return f
}

// SetCost attaches a declarative cost and the cost function derived from it.
func (f *Field) SetCost(c CostSpec) *Field {
	f.Cost = &c
	f.Complexity = c.Func(f)
	return f
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value any) *InputValue {
	v.DefaultValue = value
	return v
}

func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (v *EnumValue) Deprecate(reason string) *EnumValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) AddArgument(v *InputValue) *Directive {
	d.Arguments = append(d.Arguments, v)
	return d
}

func (d *Directive) SetRepeatable(repeatable bool) *Directive {
	d.IsRepeatable = repeatable
	return d
}

// BuildFromSDL parses SDL string and returns the corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	return BuildFromSources(&language.Source{Name: "schema.graphql", Input: sdl})
}

// BuildFromSources validates the SDL sources, merges their extensions and
// converts the result. Fields carrying @cost get a cost function attached.
func BuildFromSources(sources ...*language.Source) (*Schema, error) {
	if !declaresCost(sources) {
		sources = append([]*language.Source{{Name: "cost.graphql", Input: CostDirectiveSDL}}, sources...)
	}
	doc, err := language.LoadSchema(sources...)
	if err != nil {
		return nil, err
	}
	return BuildFromAST(doc)
}

func declaresCost(sources []*language.Source) bool {
	for _, src := range sources {
		if strings.Contains(src.Input, "directive @"+CostDirectiveName) {
			return true
		}
	}
	return false
}

// BuildFromAST converts a validated gqlparser schema. Prelude definitions are
// replaced by the package's built-ins.
func BuildFromAST(doc *language.Schema) (*Schema, error) {
	s := NewSchema(doc.Description)
	s.ast = doc
	if doc.Query != nil {
		s.SetQueryType(doc.Query.Name)
	}
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}

	for _, name := range sortedKeys(doc.Types) {
		def := doc.Types[name]
		if isPrelude(def.Position) || strings.HasPrefix(def.Name, "__") {
			continue
		}
		t, err := buildType(def)
		if err != nil {
			return nil, err
		}
		s.AddType(t)
	}
	for _, name := range sortedKeys(doc.Directives) {
		dir := doc.Directives[name]
		if isPrelude(dir.Position) || name == CostDirectiveName {
			continue
		}
		s.AddDirective(buildDirective(dir))
	}
	return s, nil
}

func isPrelude(pos *language.Position) bool {
	return pos != nil && pos.Src != nil && pos.Src.BuiltIn
}

func buildType(def *language.Definition) (*Type, error) {
	t := NewType(def.Name, TypeKind(def.Kind), def.Description)
	switch def.Kind {
	case language.Object, language.Interface:
		for _, name := range def.Interfaces {
			t.AddInterface(name)
		}
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			f, err := buildField(def.Name, fd)
			if err != nil {
				return nil, err
			}
			t.AddField(f)
		}
	case language.Union:
		for _, name := range def.Types {
			t.AddPossibleType(name)
		}
	case language.Enum:
		for _, v := range def.EnumValues {
			e := NewEnumValue(v.Name, v.Description)
			if reason, ok := deprecation(v.Directives); ok {
				e.Deprecate(reason)
			}
			t.AddEnumValue(e)
		}
	case language.InputObject:
		t.SetOneOf(def.Directives.ForName("oneOf") != nil)
		for _, fd := range def.Fields {
			t.AddInputField(buildInputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives))
		}
	case language.Scalar:
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				t.SetSpecifiedBy(arg.Value.Raw)
			}
		}
	}
	return t, nil
}

func buildField(typeName string, def *language.FieldDefinition) (*Field, error) {
	f := NewField(def.Name, def.Description, buildTypeRef(def.Type))
	if reason, ok := deprecation(def.Directives); ok {
		f.Deprecate(reason)
	}
	for _, arg := range def.Arguments {
		f.AddArgument(buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	if d := def.Directives.ForName(CostDirectiveName); d != nil {
		spec, err := costFromDirective(d)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typeName, def.Name, err)
		}
		for _, name := range spec.Multipliers {
			if f.Argument(name) == nil {
				return nil, fmt.Errorf("%s.%s: @cost multiplier %q is not an argument of the field", typeName, def.Name, name)
			}
		}
		f.SetCost(spec)
	}
	return f, nil
}

func costFromDirective(d *language.Directive) (CostSpec, error) {
	spec := DefaultCostSpec()
	for _, arg := range d.Arguments {
		v := LiteralToGo(arg.Value)
		switch arg.Name {
		case "complexity":
			n, err := coerceToFloat(v)
			if err != nil {
				return spec, fmt.Errorf("@cost complexity: %w", err)
			}
			spec.Complexity = n.(float64)
		case "multipliers":
			switch m := v.(type) {
			case []any:
				for _, item := range m {
					name, ok := item.(string)
					if !ok {
						return spec, fmt.Errorf("@cost multipliers must be strings")
					}
					spec.Multipliers = append(spec.Multipliers, name)
				}
			case string:
				spec.Multipliers = []string{m}
			}
		case "useMultipliers":
			spec.UseMultipliers, _ = v.(bool)
		case "ignoreChildren":
			spec.IgnoreChildren, _ = v.(bool)
		}
	}
	if spec.Complexity < 0 {
		return spec, fmt.Errorf("@cost complexity must not be negative")
	}
	return spec, nil
}

func deprecation(dirs language.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "", true
}

func buildTypeRef(t *language.Type) *TypeRef {
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

func buildInputValue(name, description string, typ *language.Type, def *language.Value, dirs language.DirectiveList) *InputValue {
	in := NewInputValue(name, description, buildTypeRef(typ))
	if def != nil {
		in.SetDefault(LiteralToGo(def))
	}
	if reason, ok := deprecation(dirs); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildDirective(dir *language.DirectiveDefinition) *Directive {
	d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
	for _, loc := range dir.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range dir.Arguments {
		d.AddArgument(buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return d
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
