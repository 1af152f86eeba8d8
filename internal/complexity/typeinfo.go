package complexity

import (
	"strings"

	"github.com/hanpama/querycost/internal/introspection"
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

// TypeInfo tracks the schema position of a document traversal. Every Enter
// must be matched by a Leave of the same node.
type TypeInfo struct {
	schema *schema.Schema

	typeStack       []*schema.TypeRef
	parentTypeStack []*schema.Type
	fieldDefStack   []*schema.Field
	inputTypeStack  []*schema.TypeRef
	ancestors       []any

	directive *schema.Directive
	argument  *schema.InputValue
}

func NewTypeInfo(s *schema.Schema) *TypeInfo {
	return &TypeInfo{schema: s}
}

// Type is the output type of the innermost entered field, operation or fragment.
func (ti *TypeInfo) Type() *schema.TypeRef { return top(ti.typeStack) }

// ParentType is the composite type fields are currently resolved against.
func (ti *TypeInfo) ParentType() *schema.Type { return top(ti.parentTypeStack) }

// FieldDef is the definition of the innermost entered field. It is nil when
// the field name does not resolve.
func (ti *TypeInfo) FieldDef() *schema.Field { return top(ti.fieldDefStack) }

// InputType is the expected type of the innermost entered argument or value.
func (ti *TypeInfo) InputType() *schema.TypeRef { return top(ti.inputTypeStack) }

// Directive is the definition of the entered directive, if any.
func (ti *TypeInfo) Directive() *schema.Directive { return ti.directive }

// Argument is the definition of the entered argument, if any.
func (ti *TypeInfo) Argument() *schema.InputValue { return ti.argument }

// Ancestors returns the entered nodes, outermost first.
func (ti *TypeInfo) Ancestors() []any { return ti.ancestors }

// FieldDepth is the number of entered fields.
func (ti *TypeInfo) FieldDepth() int { return len(ti.fieldDefStack) }

func (ti *TypeInfo) Enter(node any) {
	ti.ancestors = append(ti.ancestors, node)
	switch n := node.(type) {
	case language.SelectionSet:
		var parent *schema.Type
		if t := ti.schema.NamedType(ti.Type()); t.IsComposite() {
			parent = t
		}
		ti.parentTypeStack = append(ti.parentTypeStack, parent)
	case *language.Field:
		def := ti.lookupField(ti.ParentType(), n.Name)
		var typ *schema.TypeRef
		if def != nil {
			typ = def.Type
		}
		ti.fieldDefStack = append(ti.fieldDefStack, def)
		ti.typeStack = append(ti.typeStack, typ)
	case *language.OperationDefinition:
		ti.typeStack = append(ti.typeStack, ti.namedRef(rootTypeName(ti.schema, n.Operation)))
	case *language.FragmentDefinition:
		ti.typeStack = append(ti.typeStack, ti.namedRef(n.TypeCondition))
	case *language.InlineFragment:
		var typ *schema.TypeRef
		if n.TypeCondition != "" {
			typ = ti.namedRef(n.TypeCondition)
		} else if name := schema.GetNamedType(ti.Type()); name != "" {
			typ = schema.NamedType(name)
		}
		ti.typeStack = append(ti.typeStack, typ)
	case *language.VariableDefinition:
		ti.inputTypeStack = append(ti.inputTypeStack, typeRefFromAST(n.Type))
	case *language.Directive:
		ti.directive = ti.schema.Directives[n.Name]
	case *language.Argument:
		var def *schema.InputValue
		if ti.directive != nil {
			def = ti.directive.Argument(n.Name)
		} else {
			def = ti.FieldDef().Argument(n.Name)
		}
		ti.argument = def
		var typ *schema.TypeRef
		if def != nil {
			typ = def.Type
		}
		ti.inputTypeStack = append(ti.inputTypeStack, typ)
	case *language.Value:
		if n.Kind == language.ListValue {
			ti.inputTypeStack = append(ti.inputTypeStack, listItemType(ti.InputType()))
		}
	case *language.ChildValue:
		var typ *schema.TypeRef
		if t := ti.schema.NamedType(ti.InputType()); t != nil && t.Kind == schema.TypeKindInputObject {
			if f := t.InputField(n.Name); f != nil {
				typ = f.Type
			}
		}
		ti.inputTypeStack = append(ti.inputTypeStack, typ)
	}
}

func (ti *TypeInfo) Leave(node any) {
	ti.ancestors = pop(ti.ancestors)
	switch n := node.(type) {
	case language.SelectionSet:
		ti.parentTypeStack = pop(ti.parentTypeStack)
	case *language.Field:
		ti.fieldDefStack = pop(ti.fieldDefStack)
		ti.typeStack = pop(ti.typeStack)
	case *language.OperationDefinition, *language.FragmentDefinition, *language.InlineFragment:
		ti.typeStack = pop(ti.typeStack)
	case *language.VariableDefinition:
		ti.inputTypeStack = pop(ti.inputTypeStack)
	case *language.Directive:
		ti.directive = nil
	case *language.Argument:
		ti.argument = nil
		ti.inputTypeStack = pop(ti.inputTypeStack)
	case *language.Value:
		if n.Kind == language.ListValue {
			ti.inputTypeStack = pop(ti.inputTypeStack)
		}
	case *language.ChildValue:
		ti.inputTypeStack = pop(ti.inputTypeStack)
	}
}

// lookupField resolves name on parent, including the meta-fields.
func (ti *TypeInfo) lookupField(parent *schema.Type, name string) *schema.Field {
	if parent == nil {
		return nil
	}
	if strings.HasPrefix(name, "__") {
		if f := introspection.MetaField(ti.schema, parent, name); f != nil {
			return f
		}
	}
	if parent.Kind == schema.TypeKindObject || parent.Kind == schema.TypeKindInterface {
		return parent.Field(name)
	}
	return nil
}

func (ti *TypeInfo) namedRef(name string) *schema.TypeRef {
	if ti.schema.Type(name) == nil {
		return nil
	}
	return schema.NamedType(name)
}

func rootTypeName(s *schema.Schema, op language.Operation) string {
	switch op {
	case language.Mutation:
		return s.MutationType
	case language.Subscription:
		return s.SubscriptionType
	default:
		return s.QueryType
	}
}

func listItemType(t *schema.TypeRef) *schema.TypeRef {
	if t = t.Nullable(); t != nil && t.Kind == schema.TypeRefKindList {
		return t.OfType
	}
	return t
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	var ref *schema.TypeRef
	if t.Elem != nil {
		ref = schema.ListType(typeRefFromAST(t.Elem))
	} else {
		ref = schema.NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = schema.NonNullType(ref)
	}
	return ref
}

func top[T any](s []T) T {
	var zero T
	if len(s) == 0 {
		return zero
	}
	return s[len(s)-1]
}

func pop[T any](s []T) []T {
	if len(s) == 0 {
		return s
	}
	return s[:len(s)-1]
}
