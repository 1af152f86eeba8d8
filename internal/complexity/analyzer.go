package complexity

import (
	"math"
	"sync"

	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

// Analyzer computes document costs against one schema. It is safe for
// concurrent use; the default cost functions it synthesizes are shared by all
// analyses.
type Analyzer struct {
	schema *schema.Schema
	costs  sync.Map // *schema.Field -> schema.ComplexityFunc
}

// analyzers holds the Analyzer of every schema analyzed so far. Schemas are
// built once per process, so entries are never evicted.
var analyzers sync.Map // *schema.Schema -> *Analyzer

// NewAnalyzer returns the Analyzer of s. Every call for the same schema
// returns the same Analyzer, so its cost functions are synthesized once for
// the lifetime of the schema.
func NewAnalyzer(s *schema.Schema) *Analyzer {
	if a, ok := analyzers.Load(s); ok {
		return a.(*Analyzer)
	}
	a, _ := analyzers.LoadOrStore(s, &Analyzer{schema: s})
	return a.(*Analyzer)
}

func (a *Analyzer) Schema() *schema.Schema { return a.schema }

// Analyze computes the complexity and depth of doc. It fails with an *Error
// as soon as a limit of cfg is exceeded or the document does not resolve
// against the schema.
func Analyze(doc *language.QueryDocument, s *schema.Schema, cfg Config, vars map[string]any) (Result, error) {
	return NewAnalyzer(s).Analyze(doc, cfg, vars)
}

func (a *Analyzer) Analyze(doc *language.QueryDocument, cfg Config, vars map[string]any) (Result, error) {
	w := &walker{
		analyzer:  a,
		schema:    a.schema,
		ti:        NewTypeInfo(a.schema),
		fragments: newFragmentRegistry(),
		cfg:       cfg.normalize(),
		vars:      vars,
	}
	for _, def := range doc.Fragments {
		w.fragments.Register(def.Name, w.fragmentThunk(def))
	}

	ops := doc.Operations
	if cfg.OperationName != "" {
		op := doc.Operations.ForName(cfg.OperationName)
		if op == nil {
			return Result{}, newError(ErrUnknownOperation, nil, "unknown operation %q", cfg.OperationName)
		}
		ops = language.OperationList{op}
	}

	var total Result
	for _, op := range ops {
		res, err := w.operation(op)
		if err != nil {
			return Result{}, err
		}
		total = total.Add(res)
	}
	if err := w.checkComplexity(total.Complexity); err != nil {
		return Result{}, err
	}
	return total, nil
}

// costFunc returns the explicit cost function of f, or the default one
// synthesized from its type.
func (a *Analyzer) costFunc(f *schema.Field) schema.ComplexityFunc {
	if f.Complexity != nil {
		return f.Complexity
	}
	if fn, ok := a.costs.Load(f); ok {
		return fn.(schema.ComplexityFunc)
	}
	fn, _ := a.costs.LoadOrStore(f, defaultComplexity(f))
	return fn.(schema.ComplexityFunc)
}

func defaultComplexity(f *schema.Field) schema.ComplexityFunc {
	if f.Type.IsList() {
		return func(ctx schema.ComplexityContext, _ schema.ArgumentValues, child float64) float64 {
			return 1 + float64(ctx.DefaultCollectionChildrenCount())*child
		}
	}
	return func(_ schema.ComplexityContext, _ schema.ArgumentValues, child float64) float64 {
		return 1 + child
	}
}

// walker holds the state of one analysis.
type walker struct {
	analyzer  *Analyzer
	schema    *schema.Schema
	ti        *TypeInfo
	fragments *fragmentRegistry
	cfg       Config
	vars      map[string]any
	path      []string
}

// fork returns a walker with fresh traversal stacks sharing the fragment
// registry, used to evaluate fragment definitions independently of the
// spread that first reached them.
func (w *walker) fork() *walker {
	return &walker{
		analyzer:  w.analyzer,
		schema:    w.schema,
		ti:        NewTypeInfo(w.schema),
		fragments: w.fragments,
		cfg:       w.cfg,
		vars:      w.vars,
		path:      append([]string(nil), w.path...),
	}
}

func (w *walker) operation(op *language.OperationDefinition) (Result, error) {
	w.ti.Enter(op)
	defer w.ti.Leave(op)
	if w.ti.Type() == nil {
		return Result{}, newError(ErrUnresolvableType, w.path, "schema does not define a %s root type", op.Operation)
	}
	return w.selectionSet(op.SelectionSet)
}

func (w *walker) fragmentThunk(def *language.FragmentDefinition) func() (Result, error) {
	return func() (Result, error) {
		fw := w.fork()
		fw.ti.Enter(def)
		defer fw.ti.Leave(def)
		if t := fw.schema.NamedType(fw.ti.Type()); !t.IsComposite() {
			return Result{}, newError(ErrUnresolvableType, fw.path, "fragment %q has unresolvable type condition %q", def.Name, def.TypeCondition)
		}
		return fw.selectionSet(def.SelectionSet)
	}
}

func (w *walker) selectionSet(set language.SelectionSet) (Result, error) {
	w.ti.Enter(set)
	defer w.ti.Leave(set)

	var total Result
	for _, sel := range set {
		var (
			res Result
			err error
		)
		switch sel := sel.(type) {
		case *language.Field:
			if !w.included(sel.Directives) {
				continue
			}
			res, err = w.field(sel)
		case *language.FragmentSpread:
			if !w.included(sel.Directives) {
				continue
			}
			res, err = w.fragments.Resolve(sel.Name, w.path)
		case *language.InlineFragment:
			if !w.included(sel.Directives) {
				continue
			}
			res, err = w.inlineFragment(sel)
		}
		if err != nil {
			return Result{}, err
		}
		total = total.Add(res)
	}
	return total, nil
}

func (w *walker) inlineFragment(frag *language.InlineFragment) (Result, error) {
	w.ti.Enter(frag)
	defer w.ti.Leave(frag)
	if t := w.schema.NamedType(w.ti.Type()); !t.IsComposite() {
		return Result{}, newError(ErrUnresolvableType, w.path, "inline fragment has unresolvable type condition %q", frag.TypeCondition)
	}
	return w.selectionSet(frag.SelectionSet)
}

func (w *walker) field(field *language.Field) (Result, error) {
	parent := w.ti.ParentType()
	w.ti.Enter(field)
	defer w.ti.Leave(field)
	w.path = append(w.path, responseKey(field))
	defer func() { w.path = w.path[:len(w.path)-1] }()

	def := w.ti.FieldDef()
	if def == nil {
		parentName := ""
		if parent != nil {
			parentName = parent.Name
		}
		return Result{}, newError(ErrUnresolvableField, w.path, "cannot resolve field %q on type %q", field.Name, parentName)
	}

	var child Result
	switch named := w.schema.NamedType(def.Type); {
	case named.IsLeaf():
	case named.IsComposite():
		var err error
		if child, err = w.selectionSet(field.SelectionSet); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, newError(ErrUnresolvableType, w.path, "field %q has unresolvable type %s", field.Name, def.Type)
	}

	ctx := &fieldContext{w: w, parent: parent, def: def, field: field, depth: w.ti.FieldDepth() - 1}
	cost := nonNegative(w.analyzer.costFunc(def)(ctx, w.arguments(field, def), child.Complexity))
	depth := child.MaxDepth + 1

	if err := w.checkComplexity(cost); err != nil {
		return Result{}, err
	}
	if w.cfg.MaxDepth != nil && depth > *w.cfg.MaxDepth {
		err := newError(ErrDepthExceeded, w.path, "query depth %d exceeds the limit of %d", depth, *w.cfg.MaxDepth)
		err.Limit, err.Actual = float64(*w.cfg.MaxDepth), float64(depth)
		return Result{}, err
	}
	return Result{Complexity: cost, MaxDepth: depth}, nil
}

// checkComplexity also rejects costs that overflow to +Inf when no limit is
// configured.
func (w *walker) checkComplexity(cost float64) error {
	limit := math.MaxFloat64
	if w.cfg.MaxComplexity != nil {
		limit = *w.cfg.MaxComplexity
	}
	if cost <= limit {
		return nil
	}
	err := newError(ErrComplexityExceeded, w.path, "query complexity %g exceeds the limit of %g", cost, limit)
	err.Limit, err.Actual = limit, cost
	return err
}

// included evaluates @skip and @include when enabled.
func (w *walker) included(dirs language.DirectiveList) bool {
	if !w.cfg.SkipIncludeDirectives {
		return true
	}
	if skip := dirs.ForName("skip"); skip != nil && w.directiveIf(skip) {
		return false
	}
	if include := dirs.ForName("include"); include != nil && !w.directiveIf(include) {
		return false
	}
	return true
}

func (w *walker) directiveIf(d *language.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	w.ti.Enter(d)
	w.ti.Enter(arg)
	v, _ := CoerceValue(w.schema, w.ti.InputType(), arg.Value, w.vars).(bool)
	w.ti.Leave(arg)
	w.ti.Leave(d)
	return v
}

func responseKey(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func nonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}
