package complexity

import (
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querycost/internal/introspection"
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

const testSDL = `
type Query {
  a: A
  items: [Item]
  item(id: ID!): Item
  search(first: Int = 3, filter: Filter): [Item] @cost(complexity: 1, multipliers: ["first"])
  node: Node
  result: Result
  pets: [Pet!]!
}

type Mutation {
  add(n: Int): A
}

type A {
  b: String
  c: C
}

type C {
  d: Int
}

interface Node {
  id: ID!
}

type Item implements Node {
  id: ID!
  name: String
  tags: [String]
}

type Pet {
  name: String
}

union Result = Item | A

enum Kind {
  X
  Y
}

input Filter {
  term: String
  limit: Int = 5
  kinds: [Kind!]
}
`

func mustBuildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	return s
}

func mustParseQuery(t *testing.T, query string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return doc
}

func analyze(t *testing.T, s *schema.Schema, query string, cfg Config, vars map[string]any) (Result, error) {
	t.Helper()
	return Analyze(mustParseQuery(t, query), s, cfg, vars)
}

func TestAnalyze(t *testing.T) {
	s := introspection.Extend(mustBuildSchema(t, testSDL))

	tests := []struct {
		name  string
		query string
		vars  map[string]any
		want  Result
	}{
		{"nested object", `{ a { b } }`, nil, Result{Complexity: 2, MaxDepth: 2}},
		{"list of objects", `{ items { id } }`, nil, Result{Complexity: 11, MaxDepth: 2}},
		{"list of scalars", `{ items { tags } }`, nil, Result{Complexity: 11, MaxDepth: 2}},
		{"non-null list", `{ pets { name } }`, nil, Result{Complexity: 11, MaxDepth: 2}},
		{"siblings add up", `{ a { b c { d } } items { id } }`, nil, Result{Complexity: 4 + 11, MaxDepth: 3}},
		{"aliases count separately", `{ x: a { b } y: a { b } }`, nil, Result{Complexity: 4, MaxDepth: 2}},
		{"untyped inline fragment", `{ a { ... { b } } }`, nil, Result{Complexity: 2, MaxDepth: 2}},
		{"typed inline fragment", `{ node { id ... on Item { name } } }`, nil, Result{Complexity: 3, MaxDepth: 2}},
		{"union with typename", `{ result { __typename ... on Item { id } ... on A { b } } }`, nil, Result{Complexity: 4, MaxDepth: 2}},
		{"fragment adds no depth", `{ a { ...F } } fragment F on A { c { d } }`, nil, Result{Complexity: 3, MaxDepth: 3}},
		{"nested fragments", `{ a { ...F } } fragment F on A { c { ...G } } fragment G on C { d }`, nil, Result{Complexity: 3, MaxDepth: 3}},
		{"fragment defined before use", `fragment F on A { b } { a { ...F } }`, nil, Result{Complexity: 2, MaxDepth: 2}},
		{"multiplier default", `{ search { id } }`, nil, Result{Complexity: 4, MaxDepth: 2}},
		{"multiplier literal", `{ search(first: 7) { id } }`, nil, Result{Complexity: 8, MaxDepth: 2}},
		{"multiplier variable", `query Q($n: Int) { search(first: $n) { id } }`, map[string]any{"n": 5}, Result{Complexity: 6, MaxDepth: 2}},
		{"unbound variable falls back to default", `query Q($n: Int) { search(first: $n) { id } }`, nil, Result{Complexity: 4, MaxDepth: 2}},
		{"schema introspection", `{ __schema { types { name } } }`, nil, Result{Complexity: 12, MaxDepth: 3}},
		{"type introspection", `{ __type(name: "A") { name } }`, nil, Result{Complexity: 2, MaxDepth: 2}},
		{"mutation", `mutation { add(n: 1) { b } }`, nil, Result{Complexity: 2, MaxDepth: 2}},
		{"multiple operations summed", `query One { a { b } } query Two { items { id } }`, nil, Result{Complexity: 13, MaxDepth: 2}},
		{"empty selection", `{ a }`, nil, Result{Complexity: 1, MaxDepth: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := analyze(t, s, tt.query, NewConfig(), tt.vars)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzeFragmentSpreadTwice(t *testing.T) {
	s := mustBuildSchema(t, testSDL)

	frag, err := analyze(t, s, `{ a { ...F } } fragment F on A { b c { d } }`, NewConfig(), nil)
	require.NoError(t, err)
	twice, err := analyze(t, s, `{ a { ...F ...F } } fragment F on A { b c { d } }`, NewConfig(), nil)
	require.NoError(t, err)

	// a contributes 1 of its own on top of the fragment.
	require.Equal(t, 2*(frag.Complexity-1), twice.Complexity-1)
	require.Equal(t, frag.MaxDepth, twice.MaxDepth)

	inlined, err := analyze(t, s, `{ a { b c { d } b2: b c2: c { d } } }`, NewConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, inlined, twice)
}

func TestAnalyzeFragmentEvaluatedOnce(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	calls := 0
	s.Types["A"].Field("b").SetComplexity(func(_ schema.ComplexityContext, _ schema.ArgumentValues, child float64) float64 {
		calls++
		return 1 + child
	})

	res, err := analyze(t, s, `{ a { ...F ...F } x: a { ...F } } fragment F on A { b }`, NewConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, Result{Complexity: 3 + 2, MaxDepth: 2}, res)
}

func TestAnalyzeLimits(t *testing.T) {
	s := mustBuildSchema(t, testSDL)

	t.Run("depth", func(t *testing.T) {
		_, err := analyze(t, s, `{ a { b } }`, NewConfig(WithMaxDepth(1)), nil)
		require.ErrorIs(t, err, ErrDepthExceeded)
		var e *Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, CodeDepthExceeded, e.Code)
		require.Equal(t, []string{"a"}, e.Path)
		require.Equal(t, 1.0, e.Limit)
		require.Equal(t, 2.0, e.Actual)
		require.True(t, e.IsLimit())
	})

	t.Run("depth at limit", func(t *testing.T) {
		res, err := analyze(t, s, `{ a { b } }`, NewConfig(WithMaxDepth(2)), nil)
		require.NoError(t, err)
		require.Equal(t, 2, res.MaxDepth)
	})

	t.Run("complexity on a field", func(t *testing.T) {
		_, err := analyze(t, s, `{ a { b } items { id } }`, NewConfig(WithMaxComplexity(10)), nil)
		require.ErrorIs(t, err, ErrComplexityExceeded)
		var e *Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, []string{"items"}, e.Path)
		require.Equal(t, 10.0, e.Limit)
		require.Equal(t, 11.0, e.Actual)
		require.Equal(t, CodeComplexityExceeded, CodeOf(err))
	})

	t.Run("complexity of the document", func(t *testing.T) {
		_, err := analyze(t, s, `{ x: a { b } y: a { b } }`, NewConfig(WithMaxComplexity(3)), nil)
		require.ErrorIs(t, err, ErrComplexityExceeded)
		var e *Error
		require.ErrorAs(t, err, &e)
		require.Empty(t, e.Path)
		require.Equal(t, 4.0, e.Actual)
	})

	t.Run("complexity checked before depth", func(t *testing.T) {
		_, err := analyze(t, s, `{ items { id } }`, NewConfig(WithMaxComplexity(1), WithMaxDepth(1)), nil)
		require.ErrorIs(t, err, ErrComplexityExceeded)
	})

	t.Run("overflow without a limit", func(t *testing.T) {
		tree := mustBuildSchema(t, `
type Query { node: Node }
type Node { id: ID children: [Node] }
`)
		query := "{ node {" + strings.Repeat(" children {", 320) + " id" + strings.Repeat(" }", 320) + " } }"
		_, err := analyze(t, tree, query, NewConfig(), nil)
		require.ErrorIs(t, err, ErrComplexityExceeded)
		var e *Error
		require.ErrorAs(t, err, &e)
		require.Equal(t, math.MaxFloat64, e.Limit)
		require.True(t, math.IsInf(e.Actual, 1))
	})

	t.Run("document total overflows", func(t *testing.T) {
		big := mustBuildSchema(t, `type Query { big: String @cost(complexity: 1.7e308) }`)
		_, err := analyze(t, big, `{ a: big b: big }`, NewConfig(), nil)
		require.ErrorIs(t, err, ErrComplexityExceeded)
		var e *Error
		require.ErrorAs(t, err, &e)
		require.Empty(t, e.Path)
		require.True(t, math.IsInf(e.Actual, 1))
	})

	t.Run("no limits", func(t *testing.T) {
		query := "{"
		for i := 0; i < 500; i++ {
			query += " items { id tags } a { c { d } }"
		}
		res, err := analyze(t, s, query+" }", NewConfig(), nil)
		require.NoError(t, err)
		require.Equal(t, Result{Complexity: 500 * (21 + 3), MaxDepth: 3}, res)
	})
}

func TestAnalyzeErrors(t *testing.T) {
	s := mustBuildSchema(t, testSDL)

	tests := []struct {
		name  string
		query string
		want  error
		path  []string
	}{
		{"unknown fragment", `{ a { ...Missing } }`, ErrUnknownFragment, []string{"a"}},
		{"self spread", `{ a { ...F } } fragment F on A { b ...F }`, ErrCyclicFragment, []string{"a"}},
		{"mutual spread", `{ a { ...F } } fragment F on A { c { ...G } } fragment G on C { ... on C { d } ...H } fragment H on C { ...G }`, ErrCyclicFragment, []string{"a", "c"}},
		{"unknown field", `{ a { zzz } }`, ErrUnresolvableField, []string{"a", "zzz"}},
		{"field on union", `{ result { id } }`, ErrUnresolvableField, []string{"result", "id"}},
		{"schema meta-field off root", `{ a { __schema { description } } }`, ErrUnresolvableField, []string{"a", "__schema"}},
		{"unknown inline type", `{ a { ... on Missing { b } } }`, ErrUnresolvableType, []string{"a"}},
		{"unknown fragment type", `{ a { ...F } } fragment F on Missing { b }`, ErrUnresolvableType, []string{"a"}},
		{"scalar fragment type", `{ a { ...F } } fragment F on String { b }`, ErrUnresolvableType, []string{"a"}},
		{"missing root type", `subscription { a { b } }`, ErrUnresolvableType, nil},
		{"introspection types absent", `{ __schema { types { name } } }`, ErrUnresolvableType, []string{"__schema"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analyze(t, s, tt.query, NewConfig(), nil)
			require.ErrorIs(t, err, tt.want)
			var e *Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, tt.path, e.Path)
			require.False(t, e.IsLimit())
		})
	}
}

func TestAnalyzeUnresolvableFieldType(t *testing.T) {
	s := schema.NewSchema("").SetQueryType("Query")
	s.AddType(schema.NewType("Query", schema.TypeKindObject, "").
		AddField(schema.NewField("ghost", "", schema.ListType(schema.NamedType("Ghost")))).
		AddField(schema.NewField("filter", "", schema.NamedType("Filter"))))
	s.AddType(schema.NewType("Filter", schema.TypeKindInputObject, ""))

	for _, query := range []string{`{ ghost }`, `{ filter }`} {
		_, err := analyze(t, s, query, NewConfig(), nil)
		require.ErrorIs(t, err, ErrUnresolvableType, query)
	}
}

func TestAnalyzeOperationName(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	query := `query One { a { b } } query Two { items { id } }`

	res, err := analyze(t, s, query, NewConfig(WithOperationName("Two")), nil)
	require.NoError(t, err)
	require.Equal(t, Result{Complexity: 11, MaxDepth: 2}, res)

	_, err = analyze(t, s, query, NewConfig(WithOperationName("Three")), nil)
	require.ErrorIs(t, err, ErrUnknownOperation)
	require.Equal(t, CodeUnknownOperation, CodeOf(err))
}

func TestAnalyzeSkipInclude(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	query := `query Q($s: Boolean!) { a { b @skip(if: $s) c @include(if: false) { d } ... @skip(if: true) { b } } }`
	vars := map[string]any{"s": true}

	res, err := analyze(t, s, query, NewConfig(), vars)
	require.NoError(t, err)
	require.Equal(t, Result{Complexity: 1 + 1 + 2 + 1, MaxDepth: 3}, res)

	res, err = analyze(t, s, query, NewConfig(WithSkipIncludeDirectives(true)), vars)
	require.NoError(t, err)
	require.Equal(t, Result{Complexity: 1, MaxDepth: 1}, res)

	res, err = analyze(t, s, query, NewConfig(WithSkipIncludeDirectives(true)), map[string]any{"s": false})
	require.NoError(t, err)
	require.Equal(t, Result{Complexity: 2, MaxDepth: 2}, res)
}

func TestAnalyzeCollectionCount(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	query := `{ items { id tags } a { b } search { name } }`

	ten, err := analyze(t, s, query, NewConfig(), nil)
	require.NoError(t, err)
	one, err := analyze(t, s, query, NewConfig(WithDefaultCollectionChildrenCount(1)), nil)
	require.NoError(t, err)
	require.Less(t, one.Complexity, ten.Complexity)

	noLists := `{ a { b c { d } } }`
	ten, err = analyze(t, s, noLists, NewConfig(), nil)
	require.NoError(t, err)
	one, err = analyze(t, s, noLists, NewConfig(WithDefaultCollectionChildrenCount(1)), nil)
	require.NoError(t, err)
	require.Equal(t, ten, one)

	zero, err := analyze(t, s, `{ items { id } }`, Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, 11.0, zero.Complexity)
}

func TestAnalyzeCustomComplexity(t *testing.T) {
	s := mustBuildSchema(t, testSDL)

	type seen struct {
		parent string
		field  string
		depth  int
		id     any
		first  any
	}
	var got []seen
	s.Types["Query"].Field("item").SetComplexity(func(ctx schema.ComplexityContext, args schema.ArgumentValues, child float64) float64 {
		got = append(got, seen{ctx.ParentType().Name, ctx.FieldDefinition().Name, ctx.Depth(), args("id"), args("missing")})
		return 100 + child
	})
	s.Types["Item"].Field("name").SetComplexity(func(ctx schema.ComplexityContext, _ schema.ArgumentValues, _ float64) float64 {
		got = append(got, seen{ctx.ParentType().Name, ctx.Field().Alias, ctx.Depth(), ctx.Variables()["id"], nil})
		return -5
	})

	res, err := analyze(t, s, `query Q($id: ID!) { item(id: $id) { label: name } }`, NewConfig(), map[string]any{"id": "42"})
	require.NoError(t, err)
	require.Equal(t, Result{Complexity: 100, MaxDepth: 2}, res)

	want := []seen{
		{"Item", "label", 1, "42", nil},
		{"Query", "item", 0, "42", nil},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(seen{})); diff != "" {
		t.Errorf("cost function calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeArgumentObjects(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	var filter any
	s.Types["Query"].Field("search").SetComplexity(func(_ schema.ComplexityContext, args schema.ArgumentValues, child float64) float64 {
		filter = args("filter")
		return 1
	})

	_, err := analyze(t, s, `query Q($k: Kind) { search(filter: { term: "x", kinds: $k }) { id } }`, NewConfig(), map[string]any{"k": []any{"Y"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"term": "x", "limit": 5, "kinds": []any{"Y"}}, filter)

	_, err = analyze(t, s, `{ search(filter: { kinds: X }) { id } }`, NewConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"limit": 5, "kinds": []any{"X"}}, filter)
}

func TestAnalyzerSharedAcrossGoroutines(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	a := NewAnalyzer(s)
	doc := mustParseQuery(t, `{ items { id } pets { name } a { b } }`)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		count := i%4 + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.Analyze(doc, NewConfig(WithDefaultCollectionChildrenCount(count)), nil)
			if err != nil {
				errs <- err
				return
			}
			want := 2*(1+float64(count)) + 2
			if res.Complexity != want {
				errs <- errors.New("unexpected complexity")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Default cost functions are synthesized once per field definition.
	require.Equal(t, 6, countEntries(&a.costs))
	_, err := a.Analyze(doc, NewConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, 6, countEntries(&a.costs))
}

func TestAnalyzerPerSchema(t *testing.T) {
	s := mustBuildSchema(t, testSDL)
	require.Same(t, NewAnalyzer(s), NewAnalyzer(s))
	require.NotSame(t, NewAnalyzer(s), NewAnalyzer(mustBuildSchema(t, testSDL)))

	// The package-level entry point shares the table of the schema.
	for i := 0; i < 3; i++ {
		_, err := analyze(t, s, `{ items { id } a { b } }`, NewConfig(), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 4, countEntries(&NewAnalyzer(s).costs))
}

func countEntries(m *sync.Map) int {
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
