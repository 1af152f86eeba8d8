package costmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

const sdl = `
type Query {
  users(first: Int = 10): [User]
  search(term: String): [User]
  me: User
}
type User {
  name: String
  avatar(size: Int): Image
}
type Image {
  url: String
  width: Int
}
`

func TestLoad(t *testing.T) {
	m, err := Load("testdata/costs.yaml")
	require.NoError(t, err)

	two, five, off := 2.0, 5.0, false
	want := Map{
		"Query.users":  {Complexity: &two, Multipliers: []string{"first"}},
		"Query.search": {UseMultipliers: &off},
		"User.avatar":  {Complexity: &five, IgnoreChildren: true},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("cost map mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("Query.users:\n  multiplier: [first]\n"))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	s, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	m, err := Load("testdata/costs.yaml")
	require.NoError(t, err)
	require.NoError(t, Apply(s, m))

	require.Equal(t, &schema.CostSpec{Complexity: 2, Multipliers: []string{"first"}, UseMultipliers: true}, s.Types["Query"].Field("users").Cost)
	require.Nil(t, s.Types["Query"].Field("me").Complexity)

	tests := []struct {
		query string
		want  float64
	}{
		{`{ users { name } }`, 2 + 10*1},
		{`{ users(first: 3) { name } }`, 2 + 3*1},
		{`{ search { name } }`, 1 + 1},
		{`{ me { avatar { url width } } }`, 1 + 5},
	}
	for _, tt := range tests {
		doc, err := language.ParseQuery(tt.query)
		require.NoError(t, err)
		res, err := complexity.Analyze(doc, s, complexity.NewConfig(), nil)
		require.NoError(t, err)
		require.Equal(t, tt.want, res.Complexity, tt.query)
	}
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		m    string
	}{
		{"not a coordinate", "users: {}"},
		{"unknown type", "Nope.users: {}"},
		{"unknown field", "Query.nope: {}"},
		{"unknown multiplier", "Query.users: {multipliers: [last]}"},
		{"negative complexity", "Query.me: {complexity: -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := schema.BuildFromSDL(sdl)
			require.NoError(t, err)
			m, err := Parse([]byte(tt.m))
			require.NoError(t, err)
			require.Error(t, Apply(s, m))
			require.Nil(t, s.Types["Query"].Field("users").Cost)
		})
	}
}
