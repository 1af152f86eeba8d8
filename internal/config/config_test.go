package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load("testdata/querycost.yaml")
	require.NoError(t, err)

	want := Default()
	want.HTTP.Addr = ":9090"
	want.HTTP.Timeout = 5 * time.Second
	want.HTTP.CORSOrigins = []string{"https://app.example.com"}
	want.GRPC.Addr = ":9091"
	want.Schema = SchemaConfig{Files: []string{"schema/base.graphql", "schema/extensions.graphql"}, CostMap: "costs.yaml"}
	want.Limits.MaxComplexity = 500
	want.Limits.MaxDepth = 8
	want.Limits.SkipInclude = true
	want.Log.Level = "debug"
	want.OTel.Endpoint = "collector:4317"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	analysis := cfg.Limits.Analysis()
	require.Nil(t, analysis.MaxComplexity)
	require.Nil(t, analysis.MaxDepth)
	require.Equal(t, 10, analysis.DefaultCollectionChildrenCount)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	_, err = Load(write("bad.yaml", "http: ["))
	require.ErrorContains(t, err, "parse config")

	_, err = Load(write("invalid.yaml", "limits:\n  max_depth: -1\nlog:\n  level: loud\n"))
	require.ErrorContains(t, err, "limits.max_depth")
	require.ErrorContains(t, err, "log.level")
}

func TestLimitsAnalysis(t *testing.T) {
	analysis := LimitsConfig{MaxComplexity: 100, MaxDepth: 4, DefaultCollectionChildrenCount: 0, SkipInclude: true}.Analysis()
	require.Equal(t, 100.0, *analysis.MaxComplexity)
	require.Equal(t, 4, *analysis.MaxDepth)
	require.Equal(t, 10, analysis.DefaultCollectionChildrenCount)
	require.True(t, analysis.SkipIncludeDirectives)
}
