package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/hanpama/querycost/internal/admission"
	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/config"
	"github.com/hanpama/querycost/internal/costrpc"
)

const schemaGlob = "testdata/schema/*.graphql"

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeOutput(t *testing.T, out string) analyzeOutput {
	t.Helper()
	var got analyzeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	return got
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	require.Equal(t, "querycost dev\n", out)
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  analyzeOutput
	}{
		{
			name: "file with cost map",
			args: []string{"analyze", "-s", schemaGlob, "--cost-map", "testdata/costs.yaml", "testdata/friends.graphql"},
			want: analyzeOutput{OperationName: "Friends", Complexity: 15, Depth: 3},
		},
		{
			name: "default list size",
			args: []string{"analyze", "-s", schemaGlob, "testdata/friends.graphql"},
			want: analyzeOutput{OperationName: "Friends", Complexity: 25, Depth: 3},
		},
		{
			name: "smaller default list size",
			args: []string{"analyze", "-s", schemaGlob, "--default-count", "2", "testdata/friends.graphql"},
			want: analyzeOutput{OperationName: "Friends", Complexity: 9, Depth: 3},
		},
		{
			name:  "stdin with variables",
			stdin: `query Q($n: Int) { users(first: $n) { posts { title } } }`,
			args:  []string{"analyze", "-s", schemaGlob, "--variables", `{"n": 4}`},
			want:  analyzeOutput{OperationName: "Q", Complexity: 1 + 4*(1+10*1), Depth: 3},
		},
		{
			name: "inline query",
			args: []string{"analyze", "-s", schemaGlob, "-q", `{ user(id: 1) { name } }`},
			want: analyzeOutput{Complexity: 2, Depth: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.stdin, tt.args...)
			require.NoError(t, err)
			require.Equal(t, tt.want, decodeOutput(t, out))
		})
	}
}

func TestAnalyzeRejected(t *testing.T) {
	_, err := execute(t, "", "analyze", "-s", schemaGlob, "--max-complexity", "10", "testdata/friends.graphql")
	require.ErrorContains(t, err, "COMPLEXITY_LIMIT_EXCEEDED")

	_, err = execute(t, "", "analyze", "-s", schemaGlob, "--max-depth", "2", "testdata/friends.graphql")
	require.ErrorContains(t, err, "DEPTH_LIMIT_EXCEEDED")

	_, err = execute(t, "", "analyze", "-s", schemaGlob, "-q", "{ nope }")
	require.ErrorContains(t, err, admission.CodeValidationFailed)

	_, err = execute(t, "", "analyze", "-s", "testdata/missing.graphql", "-q", "{ user }")
	require.Error(t, err)

	_, err = execute(t, "", "analyze", "-s", schemaGlob, "-q", "{ user(id: 1) { id } }", "testdata/friends.graphql")
	require.ErrorContains(t, err, "not both")
}

func TestAnalyzeRemote(t *testing.T) {
	s, err := loadSchema([]string{schemaGlob}, "testdata/costs.yaml")
	require.NoError(t, err)
	svc, err := admission.New(s, complexity.NewConfig(complexity.WithMaxDepth(3)), 16)
	require.NoError(t, err)
	defer svc.Close()
	rpc, err := costrpc.NewServer(svc)
	require.NoError(t, err)

	gs := grpc.NewServer()
	costrpc.Register(gs, rpc)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = gs.Serve(lis) }()
	defer gs.Stop()

	out, err := execute(t, "", "analyze", "--remote", lis.Addr().String(), "testdata/friends.graphql")
	require.NoError(t, err)
	require.Equal(t, analyzeOutput{OperationName: "Friends", Complexity: 15, Depth: 3}, decodeOutput(t, out))

	_, err = execute(t, "", "analyze", "--remote", lis.Addr().String(), "-q", "{ users { friends { friends { name } } } }")
	require.ErrorContains(t, err, "DEPTH_LIMIT_EXCEEDED")
}

func TestSchema(t *testing.T) {
	out, err := execute(t, "", "schema", "-s", schemaGlob, "--cost-map", "testdata/costs.yaml")
	require.NoError(t, err)
	require.Contains(t, out, `users(first: Int = 10): [User] @cost(multipliers: ["first"])`)
	require.Contains(t, out, `friends(first: Int): [User] @cost(complexity: 3, multipliers: ["first"])`)
	require.Contains(t, out, "posts: [Post]")

	out, err = execute(t, "", "schema", "--proto")
	require.NoError(t, err)
	require.Contains(t, out, "service CostService")
}

func TestApp(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Schema.Files = []string{schemaGlob}
	cfg.Schema.CostMap = "testdata/costs.yaml"
	cfg.Limits.MaxComplexity = 100
	cfg.GRPC.Addr = "127.0.0.1:0"

	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.grpc)

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/graphql", "application/json", strings.NewReader(`{"query":"{ users(first: 2) { name } }"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Data struct {
			Complexity float64 `json:"complexity"`
			Depth      int     `json:"depth"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 3.0, body.Data.Complexity)
	require.Equal(t, 2, body.Data.Depth)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	raw, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `querycost_analyses_total{code="OK",transport="http"} 1`)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)
}
