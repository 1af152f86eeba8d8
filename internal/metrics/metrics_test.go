package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
)

func TestSubscribe(t *testing.T) {
	c := New()
	bus := eventbus.New()
	defer c.Subscribe(bus)()
	ctx := context.Background()

	eventbus.Emit(bus, ctx, events.AnalysisFinish{Transport: "http", Complexity: 12, Depth: 3, Duration: time.Millisecond})
	eventbus.Emit(bus, ctx, events.AnalysisFinish{Transport: "http", Code: "COMPLEXITY_LIMIT_EXCEEDED", Err: errors.New("x")})
	eventbus.Emit(bus, ctx, events.AnalysisFinish{Transport: "grpc", Complexity: 1, Depth: 1})
	eventbus.Emit(bus, ctx, events.DocumentLookup{Hit: true})
	eventbus.Emit(bus, ctx, events.DocumentLookup{Hit: false})
	eventbus.Emit(bus, ctx, events.DocumentLookup{Hit: false})
	eventbus.Emit(bus, ctx, events.HTTPFinish{Request: httptest.NewRequest("POST", "/graphql", nil), Status: http.StatusOK})
	eventbus.Emit(bus, ctx, events.RPCFinish{Method: "/querycost.v1.CostService/Analyze", Code: codes.ResourceExhausted})

	require.Equal(t, 1.0, testutil.ToFloat64(c.analysesTotal.WithLabelValues("http", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.analysesTotal.WithLabelValues("http", "COMPLEXITY_LIMIT_EXCEEDED")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.analysesTotal.WithLabelValues("grpc", "OK")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.documentLookups.WithLabelValues("hit")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.documentLookups.WithLabelValues("miss")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.rpcRequestsTotal.WithLabelValues("/querycost.v1.CostService/Analyze", "ResourceExhausted")))

	// Rejected requests are not observed in the complexity histogram.
	require.Equal(t, 2, testutil.CollectAndCount(c.analysisComplexity))

	expected := `
# HELP querycost_document_cache_lookups_total Parsed document cache lookups by result.
# TYPE querycost_document_cache_lookups_total counter
querycost_document_cache_lookups_total{result="hit"} 1
querycost_document_cache_lookups_total{result="miss"} 2
`
	require.NoError(t, testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "querycost_document_cache_lookups_total"))
}

func TestHandler(t *testing.T) {
	c := New()
	bus := eventbus.New()
	defer c.Subscribe(bus)()
	eventbus.Emit(bus, context.Background(), events.DocumentLookup{Hit: true})

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `querycost_document_cache_lookups_total{result="hit"} 1`)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
