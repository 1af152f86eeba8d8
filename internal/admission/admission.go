// Package admission decides whether a GraphQL request may run: it loads the
// document, coerces its variables and analyzes its cost under the
// configured limits. The HTTP handler, the gRPC service and the CLI share it.
package admission

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/doccache"
	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
	"github.com/hanpama/querycost/internal/introspection"
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/schema"
)

// Request is a GraphQL request as received by a transport.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
}

// Decision is the outcome of an admitted request.
type Decision struct {
	OperationName string
	Complexity    float64
	Depth         int
}

// Service is safe for concurrent use.
type Service struct {
	analyzer *complexity.Analyzer
	docs     *doccache.Cache
	limits   complexity.Config
}

// New returns a Service for s. The schema is extended with the introspection
// types so introspection queries are costed like any other.
func New(s *schema.Schema, limits complexity.Config, maxDocuments int64) (*Service, error) {
	s = introspection.Extend(s)
	docs, err := doccache.New(s.AST(), maxDocuments)
	if err != nil {
		return nil, err
	}
	return &Service{
		analyzer: complexity.NewAnalyzer(s),
		docs:     docs,
		limits:   limits,
	}, nil
}

func (s *Service) Schema() *schema.Schema { return s.analyzer.Schema() }

// Limits returns the analysis configuration requests are checked against.
func (s *Service) Limits() complexity.Config { return s.limits }

func (s *Service) Close() { s.docs.Close() }

// Admit analyzes req. Rejections are a language.ErrorList for documents
// failing validation or a *complexity.Error.
func (s *Service) Admit(ctx context.Context, transport string, req Request) (Decision, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.AnalysisStart{Transport: transport, OperationName: req.OperationName})
	d, err := s.admit(ctx, req)
	eventbus.Publish(ctx, events.AnalysisFinish{
		Transport:     transport,
		OperationName: d.OperationName,
		Complexity:    d.Complexity,
		Depth:         d.Depth,
		Code:          Code(err),
		Err:           err,
		Duration:      time.Since(start),
	})
	return d, err
}

func (s *Service) admit(ctx context.Context, req Request) (Decision, error) {
	d := Decision{OperationName: req.OperationName}
	doc, err := s.docs.Load(ctx, req.Query)
	if err != nil {
		return d, err
	}

	cfg := s.limits
	cfg.OperationName = req.OperationName
	vars := req.Variables
	switch op := selectOperation(doc, req.OperationName); {
	case op != nil:
		cfg.OperationName = op.Name
		d.OperationName = op.Name
		if vars, err = complexity.CoerceVariables(s.Schema(), op, req.Variables); err != nil {
			return d, err
		}
	case req.OperationName == "":
		if vars, err = coerceDocument(s.Schema(), doc.Operations, req.Variables); err != nil {
			return d, err
		}
	}

	res, err := s.analyzer.Analyze(doc, cfg, vars)
	if err != nil {
		return d, err
	}
	d.Complexity, d.Depth = res.Complexity, res.MaxDepth
	return d, nil
}

// selectOperation returns the operation a request runs: the named one, or
// the only one. Documents with several operations and no name are analyzed
// as a whole.
func selectOperation(doc *language.QueryDocument, name string) *language.OperationDefinition {
	if name != "" {
		return doc.Operations.ForName(name)
	}
	if len(doc.Operations) == 1 {
		return doc.Operations[0]
	}
	return nil
}

// coerceDocument coerces the variables of a document analyzed as a whole.
// Each operation coerces them against its own definitions and the results
// are merged.
func coerceDocument(s *schema.Schema, ops language.OperationList, raw map[string]any) (map[string]any, error) {
	vars := make(map[string]any, len(raw))
	for _, op := range ops {
		coerced, err := complexity.CoerceVariables(s, op, raw)
		if err != nil {
			return nil, err
		}
		maps.Copy(vars, coerced)
	}
	return vars, nil
}

// CodeValidationFailed marks documents rejected by the validator.
const CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"

// Code classifies a rejection for logs, metrics and error extensions.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if c := complexity.CodeOf(err); c != "" {
		return string(c)
	}
	var list language.ErrorList
	var gqlErr *language.Error
	if errors.As(err, &list) || errors.As(err, &gqlErr) {
		return CodeValidationFailed
	}
	return "INTERNAL"
}
