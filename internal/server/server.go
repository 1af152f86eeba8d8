package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hanpama/querycost/internal/admission"
	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
	"github.com/hanpama/querycost/internal/language"
	"github.com/hanpama/querycost/internal/reqid"
)

// Transport names the HTTP transport in analysis events.
const Transport = "http"

// Handler is an http.Handler that admits GraphQL requests.
// It parses requests, analyzes their cost and answers with the computed
// complexity and depth, or with GraphQL errors for rejected documents.
type Handler struct {
	svc *admission.Service
	opt Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a new HTTP handler admitting requests through svc.
func New(svc *admission.Service, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{svc: svc, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(reqid.Header))
	w.Header().Set(reqid.Header, rid)
	r = r.WithContext(ctx)

	status, requests := http.StatusOK, 0
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Requests: requests, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		status = writeJSON(w, status, errorResponse(&language.Error{Message: "method not allowed"}), h.opt.Pretty)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		status = writeJSON(w, status, errorResponse(berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		requests = len(batch)
		out := make([]admitResult, len(batch))
		for i := range batch {
			out[i] = h.admitOne(ctx, batch[i])
		}
		status = writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	requests = 1
	status = writeJSON(w, status, h.admitOne(ctx, req), h.opt.Pretty)
}

func (h *Handler) admitOne(ctx context.Context, req GraphQLRequest) admitResult {
	d, err := h.svc.Admit(ctx, Transport, admission.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
	})
	if err != nil {
		return toResult(err)
	}
	return admitResult{Data: &costData{
		Complexity:    d.Complexity,
		Depth:         d.Depth,
		OperationName: d.OperationName,
	}}
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, &language.Error{Message: "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, &language.Error{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, &language.Error{Message: "empty batch"}
		}
		return GraphQLRequest{}, arr, nil
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, &language.Error{Message: "invalid JSON"}
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, &language.Error{Message: "missing 'query'"}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type costData struct {
	Complexity    float64 `json:"complexity"`
	Depth         int     `json:"depth"`
	OperationName string  `json:"operationName,omitempty"`
}

type admitResult struct {
	Data   *costData          `json:"data"`
	Errors language.ErrorList `json:"errors,omitempty"`
}

func errorResponse(err *language.Error) admitResult {
	return admitResult{Errors: language.ErrorList{err}}
}

// toResult renders a rejection. Cost errors carry their code, path and
// the violated limit; validation errors keep their source locations.
func toResult(err error) admitResult {
	var cerr *complexity.Error
	if errors.As(err, &cerr) {
		ge := &language.Error{
			Message:    cerr.Message,
			Extensions: map[string]any{"code": cerr.Code},
		}
		for _, p := range cerr.Path {
			ge.Path = append(ge.Path, language.PathName(p))
		}
		if cerr.IsLimit() {
			ge.Extensions["limit"] = jsonNumber(cerr.Limit)
			ge.Extensions["actual"] = jsonNumber(cerr.Actual)
		}
		return admitResult{Errors: language.ErrorList{ge}}
	}

	var list language.ErrorList
	if !errors.As(err, &list) {
		var gqlErr *language.Error
		if errors.As(err, &gqlErr) {
			list = language.ErrorList{gqlErr}
		}
	}
	if len(list) == 0 {
		return admitResult{Errors: language.ErrorList{{
			Message:    err.Error(),
			Extensions: map[string]any{"code": admission.Code(err)},
		}}}
	}
	out := admitResult{Errors: make(language.ErrorList, len(list))}
	for i, e := range list {
		out.Errors[i] = &language.Error{
			Message:    e.Message,
			Locations:  e.Locations,
			Extensions: map[string]any{"code": admission.CodeValidationFailed},
		}
	}
	return out
}

// writeJSON encodes v before writing the header so an encoding failure is
// answered with a 500 instead of an empty body. It returns the status sent.
func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) int {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		status = http.StatusInternalServerError
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse(&language.Error{
			Message:    "failed to encode response: " + err.Error(),
			Extensions: map[string]any{"code": "INTERNAL"},
		}))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
	return status
}

// jsonNumber renders non-finite numbers as strings; JSON has no literal for them.
func jsonNumber(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
