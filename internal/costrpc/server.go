package costrpc

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/querycost/internal/admission"
	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
	"github.com/hanpama/querycost/internal/reqid"
)

// Transport names the gRPC transport in analysis events.
const Transport = "grpc"

// ErrorDomain is the domain of ErrorInfo details attached to rejections.
const ErrorDomain = "querycost"

// CostServer is implemented by Server.
type CostServer interface {
	Analyze(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
}

// Server answers Analyze calls through an admission service.
type Server struct {
	svc *admission.Service
	d   *Descriptors
}

func NewServer(svc *admission.Service) (*Server, error) {
	d, err := Load()
	if err != nil {
		return nil, err
	}
	return &Server{svc: svc, d: d}, nil
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv *Server) {
	s.RegisterService(serviceDesc(srv.d), srv)
}

func serviceDesc(d *Descriptors) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: string(d.Service.FullName()),
		HandlerType: (*CostServer)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: analyzeName,
			Handler:    analyzeHandler(d),
		}},
		Metadata: d.File.Path(),
	}
}

func analyzeHandler(d *Descriptors) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(d.Request)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(CostServer).Analyze(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(CostServer).Analyze(ctx, req.(*dynamicpb.Message))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func (s *Server) Analyze(ctx context.Context, in *dynamicpb.Message) (*dynamicpb.Message, error) {
	fields := s.d.Request.Fields()
	req := admission.Request{
		Query:         in.Get(fields.ByName("query")).String(),
		OperationName: in.Get(fields.ByName("operation_name")).String(),
	}
	if raw := in.Get(fields.ByName("variables_json")).String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Variables); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid variables_json: %v", err)
		}
	}

	d, err := s.svc.Admit(ctx, Transport, req)
	if err != nil {
		return nil, statusFor(err).Err()
	}

	out := dynamicpb.NewMessage(s.d.Response)
	rf := s.d.Response.Fields()
	out.Set(rf.ByName("complexity"), protoreflect.ValueOfFloat64(d.Complexity))
	out.Set(rf.ByName("depth"), protoreflect.ValueOfInt32(int32(d.Depth)))
	out.Set(rf.ByName("operation_name"), protoreflect.ValueOfString(d.OperationName))
	return out, nil
}

// statusFor maps a rejection to a gRPC status carrying an ErrorInfo whose
// reason is the rejection code.
func statusFor(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err)
	}

	code := codes.Internal
	info := &errdetails.ErrorInfo{Reason: admission.Code(err), Domain: ErrorDomain}
	var cerr *complexity.Error
	switch {
	case errors.As(err, &cerr):
		switch {
		case cerr.IsLimit():
			code = codes.ResourceExhausted
			info.Metadata = map[string]string{
				"limit":  strconv.FormatFloat(cerr.Limit, 'g', -1, 64),
				"actual": strconv.FormatFloat(cerr.Actual, 'g', -1, 64),
			}
		case errors.Is(err, complexity.ErrUnresolvableField), errors.Is(err, complexity.ErrUnresolvableType):
			code = codes.FailedPrecondition
		default:
			code = codes.InvalidArgument
		}
		if len(cerr.Path) > 0 {
			if info.Metadata == nil {
				info.Metadata = map[string]string{}
			}
			info.Metadata["path"] = strings.Join(cerr.Path, ".")
		}
	case info.Reason == admission.CodeValidationFailed:
		code = codes.InvalidArgument
	}

	st := status.New(code, err.Error())
	if detailed, derr := st.WithDetails(info); derr == nil {
		return detailed
	}
	return st
}

// UnaryInterceptor tags calls with a request ID and publishes RPC events.
// A caller-supplied x-request-id metadata value is kept.
func UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(reqid.Header); len(v) > 0 {
				id = v[0]
			}
		}
		ctx, id = reqid.WithID(ctx, id)
		_ = grpc.SetHeader(ctx, metadata.Pairs(reqid.Header, id))

		start := time.Now()
		eventbus.Publish(ctx, events.RPCStart{Method: info.FullMethod})
		resp, err = handler(ctx, req)
		eventbus.Publish(ctx, events.RPCFinish{
			Method:   info.FullMethod,
			Code:     status.Code(err),
			Err:      err,
			Duration: time.Since(start),
		})
		return resp, err
	}
}
