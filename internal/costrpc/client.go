package costrpc

import (
	"context"
	"encoding/json"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/querycost/internal/admission"
)

// Client calls a remote CostService.
type Client struct {
	cc grpc.ClientConnInterface
	d  *Descriptors
}

func NewClient(cc grpc.ClientConnInterface) (*Client, error) {
	d, err := Load()
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, d: d}, nil
}

// Analyze sends req to the server. Rejections are returned as gRPC status
// errors; Reason extracts their code.
func (c *Client) Analyze(ctx context.Context, req admission.Request, opts ...grpc.CallOption) (admission.Decision, error) {
	in := dynamicpb.NewMessage(c.d.Request)
	fields := c.d.Request.Fields()
	in.Set(fields.ByName("query"), protoreflect.ValueOfString(req.Query))
	if req.OperationName != "" {
		in.Set(fields.ByName("operation_name"), protoreflect.ValueOfString(req.OperationName))
	}
	if len(req.Variables) > 0 {
		raw, err := json.Marshal(req.Variables)
		if err != nil {
			return admission.Decision{}, err
		}
		in.Set(fields.ByName("variables_json"), protoreflect.ValueOfString(string(raw)))
	}

	out := dynamicpb.NewMessage(c.d.Response)
	if err := c.cc.Invoke(ctx, FullMethod, in, out, opts...); err != nil {
		return admission.Decision{}, err
	}
	rf := c.d.Response.Fields()
	return admission.Decision{
		OperationName: out.Get(rf.ByName("operation_name")).String(),
		Complexity:    out.Get(rf.ByName("complexity")).Float(),
		Depth:         int(out.Get(rf.ByName("depth")).Int()),
	}, nil
}

// Reason returns the rejection code attached to a status error, or "".
func Reason(err error) string {
	info := ErrorInfo(err)
	if info == nil {
		return ""
	}
	return info.GetReason()
}

// ErrorInfo returns the ErrorInfo detail of a status error, or nil.
func ErrorInfo(err error) *errdetails.ErrorInfo {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	return nil
}
