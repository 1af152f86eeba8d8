// Package costrpc serves query cost analysis over gRPC. Its protobuf
// descriptors are built at startup, so messages are dynamicpb values and
// the service is registered from a hand-written grpc.ServiceDesc.
package costrpc

import (
	"io"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/jhump/protoreflect/v2/protoprint"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	packageName = "querycost.v1"
	serviceName = "CostService"
	analyzeName = "Analyze"

	// FullMethod is the gRPC method path of Analyze.
	FullMethod = "/" + packageName + "." + serviceName + "/" + analyzeName
)

// Descriptors holds the service definition.
type Descriptors struct {
	File     protoreflect.FileDescriptor
	Service  protoreflect.ServiceDescriptor
	Analyze  protoreflect.MethodDescriptor
	Request  protoreflect.MessageDescriptor
	Response protoreflect.MessageDescriptor
}

// Load returns the service descriptors. They are built once.
var Load = sync.OnceValues(build)

func build() (*Descriptors, error) {
	fb := protobuilder.NewFile("querycost/v1/cost.proto")
	fb.SetPackageName(packageName)
	fb.SetSyntax(protoreflect.Proto3)

	req := protobuilder.NewMessage("AnalyzeRequest")
	req.SetComments(comment("A GraphQL request to be costed."))
	addFields(req,
		field("query", protoreflect.StringKind, "GraphQL document."),
		field("operation_name", protoreflect.StringKind, "Operation to analyze. Empty selects the only operation,\nor the whole document when it has several."),
		field("variables_json", protoreflect.StringKind, "Variable values as a JSON object."),
	)

	resp := protobuilder.NewMessage("AnalyzeResponse")
	resp.SetComments(comment("Cost of an admitted request."))
	addFields(resp,
		field("complexity", protoreflect.DoubleKind, ""),
		field("depth", protoreflect.Int32Kind, ""),
		field("operation_name", protoreflect.StringKind, ""),
	)

	method := protobuilder.NewMethod(analyzeName,
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(resp, false),
	)
	method.SetComments(comment("Analyze computes the complexity and depth of a request.\nRequests over the configured limits fail with RESOURCE_EXHAUSTED."))

	svc := protobuilder.NewService(serviceName)
	svc.AddMethod(method)

	fb.AddMessage(req)
	fb.AddMessage(resp)
	fb.AddService(svc)

	fd, err := fb.Build()
	if err != nil {
		return nil, err
	}
	sd := fd.Services().ByName(serviceName)
	md := sd.Methods().ByName(analyzeName)
	return &Descriptors{
		File:     fd,
		Service:  sd,
		Analyze:  md,
		Request:  md.Input(),
		Response: md.Output(),
	}, nil
}

// Render writes the service definition as a .proto file.
func Render(w io.Writer) error {
	d, err := Load()
	if err != nil {
		return err
	}
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(d.File, w)
}

func field(name protoreflect.Name, kind protoreflect.Kind, desc string) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(name, protobuilder.FieldTypeScalar(kind))
	fb.SetComments(comment(desc))
	return fb
}

// addFields numbers fields in declaration order.
func addFields(mb *protobuilder.MessageBuilder, fields ...*protobuilder.FieldBuilder) {
	for i, fb := range fields {
		fb.SetNumber(protoreflect.FieldNumber(i + 1))
		mb.AddField(fb)
	}
}

func comment(desc string) protobuilder.Comments {
	if desc == "" {
		return protobuilder.Comments{}
	}
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		lines[i] = " " + line
	}
	return protobuilder.Comments{LeadingComment: strings.Join(lines, "\n") + "\n"}
}
