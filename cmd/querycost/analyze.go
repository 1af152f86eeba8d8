package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/hanpama/querycost/internal/admission"
	"github.com/hanpama/querycost/internal/complexity"
	"github.com/hanpama/querycost/internal/costrpc"
)

type analyzeOptions struct {
	files         []string
	costMap       string
	query         string
	variables     string
	operation     string
	maxComplexity float64
	maxDepth      int
	defaultCount  int
	skipInclude   bool
	remote        string
}

// analyzeOutput is printed for admitted requests.
type analyzeOutput struct {
	OperationName string  `json:"operationName,omitempty"`
	Complexity    float64 `json:"complexity"`
	Depth         int     `json:"depth"`
}

func newAnalyzeCmd() *cobra.Command {
	var o analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze [query-file]",
		Short: "Compute the complexity and depth of a GraphQL document",
		Long: `Analyze reads a document from the file argument, --query, or stdin ("-")
and prints its complexity and depth as JSON. Documents over the given limits
are rejected with a non-zero exit status. With --remote the document is sent
to a running cost service instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), o.query, args)
			if err != nil {
				return err
			}
			req := admission.Request{Query: query, OperationName: o.operation}
			if o.variables != "" {
				if err := json.Unmarshal([]byte(o.variables), &req.Variables); err != nil {
					return fmt.Errorf("invalid --variables: %w", err)
				}
			}

			var d admission.Decision
			if o.remote != "" {
				d, err = analyzeRemote(cmd.Context(), o.remote, req)
			} else {
				d, err = analyzeLocal(cmd.Context(), o, req)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(analyzeOutput{OperationName: d.OperationName, Complexity: d.Complexity, Depth: d.Depth})
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&o.files, "schema", "s", nil, "GraphQL SDL file or glob. Repeatable")
	f.StringVar(&o.costMap, "cost-map", "", "YAML cost map applied over @cost directives")
	f.StringVarP(&o.query, "query", "q", "", "GraphQL document text")
	f.StringVar(&o.variables, "variables", "", "Variable values as a JSON object")
	f.StringVarP(&o.operation, "operation", "o", "", "Operation to analyze")
	f.Float64Var(&o.maxComplexity, "max-complexity", 0, "Reject documents above this complexity (0: unlimited)")
	f.IntVar(&o.maxDepth, "max-depth", 0, "Reject documents above this depth (0: unlimited)")
	f.IntVar(&o.defaultCount, "default-count", complexity.DefaultCollectionChildrenCount, "Assumed size of lists without multipliers")
	f.BoolVar(&o.skipInclude, "skip-include", false, "Honor @skip and @include")
	f.StringVar(&o.remote, "remote", "", "Address of a cost service to ask instead of analyzing locally")
	return cmd
}

func readQuery(stdin io.Reader, query string, args []string) (string, error) {
	switch {
	case query != "" && len(args) > 0:
		return "", errors.New("give either --query or a query file, not both")
	case query != "":
		return query, nil
	case len(args) == 0 || args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read query: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read query: %w", err)
		}
		return string(data), nil
	}
}

func analyzeLocal(ctx context.Context, o analyzeOptions, req admission.Request) (admission.Decision, error) {
	s, err := loadSchema(o.files, o.costMap)
	if err != nil {
		return admission.Decision{}, err
	}
	opts := []complexity.Option{
		complexity.WithDefaultCollectionChildrenCount(o.defaultCount),
		complexity.WithSkipIncludeDirectives(o.skipInclude),
	}
	if o.maxComplexity > 0 {
		opts = append(opts, complexity.WithMaxComplexity(o.maxComplexity))
	}
	if o.maxDepth > 0 {
		opts = append(opts, complexity.WithMaxDepth(o.maxDepth))
	}
	svc, err := admission.New(s, complexity.NewConfig(opts...), 1)
	if err != nil {
		return admission.Decision{}, err
	}
	defer svc.Close()

	d, err := svc.Admit(ctx, "cli", req)
	if err != nil {
		return d, fmt.Errorf("rejected (%s): %w", admission.Code(err), err)
	}
	return d, nil
}

func analyzeRemote(ctx context.Context, addr string, req admission.Request) (admission.Decision, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return admission.Decision{}, err
	}
	defer cc.Close()
	c, err := costrpc.NewClient(cc)
	if err != nil {
		return admission.Decision{}, err
	}
	d, err := c.Analyze(ctx, req)
	if err != nil {
		if reason := costrpc.Reason(err); reason != "" {
			return d, fmt.Errorf("rejected (%s): %s", reason, status.Convert(err).Message())
		}
		return d, err
	}
	return d, nil
}
