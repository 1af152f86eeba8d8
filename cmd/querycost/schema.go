package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanpama/querycost/internal/costrpc"
	"github.com/hanpama/querycost/internal/schema"
)

func newSchemaCmd() *cobra.Command {
	var (
		files   []string
		costMap string
		proto   bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the schema with its field costs, or the cost service definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if proto {
				return costrpc.Render(cmd.OutOrStdout())
			}
			s, err := loadSchema(files, costMap)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), schema.Render(s))
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&files, "schema", "s", nil, "GraphQL SDL file or glob. Repeatable")
	cmd.Flags().StringVar(&costMap, "cost-map", "", "YAML cost map applied over @cost directives")
	cmd.Flags().BoolVar(&proto, "proto", false, "Print the gRPC cost service .proto instead")
	return cmd
}
