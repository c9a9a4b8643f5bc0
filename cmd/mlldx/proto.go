package main

import (
	"fmt"

	"github.com/spf13/cobra"

	protoreg "github.com/mlld-lang/mlld-sub001/internal/protoreg"
)

func newProtoCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "proto --out DIR",
		Short: "Write the runtime worker .proto file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := protoreg.Default()
			if err != nil {
				return fmt.Errorf("protoreg build: %w", err)
			}
			if err := protoreg.Render(reg, out); err != nil {
				return fmt.Errorf("render proto: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output directory")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mlldx %s\n", version)
		},
	}
}
