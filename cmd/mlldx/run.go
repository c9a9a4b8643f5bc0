package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	interp "github.com/mlld-lang/mlld-sub001/internal/interp"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
	reqid "github.com/mlld-lang/mlld-sub001/internal/reqid"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		useStdin bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "run INVOCATION...",
		Short: "Run an invocation; several invocations form a pipeline",
		Example: `  mlldx run -m mlld.yaml '@greet("Ada")'
  mlldx run '@list("/tmp")' '@upper'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := parseInvocations(args)
			if err != nil {
				return err
			}
			if useStdin {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				s := string(b)
				stages[0].Stdin = &s
			}

			a, err := setup(g, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, _ := reqid.NewContext(cmd.Context())
			ec := a.context(ctx)
			var res *executor.Result
			if len(stages) == 1 {
				res, err = a.exec.EvaluateInvocation(ctx, stages[0], ec)
			} else {
				res, err = a.exec.Pipeline(ctx, stages, ec)
			}
			if err != nil {
				return err
			}
			return printValue(cmd, res.Value, asJSON)
		},
	}
	cmd.Flags().BoolVar(&useStdin, "stdin", false, "pipe standard input to the first invocation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newEachCmd(g *globalFlags) *cobra.Command {
	var (
		items  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "each INVOCATION --items JSON",
		Short:   "Run an invocation once per item, in order",
		Example: `  mlldx each '@greet' --items '["Ada", "Grace"]'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := language.ParseInvocation(args[0])
			if err != nil {
				return err
			}
			var list []any
			if err := json.Unmarshal([]byte(items), &list); err != nil {
				return fmt.Errorf("--items must be a JSON array: %w", err)
			}

			a, err := setup(g, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, _ := reqid.NewContext(cmd.Context())
			res, err := a.exec.Iterate(ctx, inv, list, a.context(ctx))
			if err != nil {
				return err
			}
			return printValue(cmd, res.Value, asJSON)
		},
	}
	cmd.Flags().StringVar(&items, "items", "[]", "JSON array of items")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func parseInvocations(args []string) ([]*language.Invocation, error) {
	out := make([]*language.Invocation, len(args))
	for i, src := range args {
		inv, err := language.ParseInvocation(src)
		if err != nil {
			return nil, err
		}
		out[i] = inv
	}
	return out, nil
}

// printValue writes the result. Strings print verbatim unless asJSON.
func printValue(cmd *cobra.Command, v any, asJSON bool) error {
	w := cmd.OutOrStdout()
	if !asJSON {
		if s, ok := v.(string); ok || v == nil {
			_, err := fmt.Fprintln(w, s)
			return err
		}
		if _, ok := v.([]any); !ok {
			_, err := fmt.Fprintln(w, interp.Stringify(v))
			return err
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
