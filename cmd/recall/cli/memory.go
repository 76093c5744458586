package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/runtime"
)

var (
	searchAngle float64
	searchLimit int
	asJSON      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [message...]",
	Short: "Store a message as a memory without chatting",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		env, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer env.Close()

		text := strings.Join(args, " ")
		if v := env.runner.Guard.CheckInput(text); v != nil {
			return fmt.Errorf("%w: %s", memory.ErrInvalidArgument, v.Error())
		}
		if err := env.runner.Agent.Ingest(ctx, env.cfg.Owner, text); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Memory stored.")
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Find memories similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		env, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.runner.Retriever.FindRelevant(ctx, env.cfg.Owner, strings.Join(args, " "), searchAngle, searchLimit)
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

var rangeCmd = &cobra.Command{
	Use:   "range [start] [end]",
	Short: "List memories stored between two dates (inclusive)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		env, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.runner.Retriever.FindByDateRange(ctx, env.cfg.Owner, args[0], args[1])
		if err != nil {
			return err
		}
		return printResults(cmd.OutOrStdout(), results)
	},
}

func printResults(w io.Writer, results []memory.Result) error {
	if asJSON {
		if results == nil {
			results = []memory.Result{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No memories found.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(w, "%s  %s\n", r.Timestamp.Local().Format(time.DateTime), r.Message)
	}
	return nil
}

func init() {
	searchCmd.Flags().Float64Var(&searchAngle, "angle", runtime.RelevantAngle, "Angular tolerance in degrees")
	searchCmd.Flags().IntVar(&searchLimit, "limit", runtime.RelevantDepth, "Maximum number of results")
	for _, c := range []*cobra.Command{searchCmd, rangeCmd} {
		c.Flags().BoolVar(&asJSON, "as-json", false, "Print results as JSON")
	}
	RootCmd.AddCommand(ingestCmd, searchCmd, rangeCmd)
}
