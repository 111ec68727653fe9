// File: cmd/compile.go
package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/observability"
	"github.com/xkilldash9x/testpilot/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// compiledItem is one step or assertion next to what it compiled to.
type compiledItem struct {
	Index    int    `json:"index"`
	Source   string `json:"source"`
	Kind     string `json:"kind"`
	Compiled string `json:"compiled"`
}

type compiledCase struct {
	ID         int64          `json:"id"`
	Title      string         `json:"title"`
	Type       string         `json:"type"`
	Actions    []compiledItem `json:"actions"`
	Assertions []compiledItem `json:"assertions"`
	Gaps       int            `json:"gaps"`
}

// newCompileCmd creates and configures the `compile` command.
func newCompileCmd() *cobra.Command {
	var (
		casesPath string
		asJSON    bool
		strict    bool
	)

	compileCmd := &cobra.Command{
		Use:   "compile [test case ids...]",
		Short: "Shows what each step and assertion compiles to",
		Long: `Compiles test cases without running them and lists the action or assertion each
line became. Lines no rule recognizes are reported as Unresolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			ids, err := parseIDs(args)
			if err != nil {
				return invalid(err)
			}
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			cases, err := service.LoadCases(ctx, cfg, casesPath, ids, logger)
			if err != nil {
				return invalid(err)
			}
			tests, err := service.Compile(cfg, cases, logger)
			if err != nil {
				return invalid(err)
			}

			listing := describeCompiled(tests)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(listing); err != nil {
					return fmt.Errorf("failed to encode compiled cases: %w", err)
				}
			} else {
				printCompiled(out, listing)
			}

			gaps := 0
			for _, c := range listing {
				gaps += c.Gaps
			}
			if strict && gaps > 0 {
				return &ExitError{Code: ExitFailed, Err: fmt.Errorf("%d unresolved steps or assertions", gaps)}
			}
			return nil
		},
	}

	compileCmd.Flags().StringVarP(&casesPath, "cases", "f", "", "Test case file or directory. If unset, cases are read from the database.")
	compileCmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON.")
	compileCmd.Flags().BoolVar(&strict, "strict", false, "Exit with status 1 when anything is unresolved.")

	return compileCmd
}

func describeCompiled(tests []*dsl.CompiledTest) []compiledCase {
	listing := make([]compiledCase, 0, len(tests))
	for _, ct := range tests {
		c := compiledCase{
			ID:         ct.TestCase.ID,
			Title:      ct.TestCase.Title,
			Type:       ct.TestCase.GroupName(),
			Actions:    make([]compiledItem, len(ct.Actions)),
			Assertions: make([]compiledItem, len(ct.Assertions)),
			Gaps:       len(ct.Gaps()),
		}
		for i, a := range ct.Actions {
			c.Actions[i] = compiledItem{Index: i + 1, Source: ct.TestCase.Steps[i], Kind: string(a.Kind()), Compiled: a.String()}
		}
		for i, a := range ct.Assertions {
			c.Assertions[i] = compiledItem{Index: i + 1, Source: ct.TestCase.Assertions[i], Kind: string(a.Kind()), Compiled: a.String()}
		}
		listing = append(listing, c)
	}
	return listing
}

func printCompiled(out io.Writer, listing []compiledCase) {
	for n, c := range listing {
		if n > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "#%d %s [%s]\n", c.ID, c.Title, c.Type)
		printItems(out, schemas.KindAction, c.Actions)
		printItems(out, schemas.KindAssertion, c.Assertions)
		if c.Gaps > 0 {
			fmt.Fprintf(out, "  %d unresolved\n", c.Gaps)
		}
	}
}

func printItems(out io.Writer, kind schemas.StepKind, items []compiledItem) {
	for _, it := range items {
		fmt.Fprintf(out, "  %-9s %2d  %s\n", kind, it.Index, it.Source)
		fmt.Fprintf(out, "  %13s %s\n", "->", it.Compiled)
	}
}
