package main

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"splashguard/internal/errors"
	"splashguard/internal/rescache"
	"splashguard/internal/symtab"
)

var diffContext int

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Diff the resolved tables of two builds",
	Long: `Resolve the symbol table of two builds (apk or dex) and print a unified diff
of the results. A build whose table cannot be resolved shows the failing key
instead of entries.

Examples:
  splashguard diff bstar-3.1.apk bstar-3.2.apk`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().IntVar(&diffContext, "context", 3, "Lines of context")
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	var sides [2][]string
	for i, path := range args {
		s, err := newSession(cmd.Context(), cmd.ErrOrStderr(), []string{path})
		if err != nil {
			return err
		}
		// Memory only: a persisted table for one side would be replaced by the other.
		table, err := resolveTable(s, rescache.New(rescache.Options{}, s.logger))
		s.Close()
		sides[i] = resultLines(table, err)
	}

	text, err := tableDiff(args[0], args[1], sides[0], sides[1], diffContext)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func resultLines(table *symtab.ResolvedTable, err error) []string {
	if err != nil {
		if key, ok := errors.FailedKey(err); ok {
			return []string{fmt.Sprintf("! unresolved %s\n", key)}
		}
		return []string{fmt.Sprintf("! %v\n", err)}
	}
	return tableLines(table.Record())
}

func tableDiff(fromName, toName string, a, b []string, context int) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	})
}
