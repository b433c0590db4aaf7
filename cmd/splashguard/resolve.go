package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"splashguard/internal/query"
	"splashguard/internal/rescache"
	"splashguard/internal/symtab"
)

var (
	resolveFormat  string
	resolveRebuild bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <apk|dex>...",
	Short: "Resolve the logical symbol table",
	Long: `Resolve every logical key of the bstar integration against the given code
and print the resulting table. The command fails when a mandatory key cannot
be resolved at any fingerprint tier.

Examples:
  splashguard resolve base.apk
  splashguard resolve base.apk --rebuild
  splashguard resolve classes.dex classes2.dex --format human`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "json", "Output format (json, human)")
	resolveCmd.Flags().BoolVar(&resolveRebuild, "rebuild", false, "Drop the persisted table and resolve from scratch")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd.Context(), cmd.ErrOrStderr(), args)
	if err != nil {
		return err
	}
	defer s.Close()

	cache := s.cache()
	if resolveRebuild {
		cache.Invalidate(integration(s.cfg).ID)
	}
	table, err := resolveTable(s, cache)
	if err != nil {
		return err
	}
	s.logger.Debug("Resolution cache", "stats", fmt.Sprintf("%+v", cache.Stats()))

	switch OutputFormat(resolveFormat) {
	case FormatHuman:
		writeTableHuman(cmd.OutOrStdout(), table.Record())
		return nil
	default:
		out, err := FormatResponse(table.Record(), OutputFormat(resolveFormat))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
}

func resolveTable(s *session, cache *rescache.Cache) (*symtab.ResolvedTable, error) {
	def := integration(s.cfg)
	m := query.NewMatcher(s.provider, s.logger)
	return cache.GetOrBuild(def.ID, def.Version, func() (*symtab.ResolvedTable, error) {
		return symtab.Build(def.ID, def.Version, def.Keys, m)
	})
}

// tableLines renders one line per key, sorted by key.
func tableLines(rec symtab.Record) []string {
	lines := make([]string, 0, len(rec.Entries)+1)
	lines = append(lines, fmt.Sprintf("# %s v%d\n", rec.IntegrationID, rec.Version))
	for _, e := range rec.Entries {
		lines = append(lines, fmt.Sprintf("%-16s %-9s %s\n", e.Key, e.Tier, e.Identity))
	}
	return lines
}

func writeTableHuman(w io.Writer, rec symtab.Record) {
	fmt.Fprint(w, strings.Join(tableLines(rec), ""))
}
