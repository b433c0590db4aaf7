package main

import (
	"github.com/spf13/cobra"

	"splashguard/internal/fallback"
	"splashguard/internal/hook"
)

var (
	planFormat string
	planHost   string
)

var planCmd = &cobra.Command{
	Use:   "plan <apk|dex>...",
	Short: "Print the intercepts the integration would install",
	Long: `Run the full module-load sequence (resolution, patching and the fallback
tiers) against the given code and print every intercept that was installed.

Examples:
  splashguard plan base.apk
  splashguard plan base.apk --format yaml
  splashguard plan base.apk --host com.bstar.intl.beta`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planFormat, "format", "json", "Output format (json, yaml, toml)")
	planCmd.Flags().StringVar(&planHost, "host", "", "Host package name (default: the integration's package)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	format, err := hook.ParseFormat(planFormat)
	if err != nil {
		return err
	}

	s, err := newSession(cmd.Context(), cmd.ErrOrStderr(), args)
	if err != nil {
		return err
	}
	defer s.Close()

	def := integration(s.cfg)
	host := planHost
	if host == "" {
		host = def.PackageName
	}

	reg := hook.NewRegistry(s.provider, s.logger)
	c := fallback.NewController(def, fallback.StaticHost(host), s.provider, s.cache(), reg, s.logger)
	out := c.OnModuleLoad(cmd.Context())

	s.logger.Info("Module load finished",
		"path", out.Path(),
		"tiers", len(out.Tiers),
		"installed", len(out.Report.Installed),
		"failures", len(out.Report.Failures),
	)

	return reg.Plan(def.ID).Encode(cmd.OutOrStdout(), format)
}
