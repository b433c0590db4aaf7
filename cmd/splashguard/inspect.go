package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"splashguard/internal/introspect"
)

var (
	inspectType   string
	inspectFormat string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <apk|dex>... --type <name>",
	Short: "List a type's methods with their string and field references",
	Long: `Print the declared methods of one type together with the string constants
and fields each method body references. Useful when writing fingerprint
criteria for a new build.

Examples:
  splashguard inspect base.apk --type com.bstar.intl.ui.splash.ad.model.Splash`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectType, "type", "", "Fully qualified type name")
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "human", "Output format (json, human)")
	_ = inspectCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(inspectCmd)
}

// InspectResponseCLI describes one type for CLI output
type InspectResponseCLI struct {
	Type    introspect.TypeInfo `json:"type"`
	Methods []InspectMethodCLI  `json:"methods"`
}

// InspectMethodCLI describes one method for CLI output
type InspectMethodCLI struct {
	Ref       string   `json:"ref"`
	Modifiers string   `json:"modifiers"`
	Strings   []string `json:"strings,omitempty"`
	Fields    []string `json:"fields,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd.Context(), cmd.ErrOrStderr(), args)
	if err != nil {
		return err
	}
	defer s.Close()

	resp, err := inspect(s.provider, inspectType)
	if err != nil {
		return err
	}

	if OutputFormat(inspectFormat) == FormatHuman {
		writeInspectHuman(cmd.OutOrStdout(), resp)
		return nil
	}
	out, err := FormatResponse(resp, OutputFormat(inspectFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func inspect(p introspect.Provider, typeName string) (*InspectResponseCLI, error) {
	t, ok := p.LookupType(typeName)
	if !ok {
		return nil, fmt.Errorf("type not loaded: %s", typeName)
	}
	resp := &InspectResponseCLI{Type: t}
	for _, m := range p.ListDeclaredMethods(typeName) {
		im := InspectMethodCLI{
			Ref:       m.Ref().String(),
			Modifiers: modifierString(m.Modifiers),
			Strings:   p.ListReferencedStrings(m.Ref()),
		}
		for _, f := range p.ListReferencedFields(m.Ref()) {
			im.Fields = append(im.Fields, f.Owner+"."+f.Name+":"+f.Type)
		}
		resp.Methods = append(resp.Methods, im)
	}
	return resp, nil
}

var modifierNames = []struct {
	mod  introspect.Modifier
	name string
}{
	{introspect.ModPublic, "public"},
	{introspect.ModPrivate, "private"},
	{introspect.ModProtected, "protected"},
	{introspect.ModStatic, "static"},
	{introspect.ModFinal, "final"},
	{introspect.ModNative, "native"},
	{introspect.ModInterface, "interface"},
	{introspect.ModAbstract, "abstract"},
	{introspect.ModSynthetic, "synthetic"},
	{introspect.ModConstructor, "constructor"},
}

func modifierString(m introspect.Modifier) string {
	var parts []string
	for _, n := range modifierNames {
		if m.Has(n.mod) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

func writeInspectHuman(w io.Writer, resp *InspectResponseCLI) {
	fmt.Fprintf(w, "%s extends %s [%s]\n", resp.Type.Name, resp.Type.SuperName, modifierString(resp.Type.Modifiers))
	for _, m := range resp.Methods {
		fmt.Fprintf(w, "  %s [%s]\n", m.Ref, m.Modifiers)
		for _, s := range m.Strings {
			fmt.Fprintf(w, "    str   %q\n", s)
		}
		for _, f := range m.Fields {
			fmt.Fprintf(w, "    field %s\n", f)
		}
	}
}
