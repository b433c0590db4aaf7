package hook

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Intercept is one installed intercept in declarative form.
type Intercept struct {
	Kind       Kind   `json:"kind" yaml:"kind" toml:"kind"`
	Target     string `json:"target" yaml:"target" toml:"target"`
	Owner      string `json:"owner" yaml:"owner" toml:"owner"`
	Method     string `json:"method" yaml:"method" toml:"method"`
	Descriptor string `json:"descriptor,omitempty" yaml:"descriptor,omitempty" toml:"descriptor,omitempty"`
	Value      string `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
}

// Plan is the set of intercepts installed for an integration.
type Plan struct {
	Integration string      `json:"integration" yaml:"integration" toml:"integration"`
	Intercepts  []Intercept `json:"intercepts" yaml:"intercepts" toml:"intercepts"`
}

// Format is a plan serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown plan format %q (want json, yaml or toml)", s)
	}
}

// Encode writes the plan in the given format.
func (p Plan) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(p); err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown plan format %q", format)
	}
}

// DecodePlan reads a plan in the given format.
func DecodePlan(r io.Reader, format Format) (Plan, error) {
	var p Plan
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&p); err != nil {
			return Plan{}, fmt.Errorf("failed to decode plan: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&p); err != nil {
			return Plan{}, fmt.Errorf("failed to decode plan: %w", err)
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&p); err != nil {
			return Plan{}, fmt.Errorf("failed to decode plan: %w", err)
		}
	default:
		return Plan{}, fmt.Errorf("unknown plan format %q", format)
	}
	return p, nil
}
