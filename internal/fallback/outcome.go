package fallback

import (
	"strings"
	"time"

	"splashguard/internal/patch"
	"splashguard/internal/symtab"
)

// State is a state of the controller.
type State string

const (
	StateStart     State = "START"
	StateResolving State = "RESOLVING"
	StatePatching  State = "PATCHING"
	StateDirect    State = "DIRECT"
	StatePattern   State = "PATTERN"
	StateDone      State = "DONE"
)

// Tier is one resolution strategy, from most to least specific.
type Tier int

const (
	TierFingerprintPrimary Tier = iota
	TierFingerprintHeuristic
	TierDirectHardcoded
	TierPatternEnumerated
)

func (t Tier) String() string {
	switch t {
	case TierFingerprintPrimary:
		return "FINGERPRINT_PRIMARY"
	case TierFingerprintHeuristic:
		return "FINGERPRINT_HEURISTIC"
	case TierDirectHardcoded:
		return "DIRECT_HARDCODED"
	case TierPatternEnumerated:
		return "PATTERN_ENUMERATED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Outcome summarizes one OnModuleLoad run.
type Outcome struct {
	Integration string `json:"integration"`
	// States are the visited states in order, always ending in DONE.
	States []State `json:"states"`
	// Tiers are the tiers attempted in order.
	Tiers []Tier `json:"tiers"`
	// Mismatch is set when the host is not the target integration.
	Mismatch bool                  `json:"mismatch,omitempty"`
	Table    *symtab.ResolvedTable `json:"-"`
	Report   patch.Report          `json:"report"`
	// PatternPrefix is the prefix the pattern tier patched under, if any.
	PatternPrefix string `json:"patternPrefix,omitempty"`
	// Degradations are the failures that moved the controller down a tier.
	Degradations []error       `json:"-"`
	Duration     time.Duration `json:"duration"`
}

func (o *Outcome) enter(s State) {
	o.States = append(o.States, s)
}

func (o *Outcome) degrade(err error) {
	o.Degradations = append(o.Degradations, err)
}

// Final returns the last visited state.
func (o Outcome) Final() State {
	if len(o.States) == 0 {
		return ""
	}
	return o.States[len(o.States)-1]
}

// Visited reports whether s was visited.
func (o Outcome) Visited(s State) bool {
	for _, v := range o.States {
		if v == s {
			return true
		}
	}
	return false
}

// Patched reports whether at least one intercept was installed.
func (o Outcome) Patched() bool {
	return !o.Report.Empty()
}

// Path renders the visited states as START>RESOLVING>...
func (o Outcome) Path() string {
	parts := make([]string, len(o.States))
	for i, s := range o.States {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}
