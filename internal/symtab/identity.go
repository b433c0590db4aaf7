// Package symtab turns fingerprint searches into an immutable table of
// resolved symbol identities, one per logical key.
package symtab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SymbolKind is the kind of a resolved symbol.
type SymbolKind string

const (
	KindType   SymbolKind = "type"
	KindMethod SymbolKind = "method"
	KindField  SymbolKind = "field"
)

// LogicalKey is the stable, name-independent handle for a symbol of interest.
type LogicalKey string

const (
	// SplashClass is the splash advertisement model type
	SplashClass LogicalKey = "SPLASH_CLASS"
	// IsValidMethod is the validity predicate on SplashClass
	IsValidMethod LogicalKey = "IS_VALID_METHOD"
	// SplashActivity is the splash screen activity, when present
	SplashActivity LogicalKey = "SPLASH_ACTIVITY"
)

// VersionTag identifies the shape of a table (its keys and criteria).
type VersionTag int

// SymbolIdentity is the concrete, possibly obfuscated name of a symbol in
// the currently loaded code. For types Member is empty.
type SymbolIdentity struct {
	Owner  string     `json:"owner"`
	Member string     `json:"member,omitempty"`
	Kind   SymbolKind `json:"kind"`
	// Descriptor distinguishes method overloads, e.g. "()boolean".
	Descriptor string `json:"descriptor,omitempty"`
}

// TypeIdentity returns the identity of a type.
func TypeIdentity(name string) SymbolIdentity {
	return SymbolIdentity{Owner: name, Kind: KindType}
}

// MethodIdentity returns the identity of a method.
func MethodIdentity(owner, name, descriptor string) SymbolIdentity {
	return SymbolIdentity{Owner: owner, Member: name, Kind: KindMethod, Descriptor: descriptor}
}

// String renders the identity as Owner or Owner#member.
func (s SymbolIdentity) String() string {
	if s.Member == "" {
		return s.Owner
	}
	return s.Owner + "#" + s.Member + s.Descriptor
}

// Fingerprint is a deterministic hash of the identity's components.
func (s SymbolIdentity) Fingerprint() string {
	parts := []string{
		"owner:" + s.Owner,
		"kind:" + string(s.Kind),
	}
	if s.Member != "" {
		parts = append(parts, "member:"+s.Member)
	}
	if s.Descriptor != "" {
		parts = append(parts, "sig:"+normalizeDescriptor(s.Descriptor))
	}

	// Sort to ensure deterministic ordering
	sort.Strings(parts)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// StableID renders the identity's id within an integration.
// Format: sg:<integration>:sym:<fingerprint-hash>
func (s SymbolIdentity) StableID(integrationID string) string {
	return fmt.Sprintf("sg:%s:sym:%s", sanitizeIntegrationID(integrationID), s.Fingerprint())
}

// IsZero reports whether the identity is unset.
func (s SymbolIdentity) IsZero() bool {
	return s.Owner == "" && s.Member == "" && s.Kind == ""
}

func normalizeDescriptor(d string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, d)
}

// sanitizeIntegrationID converts an integration id to a safe, deterministic format
func sanitizeIntegrationID(id string) string {
	sanitized := strings.ReplaceAll(id, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	sanitized = strings.ReplaceAll(sanitized, ":", "-")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Trim(sanitized, "-")

	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}
