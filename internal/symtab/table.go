package symtab

import (
	"fmt"
	"sort"

	"splashguard/internal/errors"
)

// ResolvedTable maps logical keys to resolved identities for one
// integration and version. It is immutable and always holds every key its
// builder declared mandatory.
type ResolvedTable struct {
	integrationID string
	version       VersionTag
	entries       map[LogicalKey]SymbolIdentity
	provenance    map[LogicalKey]string
	attempted     []string
}

// IntegrationID returns the integration the table was built for.
func (t *ResolvedTable) IntegrationID() string {
	return t.integrationID
}

// Version returns the version tag the table was built under.
func (t *ResolvedTable) Version() VersionTag {
	return t.version
}

// Lookup returns the identity for key.
func (t *ResolvedTable) Lookup(key LogicalKey) (SymbolIdentity, bool) {
	id, ok := t.entries[key]
	return id, ok
}

// Provenance returns the name of the criteria tier that resolved key.
func (t *ResolvedTable) Provenance(key LogicalKey) string {
	return t.provenance[key]
}

// Attempted returns the distinct tier names the builder queried, in the
// order each was first queried. It includes tiers that found nothing.
func (t *ResolvedTable) Attempted() []string {
	return append([]string(nil), t.attempted...)
}

// Keys returns the resolved keys in sorted order.
func (t *ResolvedTable) Keys() []LogicalKey {
	keys := make([]LogicalKey, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Entries returns a copy of the key to identity map.
func (t *ResolvedTable) Entries() map[LogicalKey]SymbolIdentity {
	out := make(map[LogicalKey]SymbolIdentity, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of resolved keys.
func (t *ResolvedTable) Len() int {
	return len(t.entries)
}

// Record is the serializable form of a table.
type Record struct {
	IntegrationID string        `json:"integrationId"`
	Version       VersionTag    `json:"version"`
	Entries       []RecordEntry `json:"entries"`
	Attempted     []string      `json:"attempted,omitempty"`
}

// RecordEntry is one key of a Record.
type RecordEntry struct {
	Key      LogicalKey     `json:"key"`
	Identity SymbolIdentity `json:"identity"`
	Tier     string         `json:"tier,omitempty"`
	StableID string         `json:"stableId"`
}

// Record returns the table's serializable form with entries sorted by key.
func (t *ResolvedTable) Record() Record {
	rec := Record{IntegrationID: t.integrationID, Version: t.version}
	if len(t.attempted) > 0 {
		rec.Attempted = append([]string(nil), t.attempted...)
	}
	for _, k := range t.Keys() {
		id := t.entries[k]
		rec.Entries = append(rec.Entries, RecordEntry{
			Key:      k,
			Identity: id,
			Tier:     t.provenance[k],
			StableID: id.StableID(t.integrationID),
		})
	}
	return rec
}

// Restore rebuilds a table from a record, re-validating that every key in
// mandatory is present. A record that fails validation yields no table.
func Restore(rec Record, mandatory []LogicalKey) (*ResolvedTable, error) {
	t := &ResolvedTable{
		integrationID: rec.IntegrationID,
		version:       rec.Version,
		entries:       make(map[LogicalKey]SymbolIdentity, len(rec.Entries)),
		provenance:    make(map[LogicalKey]string, len(rec.Entries)),
	}
	if len(rec.Attempted) > 0 {
		t.attempted = append([]string(nil), rec.Attempted...)
	}
	for _, e := range rec.Entries {
		if e.Identity.Owner == "" || e.Identity.Kind == "" {
			return nil, errors.New(errors.SnapshotInvalid, fmt.Sprintf("record entry %s has no identity", e.Key), nil)
		}
		if _, dup := t.entries[e.Key]; dup {
			return nil, errors.New(errors.SnapshotInvalid, fmt.Sprintf("record has duplicate key %s", e.Key), nil)
		}
		t.entries[e.Key] = e.Identity
		if e.Tier != "" {
			t.provenance[e.Key] = e.Tier
		}
	}
	for _, k := range mandatory {
		if _, ok := t.entries[k]; !ok {
			return nil, errors.NewResolutionFailure(string(k))
		}
	}
	return t, nil
}
