package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"splashguard/internal/symtab"
)

// StoredTable is one persisted resolved table.
type StoredTable struct {
	IntegrationID  string            `json:"integrationId"`
	Version        symtab.VersionTag `json:"version"`
	SnapshotDigest string            `json:"snapshotDigest"`
	BuildID        string            `json:"buildId"`
	EntryCount     int               `json:"entryCount"`
	CreatedAt      time.Time         `json:"createdAt"`
	Record         symtab.Record     `json:"record"`
}

// TableStore reads and writes resolved tables. Records are stored as
// zstd-compressed JSON.
type TableStore struct {
	db  *DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewTableStore creates a table store over db.
func NewTableStore(db *DB) (*TableStore, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &TableStore{db: db, enc: enc, dec: dec}, nil
}

// Close releases the codec resources. It does not close the database.
func (s *TableStore) Close() {
	s.enc.Close()
	s.dec.Close()
}

// Load returns the record stored for integrationID if it was built under
// version from a snapshot with the given digest.
func (s *TableStore) Load(integrationID string, version symtab.VersionTag, digest string) (symtab.Record, bool, error) {
	st, err := s.Get(integrationID)
	if err != nil {
		return symtab.Record{}, false, err
	}
	if st == nil || st.Version != version || st.SnapshotDigest != digest {
		return symtab.Record{}, false, nil
	}
	return st.Record, true, nil
}

// Save replaces the stored table for the record's integration and returns
// the new build id.
func (s *TableStore) Save(rec symtab.Record, digest string) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode table: %w", err)
	}
	blob := s.enc.EncodeAll(raw, nil)
	buildID := uuid.New().String()

	_, err = s.db.Exec(`
		INSERT INTO resolved_tables (integration_id, version, snapshot_digest, build_id, entry_count, table_blob, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(integration_id) DO UPDATE SET
			version = excluded.version,
			snapshot_digest = excluded.snapshot_digest,
			build_id = excluded.build_id,
			entry_count = excluded.entry_count,
			table_blob = excluded.table_blob,
			created_at = excluded.created_at
	`, rec.IntegrationID, int(rec.Version), digest, buildID, len(rec.Entries), blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to save table: %w", err)
	}

	s.db.logger.Debug("Saved resolved table",
		"integration", rec.IntegrationID,
		"version", int(rec.Version),
		"build_id", buildID,
		"bytes", len(blob),
	)
	return buildID, nil
}

// Get returns the stored table for integrationID, or nil if there is none.
func (s *TableStore) Get(integrationID string) (*StoredTable, error) {
	row := s.db.QueryRow(`
		SELECT integration_id, version, snapshot_digest, build_id, entry_count, table_blob, created_at
		FROM resolved_tables WHERE integration_id = ?
	`, integrationID)

	st, err := s.scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// List returns every stored table ordered by integration id.
func (s *TableStore) List() ([]StoredTable, error) {
	rows, err := s.db.Query(`
		SELECT integration_id, version, snapshot_digest, build_id, entry_count, table_blob, created_at
		FROM resolved_tables ORDER BY integration_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var out []StoredTable
	for rows.Next() {
		st, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// Delete removes the stored table for integrationID.
func (s *TableStore) Delete(integrationID string) error {
	if _, err := s.db.Exec("DELETE FROM resolved_tables WHERE integration_id = ?", integrationID); err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *TableStore) scan(row scanner) (*StoredTable, error) {
	var (
		st        StoredTable
		version   int
		blob      []byte
		createdAt string
	)
	if err := row.Scan(&st.IntegrationID, &version, &st.SnapshotDigest, &st.BuildID, &st.EntryCount, &blob, &createdAt); err != nil {
		return nil, err
	}
	st.Version = symtab.VersionTag(version)

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress table %s: %w", st.IntegrationID, err)
	}
	if err := json.Unmarshal(raw, &st.Record); err != nil {
		return nil, fmt.Errorf("failed to decode table %s: %w", st.IntegrationID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		st.CreatedAt = t
	}
	return &st, nil
}
