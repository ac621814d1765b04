package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

const sourceColumns = `
	id, path, fingerprint, size, modified_at, label, status, error,
	missing, processed_fingerprint, created_at, updated_at
`

// InsertSource stores a new source record. A duplicate path yields CONFLICT.
func InsertSource(ctx context.Context, q Querier, s *manifest.SourceRecord) error {
	query := `INSERT INTO sources (` + sourceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, query,
		s.ID, s.Path, s.Fingerprint, s.Size, s.ModifiedAt, string(s.Label), string(s.Status),
		toNullString(s.Error), boolToInt(s.Missing), toNullString(s.ProcessedFingerprint),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("source already tracked: " + s.Path)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// UpdateSource overwrites every mutable column of an existing source.
func UpdateSource(ctx context.Context, q Querier, s *manifest.SourceRecord) error {
	query := `
		UPDATE sources SET
			fingerprint = ?, size = ?, modified_at = ?, label = ?, status = ?,
			error = ?, missing = ?, processed_fingerprint = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		s.Fingerprint, s.Size, s.ModifiedAt, string(s.Label), string(s.Status),
		toNullString(s.Error), boolToInt(s.Missing), toNullString(s.ProcessedFingerprint),
		s.UpdatedAt, s.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound("source", s.ID)
	}
	return nil
}

// GetSource retrieves a source by ID, including the IDs of artifacts it owns.
func GetSource(ctx context.Context, q Querier, id string) (*manifest.SourceRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("source", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	derived, err := derivedIDs(ctx, q, s.ID)
	if err != nil {
		return nil, err
	}
	s.Derived = derived[s.ID]
	return s, nil
}

// GetSourceByPath retrieves a source by its normalized path.
func GetSourceByPath(ctx context.Context, q Querier, path string) (*manifest.SourceRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE path = ?`, path)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("source", path)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// SourceFilter narrows ListSources.
type SourceFilter struct {
	Status         manifest.Status
	IncludeMissing bool
}

// ListSources returns sources ordered by path.
func ListSources(ctx context.Context, q Querier, f SourceFilter) ([]manifest.SourceRecord, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if !f.IncludeMissing {
		query += " AND missing = 0"
	}
	query += " ORDER BY path ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []manifest.SourceRecord
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	derived, err := derivedIDs(ctx, q, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Derived = derived[out[i].ID]
	}
	return out, nil
}

// SourcesByID returns every source, missing ones included, keyed by ID.
func SourcesByID(ctx context.Context, q Querier) (map[string]manifest.SourceRecord, error) {
	all, err := ListSources(ctx, q, SourceFilter{IncludeMissing: true})
	if err != nil {
		return nil, err
	}
	out := make(map[string]manifest.SourceRecord, len(all))
	for _, s := range all {
		out[s.ID] = s
	}
	return out, nil
}

// derivedIDs maps source ID to the sorted IDs of artifacts it owns.
// An empty sourceID loads every source.
func derivedIDs(ctx context.Context, q Querier, sourceID string) (map[string][]string, error) {
	query := `SELECT source_id, artifact_id FROM artifact_owners`
	var args []any
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}
	query += " ORDER BY source_id, artifact_id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var sourceID, artifactID string
		if err := rows.Scan(&sourceID, &artifactID); err != nil {
			return nil, errors.NewInternal(err)
		}
		out[sourceID] = append(out[sourceID], artifactID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*manifest.SourceRecord, error) {
	var s manifest.SourceRecord
	var label, status string
	var errMsg, processed sql.NullString
	var missing int

	err := row.Scan(
		&s.ID, &s.Path, &s.Fingerprint, &s.Size, &s.ModifiedAt, &label, &status, &errMsg,
		&missing, &processed, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Label = manifest.Label(label)
	s.Status = manifest.Status(status)
	s.Error = errMsg.String
	s.Missing = missing != 0
	s.ProcessedFingerprint = processed.String
	return &s, nil
}
