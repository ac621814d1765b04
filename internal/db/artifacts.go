package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

const artifactColumns = `id, kind, subject, location, fresh, stale_reason, created_at, updated_at`

// InsertArtifact stores a new artifact with its owner and input edges.
// A second artifact with the same (kind, owners, subject) yields CONFLICT.
func InsertArtifact(ctx context.Context, q Querier, a *manifest.ArtifactRef) error {
	query := `
		INSERT INTO artifacts (id, kind, owner_key, subject, location, fresh, stale_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		a.ID, string(a.Kind), manifest.OwnerKey(a.OwnerIDs()), a.Subject, a.Location,
		boolToInt(a.Fresh), toNullString(a.StaleReason), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("artifact already registered: " + string(a.Kind))
		}
		return errors.NewInternal(err)
	}
	return writeEdges(ctx, q, a)
}

// UpdateArtifact rewrites location, freshness and edges of an existing artifact.
// Identity columns are left untouched.
func UpdateArtifact(ctx context.Context, q Querier, a *manifest.ArtifactRef) error {
	query := `
		UPDATE artifacts SET location = ?, fresh = ?, stale_reason = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		a.Location, boolToInt(a.Fresh), toNullString(a.StaleReason), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound("artifact", a.ID)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM artifact_owners WHERE artifact_id = ?`, a.ID); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM artifact_inputs WHERE artifact_id = ?`, a.ID); err != nil {
		return errors.NewInternal(err)
	}
	return writeEdges(ctx, q, a)
}

func writeEdges(ctx context.Context, q Querier, a *manifest.ArtifactRef) error {
	for _, o := range a.Owners {
		_, err := q.ExecContext(ctx,
			`INSERT INTO artifact_owners (artifact_id, source_id, fingerprint) VALUES (?, ?, ?)`,
			a.ID, o.SourceID, o.Fingerprint,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
	}
	for _, in := range a.Inputs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO artifact_inputs (artifact_id, input_id) VALUES (?, ?)`,
			a.ID, in,
		)
		if err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// FindArtifact looks an artifact up by its registration identity.
func FindArtifact(ctx context.Context, q Querier, kind manifest.Kind, ownerKey, subject string) (*manifest.ArtifactRef, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE kind = ? AND owner_key = ? AND subject = ?`,
		string(kind), ownerKey, subject,
	)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("artifact", string(kind)+"/"+ownerKey)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := attachEdges(ctx, q, []*manifest.ArtifactRef{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// GetArtifact retrieves an artifact by ID.
func GetArtifact(ctx context.Context, q Querier, id string) (*manifest.ArtifactRef, error) {
	row := q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("artifact", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := attachEdges(ctx, q, []*manifest.ArtifactRef{a}); err != nil {
		return nil, err
	}
	return a, nil
}

// ArtifactExists reports whether an artifact with the given ID is registered.
func ArtifactExists(ctx context.Context, q Querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM artifacts WHERE id = ? LIMIT 1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ArtifactFilter narrows ListArtifacts. Zero values match everything.
type ArtifactFilter struct {
	Kind      manifest.Kind
	SourceID  string
	Subject   string
	StaleOnly bool
}

// ListArtifacts returns artifacts ordered by kind then ID.
func ListArtifacts(ctx context.Context, q Querier, f ArtifactFilter) ([]manifest.ArtifactRef, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE 1 = 1`
	var args []any
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	if f.SourceID != "" {
		query += " AND id IN (SELECT artifact_id FROM artifact_owners WHERE source_id = ?)"
		args = append(args, f.SourceID)
	}
	if f.Subject != "" {
		query += " AND subject = ?"
		args = append(args, f.Subject)
	}
	if f.StaleOnly {
		query += " AND fresh = 0"
	}
	query += " ORDER BY kind ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	var list []*manifest.ArtifactRef
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewInternal(err)
	}
	rows.Close()

	if err := attachEdges(ctx, q, list); err != nil {
		return nil, err
	}
	out := make([]manifest.ArtifactRef, len(list))
	for i, a := range list {
		out[i] = *a
	}
	return out, nil
}

// ArtifactsOwnedBy returns the IDs of artifacts that list sourceID as an owner.
func ArtifactsOwnedBy(ctx context.Context, q Querier, sourceID string) ([]string, error) {
	return selectIDs(ctx, q,
		`SELECT artifact_id FROM artifact_owners WHERE source_id = ? ORDER BY artifact_id`, sourceID)
}

// ArtifactsWithInput returns the IDs of artifacts built from artifact id.
func ArtifactsWithInput(ctx context.Context, q Querier, id string) ([]string, error) {
	return selectIDs(ctx, q,
		`SELECT artifact_id FROM artifact_inputs WHERE input_id = ? ORDER BY artifact_id`, id)
}

// MarkArtifactStale flags a fresh artifact stale. It reports false when the
// artifact was already stale.
func MarkArtifactStale(ctx context.Context, q Querier, id, reason string, now int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE artifacts SET fresh = 0, stale_reason = ?, updated_at = ? WHERE id = ? AND fresh = 1`,
		reason, now, id,
	)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rows > 0, nil
}

func selectIDs(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// attachEdges loads owners and inputs for each artifact in list.
func attachEdges(ctx context.Context, q Querier, list []*manifest.ArtifactRef) error {
	for _, a := range list {
		rows, err := q.QueryContext(ctx,
			`SELECT source_id, fingerprint FROM artifact_owners WHERE artifact_id = ? ORDER BY source_id`, a.ID)
		if err != nil {
			return errors.NewInternal(err)
		}
		a.Owners = nil
		for rows.Next() {
			var o manifest.Owner
			if err := rows.Scan(&o.SourceID, &o.Fingerprint); err != nil {
				rows.Close()
				return errors.NewInternal(err)
			}
			a.Owners = append(a.Owners, o)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return errors.NewInternal(err)
		}

		inputs, err := selectIDs(ctx, q,
			`SELECT input_id FROM artifact_inputs WHERE artifact_id = ? ORDER BY input_id`, a.ID)
		if err != nil {
			return err
		}
		a.Inputs = inputs
	}
	return nil
}

func scanArtifact(row rowScanner) (*manifest.ArtifactRef, error) {
	var a manifest.ArtifactRef
	var kind string
	var fresh int
	var reason sql.NullString

	if err := row.Scan(&a.ID, &kind, &a.Subject, &a.Location, &fresh, &reason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Kind = manifest.Kind(kind)
	a.Fresh = fresh != 0
	a.StaleReason = reason.String
	return &a, nil
}
