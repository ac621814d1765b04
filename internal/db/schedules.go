package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/plan"
)

const scheduleColumns = `
	id, status, reason, strategy, start_date, end_date, inventory_hash,
	artifact_id, complete, provisional, created_at, superseded_at
`

// InsertSchedule appends a schedule to the history. Inserting a second
// current schedule yields CONFLICT; callers supersede the old one first.
func InsertSchedule(ctx context.Context, q Querier, r *plan.Record) error {
	query := `
		INSERT INTO schedules (
			id, status, reason, strategy, start_date, end_date, inventory_hash,
			artifact_id, complete, provisional, payload, created_at, superseded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var supersededAt sql.NullInt64
	if r.SupersededAt != nil {
		supersededAt = sql.NullInt64{Int64: *r.SupersededAt, Valid: true}
	}
	_, err := q.ExecContext(ctx, query,
		r.ID, string(r.Status), toNullString(r.Reason), string(r.Strategy),
		r.Start.String(), r.End.String(), r.InventoryHash, toNullString(r.ArtifactID),
		boolToInt(r.Complete), boolToInt(r.Provisional), string(r.Payload), r.CreatedAt, supersededAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("a current schedule already exists")
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID, payload included.
func GetSchedule(ctx context.Context, q Querier, id string) (*plan.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scheduleColumns+`, payload FROM schedules WHERE id = ?`, id)
	r, err := scanSchedule(row, true)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("plan", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// CurrentSchedule returns the single current schedule, payload included.
func CurrentSchedule(ctx context.Context, q Querier) (*plan.Record, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+`, payload FROM schedules WHERE status = ?`, string(plan.RecordCurrent))
	r, err := scanSchedule(row, true)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("plan", "current")
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListSchedules returns history newest first without payloads.
// A limit <= 0 returns everything.
func ListSchedules(ctx context.Context, q Querier, limit int) ([]plan.Record, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []plan.Record
	for rows.Next() {
		r, err := scanSchedule(rows, false)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// SupersedeCurrent retires the current schedule, if any, and returns its ID.
func SupersedeCurrent(ctx context.Context, q Querier, reason string, now int64) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM schedules WHERE status = ?`, string(plan.RecordCurrent)).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if _, err := supersede(ctx, q, id, reason, now); err != nil {
		return "", err
	}
	return id, nil
}

// SupersedeByArtifact retires the current schedule when its artifact is id.
// It returns the retired schedule ID or "".
func SupersedeByArtifact(ctx context.Context, q Querier, artifactID, reason string, now int64) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM schedules WHERE status = ? AND artifact_id = ?`,
		string(plan.RecordCurrent), artifactID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if _, err := supersede(ctx, q, id, reason, now); err != nil {
		return "", err
	}
	return id, nil
}

func supersede(ctx context.Context, q Querier, id, reason string, now int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE schedules SET status = ?, reason = ?, superseded_at = ? WHERE id = ? AND status = ?`,
		string(plan.RecordSuperseded), reason, now, id, string(plan.RecordCurrent),
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

func scanSchedule(row rowScanner, withPayload bool) (*plan.Record, error) {
	var r plan.Record
	var status, strategy, start, end string
	var reason, artifactID sql.NullString
	var complete, provisional int
	var supersededAt sql.NullInt64
	var payload string

	dest := []any{
		&r.ID, &status, &reason, &strategy, &start, &end, &r.InventoryHash,
		&artifactID, &complete, &provisional, &r.CreatedAt, &supersededAt,
	}
	if withPayload {
		dest = append(dest, &payload)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if r.Start, err = plan.ParseDate(start); err != nil {
		return nil, err
	}
	if r.End, err = plan.ParseDate(end); err != nil {
		return nil, err
	}
	r.Status = plan.RecordStatus(status)
	r.Reason = reason.String
	r.Strategy = plan.Strategy(strategy)
	r.ArtifactID = artifactID.String
	r.Complete = complete != 0
	r.Provisional = provisional != 0
	if supersededAt.Valid {
		v := supersededAt.Int64
		r.SupersededAt = &v
	}
	if withPayload {
		r.Payload = []byte(payload)
	}
	return &r, nil
}
