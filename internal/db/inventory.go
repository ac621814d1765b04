package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/plan"
)

// UpsertExam inserts or replaces an exam row and its source list.
func UpsertExam(ctx context.Context, q Querier, e plan.Exam, importedAt int64) error {
	query := `
		INSERT INTO exams (id, name, course, deadline, coverage_artifact_id, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			course = excluded.course,
			deadline = excluded.deadline,
			coverage_artifact_id = excluded.coverage_artifact_id,
			imported_at = excluded.imported_at
	`
	_, err := q.ExecContext(ctx, query,
		e.ID, e.Name, toNullString(e.Course), e.Deadline.String(), toNullString(e.CoverageArtifactID), importedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM exam_sources WHERE exam_id = ?`, e.ID); err != nil {
		return errors.NewInternal(err)
	}
	for _, src := range e.Sources {
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO exam_sources (exam_id, source_id) VALUES (?, ?)`, e.ID, src); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// ReplaceTopics swaps the full topic list of an exam. Topic IDs are global;
// an ID already used by another exam yields CONFLICT.
func ReplaceTopics(ctx context.Context, q Querier, examID string, topics []plan.Topic) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM topics WHERE exam_id = ?`, examID); err != nil {
		return errors.NewInternal(err)
	}
	query := `
		INSERT INTO topics (id, exam_id, position, chapter, objective, effort_minutes, tier, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, t := range topics {
		_, err := q.ExecContext(ctx, query,
			t.ID, examID, i, toNullString(t.Chapter), t.Objective, t.EffortMinutes, string(t.Tier), t.Confidence,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return errors.NewConflict("topic id already used by another exam: " + t.ID)
			}
			return errors.NewInternal(err)
		}
	}
	return nil
}

// DeleteExam removes an exam with its topics and source links.
func DeleteExam(ctx context.Context, q Querier, id string) error {
	result, err := q.ExecContext(ctx, `DELETE FROM exams WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rows == 0 {
		return errors.NewNotFound("exam", id)
	}
	return nil
}

// ListExams returns all exams ordered by ID, each with its sorted sources.
func ListExams(ctx context.Context, q Querier) ([]plan.Exam, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, course, deadline, coverage_artifact_id FROM exams ORDER BY id ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	var exams []plan.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		exams = append(exams, *e)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	for i := range exams {
		sources, err := selectIDs(ctx, q,
			`SELECT source_id FROM exam_sources WHERE exam_id = ? ORDER BY source_id`, exams[i].ID)
		if err != nil {
			return nil, err
		}
		exams[i].Sources = sources
	}
	return exams, nil
}

// GetExam retrieves one exam by ID.
func GetExam(ctx context.Context, q Querier, id string) (*plan.Exam, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, course, deadline, coverage_artifact_id FROM exams WHERE id = ?`, id)
	e, err := scanExam(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("exam", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	sources, err := selectIDs(ctx, q,
		`SELECT source_id FROM exam_sources WHERE exam_id = ? ORDER BY source_id`, id)
	if err != nil {
		return nil, err
	}
	e.Sources = sources
	return e, nil
}

// ListTopics returns topics in import order, with the owning exam's deadline.
// An empty examID lists every exam's topics.
func ListTopics(ctx context.Context, q Querier, examID string) ([]plan.Topic, error) {
	query := `
		SELECT t.id, t.exam_id, t.chapter, t.objective, t.effort_minutes, t.tier, t.confidence, e.deadline
		FROM topics t JOIN exams e ON e.id = t.exam_id
	`
	var args []any
	if examID != "" {
		query += " WHERE t.exam_id = ?"
		args = append(args, examID)
	}
	query += " ORDER BY t.exam_id ASC, t.position ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var topics []plan.Topic
	for rows.Next() {
		var t plan.Topic
		var chapter sql.NullString
		var tier, deadline string
		if err := rows.Scan(&t.ID, &t.ExamID, &chapter, &t.Objective, &t.EffortMinutes, &tier, &t.Confidence, &deadline); err != nil {
			return nil, errors.NewInternal(err)
		}
		t.Chapter = chapter.String
		t.Tier = plan.Tier(tier)
		d, err := plan.ParseDate(deadline)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		t.Deadline = d
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return topics, nil
}

func scanExam(row rowScanner) (*plan.Exam, error) {
	var e plan.Exam
	var course, coverage sql.NullString
	var deadline string
	if err := row.Scan(&e.ID, &e.Name, &course, &deadline, &coverage); err != nil {
		return nil, err
	}
	d, err := plan.ParseDate(deadline)
	if err != nil {
		return nil, err
	}
	e.Course = course.String
	e.Deadline = d
	e.CoverageArtifactID = coverage.String
	return &e, nil
}
