package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/syllabus/internal/errors"
)

// SettingSourceRoot holds the directory the last scan tracked.
const SettingSourceRoot = "source_root"

// GetSetting returns a stored value, or "" when the key is unset.
func GetSetting(ctx context.Context, q Querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return value, nil
}

// SetSetting stores value under key, replacing any previous value.
func SetSetting(ctx context.Context, q Querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
