package sqlite

import (
	"context"
	"database/sql"
	"errors"
)

func (db *DB) GetSetting(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	var value string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM site_settings WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, wrapErr("getting setting", err)
	}
	return value, true, nil
}

func (db *DB) PutSetting(ctx context.Context, key, value string) error {
	ctx, cancel := db.withTimeout(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO site_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return wrapErr("putting setting", err)
}
