package repository

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresSessionStore はPostgreSQLを使用したセッションストア。
// 複数端末で1つのDBを共有できるよう、デバイスIDごとに値を分ける。
type PostgresSessionStore struct {
	db       *sql.DB
	deviceID string
}

// NewPostgresSessionStore はPostgresSessionStoreを生成する。
func NewPostgresSessionStore(db *sql.DB, deviceID string) *PostgresSessionStore {
	return &PostgresSessionStore{db: db, deviceID: deviceID}
}

// Write はkeyにvalueをUPSERTする。
func (s *PostgresSessionStore) Write(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_entries (device_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (device_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.deviceID, key, value,
	)
	if err != nil {
		return storageError("write", err)
	}
	return nil
}

// Read はkeyの値を取得する。見つからない場合はok=falseを返す。
func (s *PostgresSessionStore) Read(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_entries WHERE device_id = $1 AND key = $2`,
		s.deviceID, key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageError("read", err)
	}

	return value, true, nil
}

// Remove はkeyを削除する。
func (s *PostgresSessionStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_entries WHERE device_id = $1 AND key = $2`,
		s.deviceID, key,
	)
	if err != nil {
		return storageError("remove", err)
	}
	return nil
}

// compile-time interface check
var _ SessionStore = (*PostgresSessionStore)(nil)
