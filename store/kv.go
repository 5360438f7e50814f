package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/executor"
)

// DefaultPackageKey is the _sys_kv_data key remembering which package the
// unprefixed entity routes serve.
const DefaultPackageKey = "default_package"

// GetKV reads one value from _sys_kv_data. Returns NotFound for unknown
// keys.
func (s *Store) GetKV(ctx context.Context, exec executor.Executor, key string) (json.RawMessage, error) {
	sql := fmt.Sprintf("SELECT payload FROM %s WHERE id = $1", s.table("_sys_kv_data"))
	var payload json.RawMessage
	if err := exec.QueryRow(ctx, sql, key).Scan(&payload); err != nil {
		if isNoRows(err) {
			return nil, apperr.NewNotFound("key", key)
		}
		return nil, fmt.Errorf("failed to read kv %s: %w", key, executor.ClassifyError(err))
	}
	return payload, nil
}

// SetKV upserts one value into _sys_kv_data.
func (s *Store) SetKV(ctx context.Context, exec executor.Executor, key string, value json.RawMessage) error {
	sql := fmt.Sprintf(
		`INSERT INTO %s (id, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		s.table("_sys_kv_data"))
	if _, err := exec.Exec(ctx, sql, key, value); err != nil {
		return fmt.Errorf("failed to write kv %s: %w", key, executor.ClassifyError(err))
	}
	return nil
}
