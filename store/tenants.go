package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/executor"
)

// TenantStrategy selects the isolation model for one tenant.
type TenantStrategy string

const (
	StrategyDatabase TenantStrategy = "database"
	StrategySchema   TenantStrategy = "schema"
	StrategyRLS      TenantStrategy = "rls"
)

// TenantEntry is one registered tenant as persisted in _sys_tenants.
type TenantEntry struct {
	ID          string         `json:"id"`
	Strategy    TenantStrategy `json:"strategy"`
	DatabaseURL string         `json:"database_url,omitempty"`
	SchemaName  string         `json:"schema_name,omitempty"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Comment     string         `json:"comment,omitempty"`
}

// Validate enforces the per-strategy field requirements.
func (t *TenantEntry) Validate() error {
	if t.ID == "" {
		return apperr.NewConfigValue("tenant.id", "tenant id must not be empty")
	}
	switch t.Strategy {
	case StrategyDatabase:
		if t.DatabaseURL == "" {
			return apperr.NewConfigValue("tenant.database_url", "database strategy requires database_url")
		}
	case StrategySchema:
		if t.SchemaName == "" {
			return apperr.NewConfigValue("tenant.schema_name", "schema strategy requires schema_name")
		}
	case StrategyRLS:
		// Nothing beyond the id.
	default:
		return apperr.NewConfigValue("tenant.strategy", "unknown strategy %q", t.Strategy)
	}
	return nil
}

// ListTenants reads every tenant entry from the central database.
func (s *Store) ListTenants(ctx context.Context, exec executor.Executor) ([]TenantEntry, error) {
	sql := fmt.Sprintf("SELECT payload, updated_at FROM %s ORDER BY id", s.table("_sys_tenants"))
	rows, err := exec.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", executor.ClassifyError(err))
	}
	defer rows.Close()

	var out []TenantEntry
	for rows.Next() {
		var payload []byte
		var updatedAt time.Time
		if err := rows.Scan(&payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		var entry TenantEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode tenant entry: %w", err)
		}
		entry.UpdatedAt = &updatedAt
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UpsertTenant registers or updates a tenant entry.
func (s *Store) UpsertTenant(ctx context.Context, exec executor.Executor, entry TenantEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant entry: %w", err)
	}
	sql := fmt.Sprintf(
		`INSERT INTO %s (id, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		s.table("_sys_tenants"))
	if _, err := exec.Exec(ctx, sql, entry.ID, payload); err != nil {
		return fmt.Errorf("failed to upsert tenant %s: %w", entry.ID, executor.ClassifyError(err))
	}
	return nil
}
