package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kestrel-ai/bridge/pkg/bridge/types"
)

// Schema is the SQL DDL for the model_descriptors and provider_plugins
// tables. Execute it via [PostgresStore.Migrate] or apply it manually
// during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS model_descriptors (
    id           TEXT PRIMARY KEY,
    provider     TEXT NOT NULL,
    name         TEXT NOT NULL,
    capabilities JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_model_descriptors_provider ON model_descriptors(provider);

CREATE TABLE IF NOT EXISTS provider_plugins (
    id         TEXT NOT NULL,
    version    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (id, version)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. It serialises
// [types.ModelCapabilities] as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given
// database connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// model_descriptors and provider_plugins tables and indexes if they do not
// already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// UpsertModel creates or replaces a model descriptor row.
func (s *PostgresStore) UpsertModel(ctx context.Context, row ModelRow) error {
	capsJSON, err := json.Marshal(row.Capabilities)
	if err != nil {
		return fmt.Errorf("postgres: marshal capabilities: %w", err)
	}

	const query = `
		INSERT INTO model_descriptors (id, provider, name, capabilities)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider,
			name = EXCLUDED.name,
			capabilities = EXCLUDED.capabilities,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query, row.ID, row.Provider, row.Name, capsJSON).
		Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert model %q: %w", row.ID, err)
	}
	return nil
}

// DeleteModel removes a model descriptor by id. Deleting a non-existent id
// is not an error.
func (s *PostgresStore) DeleteModel(ctx context.Context, id string) error {
	const query = `DELETE FROM model_descriptors WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres: delete model %q: %w", id, err)
	}
	return nil
}

// ListModels returns every persisted model descriptor, optionally filtered
// to one provider. An empty providerFilter returns all rows.
func (s *PostgresStore) ListModels(ctx context.Context, providerFilter string) ([]ModelRow, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if providerFilter == "" {
		const query = `
			SELECT id, provider, name, capabilities, created_at, updated_at
			FROM model_descriptors ORDER BY id`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT id, provider, name, capabilities, created_at, updated_at
			FROM model_descriptors WHERE provider = $1 ORDER BY id`
		rows, err = s.db.Query(ctx, query, providerFilter)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list models: %w", err)
	}
	defer rows.Close()

	var out []ModelRow
	for rows.Next() {
		var row ModelRow
		var capsJSON []byte
		if err := rows.Scan(&row.ID, &row.Provider, &row.Name, &capsJSON, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list models scan: %w", err)
		}
		var caps types.ModelCapabilities
		if err := json.Unmarshal(capsJSON, &caps); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal capabilities for %q: %w", row.ID, err)
		}
		row.Capabilities = caps
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list models: %w", err)
	}
	return out, nil
}

// UpsertPlugin records that a (id, version) provider plugin pair was
// registered, for restart bookkeeping.
func (s *PostgresStore) UpsertPlugin(ctx context.Context, row PluginRow) error {
	const query = `
		INSERT INTO provider_plugins (id, version)
		VALUES ($1,$2)
		ON CONFLICT (id, version) DO UPDATE SET updated_at = now()
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query, row.ID, row.Version).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert plugin %q@%q: %w", row.ID, row.Version, err)
	}
	return nil
}

// ListPlugins returns every persisted plugin identity.
func (s *PostgresStore) ListPlugins(ctx context.Context) ([]PluginRow, error) {
	const query = `SELECT id, version, created_at, updated_at FROM provider_plugins ORDER BY id, version`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list plugins: %w", err)
	}
	defer rows.Close()

	var out []PluginRow
	for rows.Next() {
		var row PluginRow
		if err := rows.Scan(&row.ID, &row.Version, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list plugins scan: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list plugins: %w", err)
	}
	return out, nil
}
