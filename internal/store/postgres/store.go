// Package postgres provides a durable snapshot store for the bridge's model
// registry, backed by PostgreSQL. It persists [types.ModelDescriptor] rows so
// a process can restore its model registry after a restart rather than
// relying solely on the Default-models JSON configuration file.
package postgres

import "context"

// Store persists model descriptor snapshots. Implementations must be safe
// for concurrent use.
type Store interface {
	// UpsertModel creates or replaces a model descriptor row.
	UpsertModel(ctx context.Context, desc ModelRow) error

	// DeleteModel removes a model descriptor by id. Deleting a non-existent
	// id is not an error.
	DeleteModel(ctx context.Context, id string) error

	// ListModels returns every persisted model descriptor, optionally
	// filtered to one provider. An empty providerFilter returns all rows.
	ListModels(ctx context.Context, providerFilter string) ([]ModelRow, error)

	// UpsertPlugin records that a (id, version) provider plugin pair was
	// registered at some point, for audit/restart bookkeeping. It does not
	// persist plugin behavior, only identity.
	UpsertPlugin(ctx context.Context, desc PluginRow) error

	// ListPlugins returns every persisted plugin identity.
	ListPlugins(ctx context.Context) ([]PluginRow, error)
}
