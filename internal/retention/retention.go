// Package retention prunes historical database artifacts oldest-first,
// never below a floor of one recoverable snapshot.
package retention

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/storage"
)

type Manager struct {
	Provider storage.Provider
	// Prefix is the remote root holding database artifacts.
	Prefix string
	// Generations is how many artifacts to keep.
	Generations int
	Logger      zerolog.Logger
}

// Prune deletes artifacts beyond the configured generation count,
// oldest first. At least one artifact always survives regardless of
// configuration, so a misconfigured policy can never leave zero
// recoverable backups.
func (m *Manager) Prune(ctx context.Context) ([]string, error) {
	keep := m.Generations
	if keep < 1 {
		keep = 1
	}

	objects, err := m.Provider.List(ctx, m.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts for retention: %w", err)
	}

	if len(objects) <= keep {
		return nil, nil
	}

	// Artifact names embed a sortable timestamp, so key order is age
	// order.
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	var deleted []string
	for _, obj := range objects[:len(objects)-keep] {
		if err := m.Provider.Delete(ctx, obj.Key); err != nil {
			m.Logger.Error().Err(err).Str("key", obj.Key).Msg("failed to prune artifact")
			continue
		}
		m.Logger.Info().Str("key", obj.Key).Msg("pruned artifact")
		deleted = append(deleted, obj.Key)
	}
	return deleted, nil
}
