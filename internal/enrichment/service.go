// Package enrichment drives captured entities through their plugin pipeline
// and keeps the search side indexes in step with the relational rows.
package enrichment

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/retina/internal/embedding"
	"github.com/scrypster/retina/internal/plugins"
	"github.com/scrypster/retina/internal/storage"
	"github.com/scrypster/retina/pkg/types"
)

// Service coordinates webhook dispatch, result write-back, and indexing for
// one store.
type Service struct {
	entities   storage.EntityStore
	plugins    storage.PluginStore
	embedder   *embedding.Service
	textIndex  storage.TextIndex
	vectorIdx  storage.VectorIndex
	dispatcher *plugins.Dispatcher
}

// NewService wires the enrichment pipeline.
func NewService(
	entities storage.EntityStore,
	pluginStore storage.PluginStore,
	embedder *embedding.Service,
	textIndex storage.TextIndex,
	vectorIdx storage.VectorIndex,
	dispatcher *plugins.Dispatcher,
) *Service {
	return &Service{
		entities:   entities,
		plugins:    pluginStore,
		embedder:   embedder,
		textIndex:  textIndex,
		vectorIdx:  vectorIdx,
		dispatcher: dispatcher,
	}
}

// ProcessEntity runs every pending plugin for the entity and refreshes its
// index rows when at least one plugin applied. Individual plugin failures
// are logged and left pending for the next pass; they never abort the
// remaining plugins. A pass that applies nothing leaves the index rows
// alone, so sweeping an already-enriched entity costs no encode.
func (s *Service) ProcessEntity(ctx context.Context, entityID int64) error {
	pending, err := s.plugins.GetPendingPlugins(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to get pending plugins for entity %d: %w", entityID, err)
	}
	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, plugin := range pending {
		entity, err := s.entities.GetEntity(ctx, entityID)
		if err != nil {
			return fmt.Errorf("failed to load entity %d: %w", entityID, err)
		}

		result, err := s.dispatcher.Dispatch(ctx, plugin, entity)
		if err != nil {
			log.Printf("enrichment: plugin %q left pending for entity %d: %v",
				plugin.Name, entityID, err)
			continue
		}

		if err := s.ApplyResult(ctx, entityID, plugin.ID, result); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		return nil
	}

	return s.ReindexEntity(ctx, entityID)
}

// ApplyResult writes a plugin's tags and metadata to the entity and records
// completion. The status record comes last: a crash mid-apply leaves the
// plugin pending and the next pass re-runs it, which the merge semantics
// make safe.
func (s *Service) ApplyResult(ctx context.Context, entityID, pluginID int64, result *plugins.Result) error {
	if len(result.Tags) > 0 {
		if _, err := s.entities.AddTags(ctx, entityID, result.Tags); err != nil {
			return fmt.Errorf("failed to apply tags for entity %d: %w", entityID, err)
		}
	}

	if len(result.MetadataEntries) > 0 {
		if _, err := s.entities.AddMetadata(ctx, entityID, result.MetadataEntries); err != nil {
			return fmt.Errorf("failed to apply metadata for entity %d: %w", entityID, err)
		}
	}

	if err := s.plugins.RecordProcessed(ctx, entityID, pluginID); err != nil {
		return fmt.Errorf("failed to record plugin %d for entity %d: %w", pluginID, entityID, err)
	}

	return nil
}

// ReindexEntity rebuilds the entity's text row and, when the encoder is
// available, its vector row. An empty encode batch leaves the old vector
// untouched; the entity stays durable and searchable by text.
func (s *Service) ReindexEntity(ctx context.Context, entityID int64) error {
	entity, err := s.entities.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %d: %w", entityID, err)
	}

	text := documentText(entity)
	if err := s.textIndex.IndexText(ctx, entity.ID, entity.Filepath, text); err != nil {
		return err
	}

	vectors, err := s.embedder.Encode(ctx, []string{text})
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		log.Printf("enrichment: no embedding for entity %d, vector row unchanged", entityID)
		return nil
	}

	return s.vectorIdx.IndexVector(ctx, entity.ID, vectors[0])
}

// RemoveEntity deletes the entity and its index rows through the store.
func (s *Service) RemoveEntity(ctx context.Context, entityID int64) error {
	return s.entities.RemoveEntity(ctx, entityID)
}

// documentText flattens the entity's searchable surface: the file path,
// tag names, and every textual metadata value.
func documentText(entity *types.Entity) string {
	var parts []string
	parts = append(parts, entity.Filepath)

	for _, t := range entity.Tags {
		parts = append(parts, t.Name)
	}

	for _, e := range entity.MetadataEntries {
		if e.DataType == types.MetadataTypeNumber {
			continue
		}
		parts = append(parts, e.Value)
	}

	return strings.Join(parts, "\n")
}
