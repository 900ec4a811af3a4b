package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// EnsureCollection creates the collection if it does not exist, with the
// given dense dimension and, when hybrid is requested, a sparse vector slot.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64, hybrid bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	exists, err := c.collectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	create := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"dense": {
				Size:     dimension,
				Distance: qdrant.Distance_Cosine,
				OnDisk:   qdrant.PtrOf(false),
			},
		}),
	}

	if hybrid {
		create.SparseVectorsConfig = &qdrant.SparseVectorConfig{
			Map: map[string]*qdrant.SparseVectorParams{
				"sparse": {
					Index: &qdrant.SparseIndexConfig{
						OnDisk:            qdrant.PtrOf(false),
						FullScanThreshold: qdrant.PtrOf(uint64(10000)),
					},
				},
			},
		}
	}

	if err := c.client.CreateCollection(ctx, create); err != nil {
		// A concurrent creator may have won the race.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	if err := c.createPayloadIndexes(ctx, name); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	return nil
}

// createPayloadIndexes creates indexes on payload fields for efficient
// filtering. dataset_id carries the isolation contract and is always indexed.
func (c *Client) createPayloadIndexes(ctx context.Context, collection string) error {
	indexes := []struct {
		field  string
		schema qdrant.FieldType
	}{
		{"dataset_id", qdrant.FieldType_FieldTypeKeyword},
		{"project_id", qdrant.FieldType_FieldTypeKeyword},
		{"source_path", qdrant.FieldType_FieldTypeText},
		{"language", qdrant.FieldType_FieldTypeKeyword},
		{"repo", qdrant.FieldType_FieldTypeKeyword},
	}

	for _, idx := range indexes {
		_, err := c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      idx.field,
			FieldType:      qdrant.PtrOf(idx.schema),
		})
		if err != nil {
			// Index might already exist, which is fine
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("failed to create index on %s: %w", idx.field, err)
			}
		}
	}

	return nil
}

// CollectionExists checks if a collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false, fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	return c.collectionExists(ctx, name)
}

func (c *Client) collectionExists(ctx context.Context, name string) (bool, error) {
	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		return false, err
	}

	for _, col := range collections {
		if col == name {
			return true, nil
		}
	}

	return false, nil
}

// DeleteCollection deletes a collection.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}

	return nil
}
