package services

import (
	"context"
	"fmt"

	"arcane-scribe/internal/database"
	"arcane-scribe/internal/storage"
	"arcane-scribe/models"
)

// PurgeCollection deletes every object under {owner}/{collection}/ and every
// document record of the tenant. It returns the record and object counts.
func PurgeCollection(ctx context.Context, docs database.DocumentStore, objects storage.ObjectStore, ownerID, collectionID string) (int, int, error) {
	tenantKey := models.TenantKey(ownerID, collectionID)
	records, err := docs.Query(ctx, tenantKey)
	if err != nil {
		return 0, 0, fmt.Errorf("list documents: %w", err)
	}

	removed, err := storage.DeletePrefix(ctx, objects, ownerID+"/"+collectionID+"/")
	if err != nil {
		return 0, removed, fmt.Errorf("delete objects: %w", err)
	}

	for i, doc := range records {
		if err := docs.Delete(ctx, tenantKey, doc.DocumentID); err != nil {
			return i, removed, fmt.Errorf("delete %s: %w", doc.DocumentID, err)
		}
	}
	return len(records), removed, nil
}
