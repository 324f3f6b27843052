// Package sink persists harvested pages: raw HTML goes to the blob store,
// a metadata row goes to Postgres. Either side is optional.
package sink

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-harvester/internal/database"
	"github.com/JakeFAU/bulk-harvester/internal/engine"
	"github.com/JakeFAU/bulk-harvester/internal/hash/sha256"
	"github.com/JakeFAU/bulk-harvester/internal/id/uuid"
	"github.com/JakeFAU/bulk-harvester/internal/storage"
)

// Sink implements the engine's page sink over a blob store and a page
// store.
type Sink struct {
	blobs  storage.Provider
	pages  *database.PageStore
	hasher *sha256.Hasher
	ids    *uuid.Generator
	logger *zap.Logger
}

// New wires a sink. blobs and pages may each be nil to disable that side.
func New(blobs storage.Provider, pages *database.PageStore, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		blobs:  blobs,
		pages:  pages,
		hasher: sha256.New(),
		ids:    uuid.New(),
		logger: logger,
	}
}

// StorePage writes the page HTML to the blob store under a content-addressed
// path, then records the row. Blob location is keyed by digest, so refetching
// identical content is idempotent.
func (s *Sink) StorePage(ctx context.Context, jobID string, page *engine.PageResult) error {
	blobURI := ""
	if s.blobs != nil {
		digest, err := s.hasher.Hash([]byte(page.HTML))
		if err != nil {
			return fmt.Errorf("hash page: %w", err)
		}
		objectPath := path.Join("pages", jobID, digest+".html")
		uri, err := s.blobs.PutObject(ctx, objectPath, "text/html", []byte(page.HTML))
		if err != nil {
			return fmt.Errorf("store page blob: %w", err)
		}
		blobURI = uri
	}

	if s.pages != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("page row id: %w", err)
		}
		row := database.PageRow{
			ID:         id,
			JobID:      jobID,
			URL:        page.URL,
			Title:      page.Title,
			BlobURI:    blobURI,
			StatusCode: page.StatusCode,
			LinkCount:  len(page.Links),
			FetchedAt:  page.FetchedAt,
		}
		if err := s.pages.InsertPage(ctx, row); err != nil {
			return fmt.Errorf("store page row: %w", err)
		}
	}

	s.logger.Debug("page stored",
		zap.String("url", page.URL),
		zap.String("blob", blobURI))
	return nil
}
