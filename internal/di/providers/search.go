package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/inkwellapp/inkwell-server/internal/config"
	"github.com/inkwellapp/inkwell-server/internal/logger"
	"github.com/inkwellapp/inkwell-server/internal/search"
	"github.com/inkwellapp/inkwell-server/internal/service"
)

// SearchIndexHandle wraps the search index with shutdown capability.
type SearchIndexHandle struct {
	*search.Index
}

// Shutdown implements do.Shutdownable.
func (h *SearchIndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideSearchIndex provides the Bleve search index and wires it into the
// store for automatic post indexing.
func ProvideSearchIndex(i do.Injector) (*SearchIndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	index, err := search.NewIndex(search.Options{
		DataPath: cfg.Data.BasePath,
		Logger:   log.Logger,
	})
	if err != nil {
		return nil, err
	}

	storeHandle.SetSearchIndexer(search.NewIndexer(index))

	docCount, _ := index.DocumentCount()
	log.Info("Search index initialized", "documents", docCount)

	return &SearchIndexHandle{Index: index}, nil
}

// ReindexIfEmpty backfills the search index from the store when the index
// is empty, e.g. after a mapping-version rebuild. Call after bootstrap.
func ReindexIfEmpty(i do.Injector) error {
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	postService := do.MustInvoke[*service.PostService](i)

	docCount, err := indexHandle.DocumentCount()
	if err != nil {
		return err
	}
	if docCount > 0 {
		return nil
	}

	return postService.ReindexAll(context.Background())
}
