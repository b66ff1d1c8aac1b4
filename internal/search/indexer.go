package search

import (
	"context"

	"github.com/inkwellapp/inkwell-server/internal/domain"
)

// Indexer adapts an Index to the store's SearchIndexer interface so the
// store can keep search in sync without importing this package's types.
type Indexer struct {
	index *Index
}

// NewIndexer creates a store-facing indexer around the given index.
func NewIndexer(index *Index) *Indexer {
	return &Indexer{index: index}
}

// IndexPost adds or updates a post in the search index.
func (i *Indexer) IndexPost(_ context.Context, post *domain.Post) error {
	return i.index.IndexDocument(PostToDocument(post))
}

// DeletePost removes a post from the search index.
func (i *Indexer) DeletePost(_ context.Context, postID string) error {
	return i.index.DeleteDocument(postID)
}
