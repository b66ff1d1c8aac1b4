// Package search provides full-text and substring search over posts using
// Bleve. The store feeds it on every post write; queries return post IDs
// which callers hydrate from the store.
package search

import (
	"github.com/inkwellapp/inkwell-server/internal/domain"
)

// PostDocument is the document structure for the Bleve index.
//
// Title and description are indexed twice: once through the English
// analyzer for relevance-ranked matching, and once as a single lowercased
// token (title_raw, description_raw) so wildcard queries can do
// case-insensitive substring matching.
type PostDocument struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Theme       string `json:"theme,omitempty"`
	AuthorID    string `json:"author_id"`
	CreatedAt   int64  `json:"created_at"` // Unix millis
}

// ToMap converts the document to a map with field names matching the index
// mapping. Bleve defaults to Go struct field names (capitalized), but the
// mapping uses lowercase names, so we convert explicitly.
func (d *PostDocument) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":              d.ID,
		"title":           d.Title,
		"title_raw":       d.Title,
		"description":     d.Description,
		"description_raw": d.Description,
		"author_id":       d.AuthorID,
		"created_at":      d.CreatedAt,
	}

	if d.Theme != "" {
		m["theme"] = d.Theme
	}

	return m
}

// PostToDocument converts a domain Post to a PostDocument.
func PostToDocument(post *domain.Post) *PostDocument {
	return &PostDocument{
		ID:          post.ID,
		Title:       post.Title,
		Description: post.Description,
		Theme:       post.Theme,
		AuthorID:    post.AuthorID,
		CreatedAt:   post.CreatedAt.UnixMilli(),
	}
}
