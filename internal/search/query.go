package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Params configures a post search.
type Params struct {
	Query    string // Substring to match against title and description
	Theme    string // Exact theme filter (empty = all)
	AuthorID string // Restrict to one author's posts (empty = all)

	Limit  int
	Offset int
}

// Result holds one page of matching post IDs plus the total match count.
// Callers hydrate full posts from the store.
type Result struct {
	IDs    []string
	Total  uint64
	TookMs int64
}

// SearchPosts finds posts whose title or description contains the query
// substring, case-insensitively, newest first.
func (s *Index) SearchPosts(ctx context.Context, params Params) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	searchQuery := buildPostQuery(params)

	searchRequest := bleve.NewSearchRequestOptions(searchQuery, params.Limit, params.Offset, false)
	searchRequest.SortBy([]string{"-created_at"})

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &Result{
		IDs:    make([]string, 0, len(searchResult.Hits)),
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
	}
	for _, hit := range searchResult.Hits {
		result.IDs = append(result.IDs, hit.ID)
	}

	return result, nil
}

// buildPostQuery constructs the Bleve query from params.
//
// The substring match runs as a regexp query against the *_raw fields,
// which hold the whole field value as one lowercased token. A regexp must
// match the whole term, so the quoted input is wrapped in .* on both sides.
// QuoteMeta keeps user-supplied regexp metacharacters literal; wildcard
// queries cannot do this because Bleve still rewrites escaped * to .*.
func buildPostQuery(params Params) query.Query {
	var queries []query.Query

	if params.Query != "" {
		pattern := ".*" + regexp.QuoteMeta(strings.ToLower(params.Query)) + ".*"

		titleQuery := bleve.NewRegexpQuery(pattern)
		titleQuery.SetField("title_raw")

		descQuery := bleve.NewRegexpQuery(pattern)
		descQuery.SetField("description_raw")

		// Title OR description
		queries = append(queries, bleve.NewDisjunctionQuery(titleQuery, descQuery))
	}

	if params.Theme != "" {
		themeQuery := bleve.NewTermQuery(params.Theme)
		themeQuery.SetField("theme")
		queries = append(queries, themeQuery)
	}

	if params.AuthorID != "" {
		authorQuery := bleve.NewTermQuery(params.AuthorID)
		authorQuery.SetField("author_id")
		queries = append(queries, authorQuery)
	}

	if len(queries) == 0 {
		return bleve.NewMatchAllQuery()
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}
