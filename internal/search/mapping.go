package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
)

// lowercaseKeyword indexes an entire field value as one lowercased token.
// Regexp queries against these fields give case-insensitive substring
// matching, which term-based analyzers can't do.
const lowercaseKeyword = "lowercase_keyword"

// buildIndexMapping creates the Bleve index mapping for post documents.
//
// The mapping is designed with these priorities:
//  1. Relevance-ranked full-text search on title and description
//  2. Case-insensitive substring matching via the *_raw fields
//  3. Exact keyword matching for theme and author filters
//  4. Numeric created_at for sorting by recency
func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	err := indexMapping.AddCustomAnalyzer(lowercaseKeyword, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}

	docMapping := bleve.NewDocumentMapping()

	// --- Text fields (full-text searchable) ---

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = en.AnalyzerName
	titleFieldMapping.Store = true
	titleFieldMapping.IncludeTermVectors = true // For highlighting
	docMapping.AddFieldMappingsAt("title", titleFieldMapping)

	descFieldMapping := bleve.NewTextFieldMapping()
	descFieldMapping.Analyzer = en.AnalyzerName
	descFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("description", descFieldMapping)

	// --- Raw fields (substring matching) ---

	titleRawFieldMapping := bleve.NewTextFieldMapping()
	titleRawFieldMapping.Analyzer = lowercaseKeyword
	titleRawFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("title_raw", titleRawFieldMapping)

	descRawFieldMapping := bleve.NewTextFieldMapping()
	descRawFieldMapping.Analyzer = lowercaseKeyword
	descRawFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("description_raw", descRawFieldMapping)

	// --- Keyword fields (exact match filters) ---

	idFieldMapping := bleve.NewTextFieldMapping()
	idFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("id", idFieldMapping)

	themeFieldMapping := bleve.NewTextFieldMapping()
	themeFieldMapping.Analyzer = keyword.Name
	themeFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("theme", themeFieldMapping)

	authorFieldMapping := bleve.NewTextFieldMapping()
	authorFieldMapping.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("author_id", authorFieldMapping)

	// --- Numeric fields (sorting) ---

	createdAtFieldMapping := bleve.NewNumericFieldMapping()
	createdAtFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("created_at", createdAtFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping, nil
}
