package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/inkwellapp/inkwell-server/internal/domain"
	domainerrors "github.com/inkwellapp/inkwell-server/internal/errors"
	"github.com/inkwellapp/inkwell-server/internal/htmltext"
	"github.com/inkwellapp/inkwell-server/internal/id"
	"github.com/inkwellapp/inkwell-server/internal/media/covers"
	"github.com/inkwellapp/inkwell-server/internal/search"
	"github.com/inkwellapp/inkwell-server/internal/store"
	"github.com/inkwellapp/inkwell-server/internal/validation"
)

const (
	// Listing defaults: the public feed shows more per page than the
	// author's own dashboard.
	defaultPublicLimit = 10
	defaultOwnLimit    = 5
	defaultSearchLimit = 10
	maxLimit           = 100
)

// PostService implements post creation, listing, search, sharing, and
// deletion.
type PostService struct {
	store     *store.Store
	search    *search.Index
	covers    *covers.Storage
	validator *validation.Validator
	logger    *slog.Logger
}

// NewPostService creates a new post service.
func NewPostService(store *store.Store, searchIndex *search.Index, coverStorage *covers.Storage, validator *validation.Validator, logger *slog.Logger) *PostService {
	return &PostService{
		store:     store,
		search:    searchIndex,
		covers:    coverStorage,
		validator: validator,
		logger:    logger,
	}
}

// CreatePostRequest contains a new post's content.
type CreatePostRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=500"`
	Content     string `json:"content" validate:"required"`
	Theme       string `json:"theme" validate:"required,max=50"`
}

// PostView is a post as returned by the API, with the author expanded to
// their public projection.
type PostView struct {
	*domain.Post
	Author *domain.Author `json:"author,omitempty"`
}

// PostPageView is one page of posts plus pagination metadata. The wire names
// use "blogs" for client compatibility.
type PostPageView struct {
	Posts      []*PostView `json:"blogs"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	Total      int         `json:"total_blogs"`
	TotalPages int         `json:"total_pages"`
}

// ListParams are the pagination and filter inputs shared by the listing
// operations. Out-of-range values are clamped, not rejected.
type ListParams struct {
	Theme string
	Page  int
	Limit int
}

// SearchParams configure a post search. Search is scoped to the caller's own
// posts.
type SearchParams struct {
	Query    string
	Theme    string
	AuthorID string
	Page     int
	Limit    int
}

// clampPaging normalizes page and limit against a default.
func clampPaging(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// Create validates and stores a new post for the given author.
// HTML content is converted to Markdown before storage so search indexing
// and excerpts operate on plain text.
func (s *PostService) Create(ctx context.Context, authorID string, req CreatePostRequest) (*PostView, error) {
	if err := s.validator.Validate(&req); err != nil {
		return nil, err
	}

	// The author must still exist; a token can outlive its account.
	if _, err := s.store.GetUser(ctx, authorID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, domainerrors.NotFound("author not found")
		}
		return nil, fmt.Errorf("resolve author: %w", err)
	}

	postID, err := id.Generate("post")
	if err != nil {
		return nil, fmt.Errorf("generate post ID: %w", err)
	}

	post := &domain.Post{
		Record:      domain.Record{ID: postID},
		Title:       req.Title,
		Description: req.Description,
		Content:     htmltext.ToMarkdown(req.Content),
		Theme:       req.Theme,
		AuthorID:    authorID,
		Slug:        htmltext.Slugify(req.Title),
	}
	post.InitTimestamps()

	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	views, err := s.expand(ctx, []*domain.Post{post})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// Get returns a single post by ID.
func (s *PostService) Get(ctx context.Context, postID string) (*PostView, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	views, err := s.expand(ctx, []*domain.Post{post})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// ListPublic returns everyone's posts, newest first, optionally filtered by
// theme.
func (s *PostService) ListPublic(ctx context.Context, params ListParams) (*PostPageView, error) {
	params.Page, params.Limit = clampPaging(params.Page, params.Limit, defaultPublicLimit)
	return s.list(ctx, store.ListQuery{
		Theme: params.Theme,
		Page:  params.Page,
		Limit: params.Limit,
	})
}

// ListMine returns only the given author's posts, newest first.
func (s *PostService) ListMine(ctx context.Context, authorID string, params ListParams) (*PostPageView, error) {
	params.Page, params.Limit = clampPaging(params.Page, params.Limit, defaultOwnLimit)
	return s.list(ctx, store.ListQuery{
		AuthorID: authorID,
		Theme:    params.Theme,
		Page:     params.Page,
		Limit:    params.Limit,
	})
}

func (s *PostService) list(ctx context.Context, query store.ListQuery) (*PostPageView, error) {
	page, err := s.store.ListPosts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	views, err := s.expand(ctx, page.Posts)
	if err != nil {
		return nil, err
	}

	return &PostPageView{
		Posts:      views,
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}, nil
}

// Search finds the caller's posts whose title or description contains the
// query substring, case-insensitively. The query is mandatory; theme narrows
// the match set further.
func (s *PostService) Search(ctx context.Context, params SearchParams) (*PostPageView, error) {
	if params.Query == "" {
		return nil, domainerrors.Validation("query is required")
	}
	params.Page, params.Limit = clampPaging(params.Page, params.Limit, defaultSearchLimit)

	result, err := s.search.SearchPosts(ctx, search.Params{
		Query:    params.Query,
		Theme:    params.Theme,
		AuthorID: params.AuthorID,
		Limit:    params.Limit,
		Offset:   (params.Page - 1) * params.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}

	posts, err := s.store.GetPostsByIDs(ctx, result.IDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate search results: %w", err)
	}

	views, err := s.expand(ctx, posts)
	if err != nil {
		return nil, err
	}

	total := int(result.Total)
	return &PostPageView{
		Posts:      views,
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: (total + params.Limit - 1) / params.Limit,
	}, nil
}

// Share atomically increments a post's share counter and returns the new
// count. Anyone may share any post; no authentication is required.
func (s *PostService) Share(ctx context.Context, postID string) (int64, error) {
	if !id.Valid("post", postID) {
		return 0, domainerrors.Validation("invalid post id")
	}

	shares, err := s.store.IncrementShares(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrPostNotFound) {
			return 0, domainerrors.NotFound("post not found")
		}
		return 0, fmt.Errorf("increment shares: %w", err)
	}

	return shares, nil
}

// Delete removes a post and returns a snapshot of what was deleted. Only the
// post's author may delete it; anyone else gets Forbidden even though the
// post exists.
func (s *PostService) Delete(ctx context.Context, postID, requesterID string) (*PostView, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if post.AuthorID != requesterID {
		return nil, domainerrors.Forbidden("you can only delete your own posts")
	}

	views, err := s.expand(ctx, []*domain.Post{post})
	if err != nil {
		return nil, err
	}

	if err := s.store.DeletePost(ctx, postID); err != nil {
		return nil, fmt.Errorf("delete post: %w", err)
	}

	// Cover cleanup is best-effort: an orphaned file is harmless.
	if post.HasCover() {
		if err := s.covers.Delete(postID); err != nil && s.logger != nil {
			s.logger.Warn("failed to delete cover for removed post", "post_id", postID, "error", err)
		}
	}

	return views[0], nil
}

// SetCover processes an uploaded cover image for a post. Only the author
// may set the cover.
func (s *PostService) SetCover(ctx context.Context, postID, requesterID string, imageData []byte) (*PostView, error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	if post.AuthorID != requesterID {
		return nil, domainerrors.Forbidden("you can only set covers on your own posts")
	}

	jpegData, blurHash, err := covers.Process(imageData)
	if err != nil {
		return nil, domainerrors.Validation("unsupported or corrupt image").WithCause(err)
	}

	if err := s.covers.Save(postID, jpegData); err != nil {
		return nil, fmt.Errorf("save cover: %w", err)
	}

	post.CoverBlurHash = blurHash
	post.Touch()
	if err := s.store.UpdatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}

	views, err := s.expand(ctx, []*domain.Post{post})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// GetCover returns the cover image bytes and their hash for ETag use.
func (s *PostService) GetCover(ctx context.Context, postID string) (data []byte, etag string, err error) {
	post, err := s.getPost(ctx, postID)
	if err != nil {
		return nil, "", err
	}
	if !post.HasCover() {
		return nil, "", domainerrors.NotFound("post has no cover")
	}

	data, err = s.covers.Get(postID)
	if err != nil {
		return nil, "", domainerrors.NotFound("post has no cover")
	}

	etag, err = s.covers.Hash(postID)
	if err != nil {
		return nil, "", fmt.Errorf("hash cover: %w", err)
	}

	return data, etag, nil
}

// ReindexAll rebuilds the search index from the store. Used on startup when
// the index was rebuilt due to a mapping change.
func (s *PostService) ReindexAll(ctx context.Context) error {
	var docs []*search.PostDocument

	query := store.ListQuery{Page: 1, Limit: maxLimit}
	for {
		page, err := s.store.ListPosts(ctx, query)
		if err != nil {
			return fmt.Errorf("list posts for reindex: %w", err)
		}
		for _, post := range page.Posts {
			docs = append(docs, search.PostToDocument(post))
		}
		if query.Page >= page.TotalPages {
			break
		}
		query.Page++
	}

	if err := s.search.IndexDocuments(docs); err != nil {
		return fmt.Errorf("reindex posts: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("search index rebuilt", "documents", len(docs))
	}
	return nil
}

// getPost resolves a post ID, mapping malformed IDs to validation errors
// and missing posts to NotFound.
func (s *PostService) getPost(ctx context.Context, postID string) (*domain.Post, error) {
	if !id.Valid("post", postID) {
		return nil, domainerrors.Validation("invalid post id")
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrPostNotFound) {
			return nil, domainerrors.NotFound("post not found")
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// expand attaches the public author projection to each post. Authors are
// fetched once per distinct ID; a deleted author leaves the field empty
// rather than failing the whole page.
func (s *PostService) expand(ctx context.Context, posts []*domain.Post) ([]*PostView, error) {
	authors := make(map[string]*domain.Author)
	views := make([]*PostView, 0, len(posts))

	for _, post := range posts {
		author, seen := authors[post.AuthorID]
		if !seen {
			user, err := s.store.GetUser(ctx, post.AuthorID)
			switch {
			case err == nil:
				a := user.PublicAuthor()
				author = &a
			case errors.Is(err, store.ErrUserNotFound):
				author = nil
			default:
				return nil, fmt.Errorf("expand author: %w", err)
			}
			authors[post.AuthorID] = author
		}

		views = append(views, &PostView{Post: post, Author: author})
	}

	return views, nil
}
