package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/inkwellapp/inkwell-server/internal/http/response"
	"github.com/inkwellapp/inkwell-server/internal/service"
)

// handleCreatePost creates a new post for the authenticated user.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := getUserID(ctx)

	var req service.CreatePostRequest
	if err := decodeJSON(r, &req); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	post, err := s.postService.Create(ctx, userID, req)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Created(w, post, s.logger)
}

// handleGetPost returns a single post. Public.
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.postService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, post, s.logger)
}

// handleListPublicPosts returns everyone's posts, paginated. Public.
func (s *Server) handleListPublicPosts(w http.ResponseWriter, r *http.Request) {
	page, err := s.postService.ListPublic(r.Context(), parseListParams(r))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, page, s.logger)
}

// handleListOwnPosts returns the authenticated user's posts, paginated.
func (s *Server) handleListOwnPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := s.postService.ListMine(ctx, getUserID(ctx), parseListParams(r))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, page, s.logger)
}

// handleSearchPosts searches the authenticated user's posts by title or
// description substring.
func (s *Server) handleSearchPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listParams := parseListParams(r)

	page, err := s.postService.Search(ctx, service.SearchParams{
		Query:    r.URL.Query().Get("query"),
		Theme:    listParams.Theme,
		AuthorID: getUserID(ctx),
		Page:     listParams.Page,
		Limit:    listParams.Limit,
	})
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, page, s.logger)
}

// handleSharePost increments a post's share counter. Public, rate limited.
func (s *Server) handleSharePost(w http.ResponseWriter, r *http.Request) {
	shares, err := s.postService.Share(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.SuccessMessage(w, "Blog shared successfully", map[string]int64{
		"shares": shares,
	}, s.logger)
}

// handleDeletePost deletes a post owned by the authenticated user and
// returns a snapshot of the deleted post.
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	post, err := s.postService.Delete(ctx, chi.URLParam(r, "id"), getUserID(ctx))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.SuccessMessage(w, "Blog deleted successfully", post, s.logger)
}
