package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/inkwellapp/inkwell-server/internal/http/response"
	"github.com/inkwellapp/inkwell-server/internal/media/covers"
)

// handleUploadCover accepts a raw image body and sets it as the post's
// cover. Owner only.
func (s *Server) handleUploadCover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, covers.MaxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		response.BadRequest(w, "Failed to read image body", s.logger)
		return
	}
	if len(data) == 0 {
		response.BadRequest(w, "Image body is required", s.logger)
		return
	}

	post, err := s.postService.SetCover(ctx, chi.URLParam(r, "id"), getUserID(ctx), data)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	response.Success(w, post, s.logger)
}

// handleGetCover streams the cover image. Public, cacheable.
func (s *Server) handleGetCover(w http.ResponseWriter, r *http.Request) {
	data, etag, err := s.postService.GetCover(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	quoted := `"` + etag + `"`
	if r.Header.Get("If-None-Match") == quoted {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("ETag", quoted)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}
