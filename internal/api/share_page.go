package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// sharePageTemplate renders a minimal HTML document whose Open Graph tags
// let messaging apps and social sites unfurl a shared post link.
var sharePageTemplate = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta name="description" content="{{.Description}}">
<meta property="og:type" content="article">
<meta property="og:title" content="{{.Title}}">
<meta property="og:description" content="{{.Description}}">
{{- if .ImageURL}}
<meta property="og:image" content="{{.ImageURL}}">
{{- end}}
{{- if .CanonicalURL}}
<meta property="og:url" content="{{.CanonicalURL}}">
{{- end}}
<meta name="twitter:card" content="summary_large_image">
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{- if .Author}}
<p>by {{.Author}}</p>
{{- end}}
<p>{{.Description}}</p>
</article>
</body>
</html>
`))

type sharePageData struct {
	Title        string
	Description  string
	Author       string
	ImageURL     string
	CanonicalURL string
}

// handleSharePage serves the HTML share page for a post. Unlike the API
// routes this returns text/html and plain status codes, since the consumer
// is a link-preview crawler, not the app.
func (s *Server) handleSharePage(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	post, err := s.postService.Get(r.Context(), postID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data := sharePageData{
		Title:       post.Title,
		Description: post.Description,
	}
	if post.Author != nil {
		data.Author = post.Author.Username
	}
	if base := strings.TrimSuffix(s.cfg.Server.PublicURL, "/"); base != "" {
		data.CanonicalURL = base + "/share/blog/" + postID
		if post.HasCover() {
			data.ImageURL = base + "/api/v1/blogs/" + postID + "/cover"
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := sharePageTemplate.Execute(w, data); err != nil && s.logger != nil {
		s.logger.Error("Failed to render share page", "post_id", postID, "error", err)
	}
}
