// Package domain defines the core entities of the Inkwell blogging platform.
package domain

// Post is a published blog entry.
//
// AuthorID is set at creation and never changes. Shares starts at zero and
// only ever goes up - the increment happens atomically at the store layer.
// Theme is whatever categorical tag the client sent; we deliberately don't
// validate it against an enumeration server-side.
type Post struct {
	Record
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Theme       string `json:"theme"`
	AuthorID    string `json:"author_id"`
	Slug        string `json:"slug,omitempty"`
	Shares      int64  `json:"shares"`

	// Cover image placeholder, set when a cover has been uploaded. The image
	// file itself lives in cover storage under the post ID; clients render
	// the blur hash while it loads.
	CoverBlurHash string `json:"cover_blur_hash,omitempty"`
}

// HasCover reports whether a cover image has been uploaded for this post.
func (p *Post) HasCover() bool {
	return p.CoverBlurHash != ""
}

// Author is the public expansion of a post's author embedded in API
// responses. Only the id and username ever leave the server.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
