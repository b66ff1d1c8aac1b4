package api

import (
	"bytes"
	"encoding/json/v2"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellapp/inkwell-server/internal/auth"
	"github.com/inkwellapp/inkwell-server/internal/config"
	"github.com/inkwellapp/inkwell-server/internal/http/response"
	"github.com/inkwellapp/inkwell-server/internal/media/covers"
	"github.com/inkwellapp/inkwell-server/internal/ratelimit"
	"github.com/inkwellapp/inkwell-server/internal/search"
	"github.com/inkwellapp/inkwell-server/internal/service"
	"github.com/inkwellapp/inkwell-server/internal/store"
	"github.com/inkwellapp/inkwell-server/internal/validation"
)

// setupTestServer creates a test server with all dependencies in temp dirs.
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.New(filepath.Join(dir, "db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := search.NewIndex(search.Options{DataPath: filepath.Join(dir, "search"), Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	st.SetSearchIndexer(search.NewIndexer(idx))

	coverStorage, err := covers.NewStorage(filepath.Join(dir, "covers"))
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Name:      "Test Server",
			PublicURL: "http://localhost:8080",
		},
		Auth: config.AuthConfig{
			AccessTokenKey:       []byte("test-secret-key-for-testing-32by"),
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
		},
		Share: config.ShareConfig{
			RatePerSecond: 1,
			Burst:         5,
		},
	}

	tokens, err := auth.NewTokenService(cfg.Auth.AccessTokenKey, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration)
	require.NoError(t, err)

	validator := validation.New()
	authService := service.NewAuthService(st, tokens, validator, logger)
	postService := service.NewPostService(st, idx, coverStorage, validator, logger)

	limiter := ratelimit.New(cfg.Share.RatePerSecond, cfg.Share.Burst)
	t.Cleanup(limiter.Stop)

	return NewServer(cfg, authService, postService, limiter, logger)
}

// doJSON performs a request with an optional JSON body and bearer token,
// returning the decoded envelope.
func doJSON(t *testing.T, srv *Server, method, path, token string, body any) (int, response.Envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec.Code, envelope
}

// registerUser registers a user and returns its access token and user ID.
func registerUser(t *testing.T, srv *Server, username string) (token, userID string) {
	t.Helper()

	code, env := doJSON(t, srv, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"password": "a strong password",
	})
	require.Equal(t, http.StatusCreated, code)

	data := envelopeData(t, env)
	token, _ = data["access_token"].(string)
	require.NotEmpty(t, token)
	user, _ := data["user"].(map[string]any)
	require.NotNil(t, user)
	userID, _ = user["id"].(string)
	require.NotEmpty(t, userID)
	return token, userID
}

// envelopeData asserts the envelope data is a JSON object and returns it.
func envelopeData(t *testing.T, env response.Envelope) map[string]any {
	t.Helper()
	data, ok := env.Data.(map[string]any)
	require.True(t, ok, "envelope data is not an object: %#v", env.Data)
	return data
}

// createPost creates a post via the API and returns its ID.
func createPost(t *testing.T, srv *Server, token, title, theme string) string {
	t.Helper()

	code, env := doJSON(t, srv, http.MethodPost, "/api/v1/blogs/post", token, map[string]string{
		"title":       title,
		"description": "about " + title,
		"content":     "content of " + title,
		"theme":       theme,
	})
	require.Equal(t, http.StatusCreated, code)

	postID, _ := envelopeData(t, env)["id"].(string)
	require.NotEmpty(t, postID)
	return postID
}

func TestHealthCheck(t *testing.T) {
	srv := setupTestServer(t)

	code, env := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", envelopeData(t, env)["status"])
}

func TestEnvelopeShape(t *testing.T) {
	srv := setupTestServer(t)

	// Success and failure both carry the full envelope.
	code, env := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, code, env.Status)
	assert.True(t, env.Success)

	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/post-000000000000000000000", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, code, env.Status)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)
}

func TestCreatePost(t *testing.T) {
	srv := setupTestServer(t)
	token, userID := registerUser(t, srv, "alice")

	code, env := doJSON(t, srv, http.MethodPost, "/api/v1/blogs/post", token, map[string]string{
		"title":       "Hello World",
		"description": "first post",
		"content":     "<p>body</p>",
		"theme":       "general",
	})
	require.Equal(t, http.StatusCreated, code)

	data := envelopeData(t, env)
	assert.Equal(t, "Hello World", data["title"])
	assert.Equal(t, userID, data["author_id"])
	assert.EqualValues(t, 0, data["shares"])
	author, _ := data["author"].(map[string]any)
	require.NotNil(t, author)
	assert.Equal(t, "alice", author["username"])

	// Missing fields are a 400 with per-field details
	code, env = doJSON(t, srv, http.MethodPost, "/api/v1/blogs/post", token, map[string]string{
		"title": "incomplete",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	// No token is a 401
	code, _ = doJSON(t, srv, http.MethodPost, "/api/v1/blogs/post", "", map[string]string{
		"title": "anon", "description": "d", "content": "c", "theme": "t",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestListPublicPosts(t *testing.T) {
	srv := setupTestServer(t)
	aliceToken, _ := registerUser(t, srv, "alice")
	bobToken, _ := registerUser(t, srv, "bob")

	for i := 0; i < 7; i++ {
		createPost(t, srv, aliceToken, fmt.Sprintf("alice %d", i), "tech")
	}
	for i := 0; i < 5; i++ {
		createPost(t, srv, bobToken, fmt.Sprintf("bob %d", i), "travel")
	}

	code, env := doJSON(t, srv, http.MethodGet, "/api/v1/blogs/public", "", nil)
	require.Equal(t, http.StatusOK, code)
	data := envelopeData(t, env)
	assert.EqualValues(t, 12, data["total_blogs"])
	assert.EqualValues(t, 10, data["limit"])
	assert.EqualValues(t, 2, data["total_pages"])
	blogs, _ := data["blogs"].([]any)
	assert.Len(t, blogs, 10)

	// Page two has the remainder
	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/public?page=2", "", nil)
	require.Equal(t, http.StatusOK, code)
	blogs, _ = envelopeData(t, env)["blogs"].([]any)
	assert.Len(t, blogs, 2)

	// Theme filter
	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/public?theme=travel", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 5, envelopeData(t, env)["total_blogs"])

	// Garbage paging params are clamped, not an error
	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/public?page=-2&limit=9999", "", nil)
	require.Equal(t, http.StatusOK, code)
	data = envelopeData(t, env)
	assert.EqualValues(t, 1, data["page"])
	assert.EqualValues(t, 100, data["limit"])
}

func TestListOwnPosts(t *testing.T) {
	srv := setupTestServer(t)
	aliceToken, aliceID := registerUser(t, srv, "alice")
	bobToken, _ := registerUser(t, srv, "bob")

	for i := 0; i < 6; i++ {
		createPost(t, srv, aliceToken, fmt.Sprintf("alice %d", i), "tech")
	}
	createPost(t, srv, bobToken, "bob only", "tech")

	code, env := doJSON(t, srv, http.MethodGet, "/api/v1/blogs/all", aliceToken, nil)
	require.Equal(t, http.StatusOK, code)
	data := envelopeData(t, env)
	assert.EqualValues(t, 6, data["total_blogs"])
	assert.EqualValues(t, 5, data["limit"])
	blogs, _ := data["blogs"].([]any)
	require.Len(t, blogs, 5)
	for _, b := range blogs {
		post, _ := b.(map[string]any)
		assert.Equal(t, aliceID, post["author_id"])
	}

	code, _ = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSearchPosts(t *testing.T) {
	srv := setupTestServer(t)
	aliceToken, _ := registerUser(t, srv, "alice")
	bobToken, _ := registerUser(t, srv, "bob")

	createPost(t, srv, aliceToken, "Gardening Basics", "hobby")
	createPost(t, srv, aliceToken, "Cooking 101", "food")
	createPost(t, srv, bobToken, "Bob's Garden", "hobby")

	// Search is scoped to the caller's own posts
	code, env := doJSON(t, srv, http.MethodGet, "/api/v1/blogs/search?query=garden", aliceToken, nil)
	require.Equal(t, http.StatusOK, code)
	data := envelopeData(t, env)
	assert.EqualValues(t, 1, data["total_blogs"])
	blogs, _ := data["blogs"].([]any)
	require.Len(t, blogs, 1)
	post, _ := blogs[0].(map[string]any)
	assert.Equal(t, "Gardening Basics", post["title"])

	// Missing query is a 400
	code, _ = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/search", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// No matches is an empty page, not an error
	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/search?query=zzzz", aliceToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, envelopeData(t, env)["total_blogs"])
}

func TestSharePost(t *testing.T) {
	srv := setupTestServer(t)
	token, _ := registerUser(t, srv, "alice")
	postID := createPost(t, srv, token, "Shareable", "general")

	// Unauthenticated shares are allowed
	code, env := doJSON(t, srv, http.MethodPut, "/api/v1/blogs/"+postID+"/share", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, envelopeData(t, env)["shares"])

	code, env = doJSON(t, srv, http.MethodPut, "/api/v1/blogs/"+postID+"/share", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, envelopeData(t, env)["shares"])

	code, _ = doJSON(t, srv, http.MethodPut, "/api/v1/blogs/post-000000000000000000000/share", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doJSON(t, srv, http.MethodPut, "/api/v1/blogs/garbage/share", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSharePost_RateLimited(t *testing.T) {
	srv := setupTestServer(t)
	token, _ := registerUser(t, srv, "alice")
	postID := createPost(t, srv, token, "Popular", "general")

	// Burst of 5, so the sixth immediate request from one IP trips the limit.
	var last int
	for i := 0; i < 6; i++ {
		last, _ = doJSON(t, srv, http.MethodPut, "/api/v1/blogs/"+postID+"/share", "", nil)
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// A different client IP is unaffected
	req := httptest.NewRequest(http.MethodPut, "/api/v1/blogs/"+postID+"/share", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeletePost(t *testing.T) {
	srv := setupTestServer(t)
	aliceToken, _ := registerUser(t, srv, "alice")
	bobToken, _ := registerUser(t, srv, "bob")
	postID := createPost(t, srv, aliceToken, "Mine", "general")

	// Another user's delete is forbidden
	code, env := doJSON(t, srv, http.MethodDelete, "/api/v1/blogs/"+postID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, env.Success)

	// The post is still there
	code, _ = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/"+postID, "", nil)
	assert.Equal(t, http.StatusOK, code)

	// Owner delete succeeds and returns the snapshot
	code, env = doJSON(t, srv, http.MethodDelete, "/api/v1/blogs/"+postID, aliceToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Mine", envelopeData(t, env)["title"])

	code, _ = doJSON(t, srv, http.MethodGet, "/api/v1/blogs/"+postID, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAuthFlow(t *testing.T) {
	srv := setupTestServer(t)

	code, env := doJSON(t, srv, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "carol",
		"password": "a strong password",
	})
	require.Equal(t, http.StatusCreated, code)
	refreshToken, _ := envelopeData(t, env)["refresh_token"].(string)
	require.NotEmpty(t, refreshToken)

	code, env = doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "carol",
		"password": "a strong password",
	})
	require.Equal(t, http.StatusOK, code)
	accessToken, _ := envelopeData(t, env)["access_token"].(string)

	// /users/me with the fresh token
	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/users/me", accessToken, nil)
	require.Equal(t, http.StatusOK, code)
	data := envelopeData(t, env)
	assert.Equal(t, "carol", data["username"])
	assert.Nil(t, data["password_hash"])

	// Refresh rotates the token
	code, env = doJSON(t, srv, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	})
	require.Equal(t, http.StatusOK, code)
	rotated, _ := envelopeData(t, env)["refresh_token"].(string)
	assert.NotEqual(t, refreshToken, rotated)

	// Logout revokes it
	code, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/logout", "", map[string]string{
		"refresh_token": rotated,
	})
	require.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": rotated,
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	// Wrong credentials
	code, _ = doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "carol",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSharePage(t *testing.T) {
	srv := setupTestServer(t)
	token, _ := registerUser(t, srv, "alice")
	postID := createPost(t, srv, token, "Open Graph Me", "general")

	req := httptest.NewRequest(http.MethodGet, "/share/blog/"+postID, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, `og:title`)
	assert.Contains(t, body, "Open Graph Me")
	assert.Contains(t, body, "alice")

	// Unknown post is a plain 404
	req = httptest.NewRequest(http.MethodGet, "/share/blog/post-000000000000000000000", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCoverUploadAndFetch(t *testing.T) {
	srv := setupTestServer(t)
	aliceToken, _ := registerUser(t, srv, "alice")
	bobToken, _ := registerUser(t, srv, "bob")
	postID := createPost(t, srv, aliceToken, "With Cover", "general")

	img := testJPEGBytes(t)

	// Non-owner upload is forbidden
	code := uploadCover(t, srv, postID, bobToken, img)
	assert.Equal(t, http.StatusForbidden, code)

	code = uploadCover(t, srv, postID, aliceToken, img)
	require.Equal(t, http.StatusOK, code)

	// Public fetch with caching headers
	req := httptest.NewRequest(http.MethodGet, "/api/v1/blogs/"+postID+"/cover", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	// Conditional fetch is a 304
	req = httptest.NewRequest(http.MethodGet, "/api/v1/blogs/"+postID+"/cover", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func testJPEGBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 4), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func uploadCover(t *testing.T, srv *Server, postID, token string, data []byte) int {
	t.Helper()

	req := httptest.NewRequest(http.MethodPut, "/api/v1/blogs/"+postID+"/cover", bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec.Code
}
