package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwellapp/inkwell-server/internal/auth"
	"github.com/inkwellapp/inkwell-server/internal/domain"
	domainerrors "github.com/inkwellapp/inkwell-server/internal/errors"
	"github.com/inkwellapp/inkwell-server/internal/id"
	"github.com/inkwellapp/inkwell-server/internal/media/covers"
	"github.com/inkwellapp/inkwell-server/internal/search"
	"github.com/inkwellapp/inkwell-server/internal/store"
	"github.com/inkwellapp/inkwell-server/internal/validation"
)

type testEnv struct {
	store  *store.Store
	posts  *PostService
	auth   *AuthService
	covers *covers.Storage
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	idx, err := search.NewIndex(search.Options{DataPath: filepath.Join(dir, "search")})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	st.SetSearchIndexer(search.NewIndexer(idx))

	coverStorage, err := covers.NewStorage(filepath.Join(dir, "covers"))
	require.NoError(t, err)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	validator := validation.New()

	return &testEnv{
		store:  st,
		posts:  NewPostService(st, idx, coverStorage, validator, nil),
		auth:   NewAuthService(st, tokens, validator, nil),
		covers: coverStorage,
	}
}

// createTestUser inserts a user directly into the store and returns its ID.
func createTestUser(t *testing.T, st *store.Store, username string) string {
	t.Helper()

	userID, err := id.Generate("user")
	require.NoError(t, err)

	user := &domain.User{
		Record:       domain.Record{ID: userID},
		Username:     username,
		PasswordHash: "unused",
	}
	user.InitTimestamps()
	require.NoError(t, st.CreateUser(context.Background(), user))
	return userID
}

func createTestPost(t *testing.T, env *testEnv, authorID, title, theme string) *PostView {
	t.Helper()

	if theme == "" {
		theme = "general"
	}
	view, err := env.posts.Create(context.Background(), authorID, CreatePostRequest{
		Title:       title,
		Description: "about " + title,
		Content:     "content of " + title,
		Theme:       theme,
	})
	require.NoError(t, err)
	return view
}

// testJPEG returns a small valid JPEG for cover upload tests.
func testJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 60, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 60; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 6), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestPostService_Create(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	authorID := createTestUser(t, env.store, "alice")

	view, err := env.posts.Create(ctx, authorID, CreatePostRequest{
		Title:       "My First Post",
		Description: "an introduction",
		Content:     "<p>Hello <strong>world</strong></p>",
		Theme:       "personal",
	})
	require.NoError(t, err)

	assert.True(t, id.Valid("post", view.ID))
	assert.Equal(t, "My First Post", view.Title)
	assert.Equal(t, "my-first-post", view.Slug)
	assert.Equal(t, authorID, view.AuthorID)
	assert.EqualValues(t, 0, view.Shares)
	// HTML content is converted to Markdown
	assert.Contains(t, view.Content, "**world**")
	require.NotNil(t, view.Author)
	assert.Equal(t, "alice", view.Author.Username)
}

func TestPostService_Create_Validation(t *testing.T) {
	env := setupTestEnv(t)
	authorID := createTestUser(t, env.store, "alice")

	_, err := env.posts.Create(context.Background(), authorID, CreatePostRequest{
		Description: "missing title",
		Content:     "body",
		Theme:       "general",
	})
	require.Error(t, err)

	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)

	// All four content fields are mandatory
	_, err = env.posts.Create(context.Background(), authorID, CreatePostRequest{
		Title:       "no theme",
		Description: "desc",
		Content:     "body",
	})
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)
}

func TestPostService_Create_UnknownAuthor(t *testing.T) {
	env := setupTestEnv(t)

	ghost, err := id.Generate("user")
	require.NoError(t, err)

	_, err = env.posts.Create(context.Background(), ghost, CreatePostRequest{
		Title:       "Orphan",
		Description: "desc",
		Content:     "body",
		Theme:       "general",
	})
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeNotFound, derr.Code)
}

func TestPostService_Get(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	authorID := createTestUser(t, env.store, "alice")
	created := createTestPost(t, env, authorID, "Findable", "")

	view, err := env.posts.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, view.ID)

	// Malformed ID is a validation error, not a 404
	_, err = env.posts.Get(ctx, "not-a-post-id")
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)

	missing, err := id.Generate("post")
	require.NoError(t, err)
	_, err = env.posts.Get(ctx, missing)
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeNotFound, derr.Code)
}

func TestPostService_ListPublic(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	bob := createTestUser(t, env.store, "bob")

	for i := 0; i < 7; i++ {
		createTestPost(t, env, alice, "alice post", "tech")
	}
	for i := 0; i < 5; i++ {
		createTestPost(t, env, bob, "bob post", "travel")
	}

	page, err := env.posts.ListPublic(ctx, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Posts, 10)

	// Theme filter
	page, err = env.posts.ListPublic(ctx, ListParams{Theme: "travel"})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	for _, p := range page.Posts {
		assert.Equal(t, "travel", p.Theme)
	}

	// Out-of-range inputs are clamped
	page, err = env.posts.ListPublic(ctx, ListParams{Page: -3, Limit: -1})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Limit)
}

func TestPostService_ListMine(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	bob := createTestUser(t, env.store, "bob")

	for i := 0; i < 7; i++ {
		createTestPost(t, env, alice, "alice post", "")
	}
	createTestPost(t, env, bob, "bob post", "")

	page, err := env.posts.ListMine(ctx, alice, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 5, page.Limit) // smaller default than the public feed
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Posts, 5)
	for _, p := range page.Posts {
		assert.Equal(t, alice, p.AuthorID)
	}
}

func TestPostService_Search(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")

	bob := createTestUser(t, env.store, "bob")

	createTestPost(t, env, alice, "Gardening in Spring", "hobby")
	createTestPost(t, env, alice, "Winter Recipes", "food")
	createTestPost(t, env, bob, "Bob Gardens Too", "hobby")
	p, err := env.posts.Create(ctx, alice, CreatePostRequest{
		Title:       "Unrelated",
		Description: "notes on garden tools",
		Content:     "body",
		Theme:       "hobby",
	})
	require.NoError(t, err)

	// Case-insensitive substring over title or description, caller-scoped
	page, err := env.posts.Search(ctx, SearchParams{Query: "GARDEN", AuthorID: alice})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	ids := []string{page.Posts[0].ID, page.Posts[1].ID}
	assert.Contains(t, ids, p.ID)

	page, err = env.posts.Search(ctx, SearchParams{Query: "no such text", AuthorID: alice})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Posts)

	// Theme is an AND filter over the text match; both hobby posts mention
	// gardens, one in its title and one in its description
	page, err = env.posts.Search(ctx, SearchParams{Query: "garden", Theme: "hobby", AuthorID: alice})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	titles := []string{page.Posts[0].Title, page.Posts[1].Title}
	assert.ElementsMatch(t, []string{"Gardening in Spring", "Unrelated"}, titles)

	page, err = env.posts.Search(ctx, SearchParams{Query: "garden", Theme: "food", AuthorID: alice})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	// The query is mandatory
	_, err = env.posts.Search(ctx, SearchParams{AuthorID: alice})
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)
}

func TestPostService_Search_LiteralMetacharacters(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")

	p, err := env.posts.Create(ctx, alice, CreatePostRequest{
		Title:       "What is 2*3?",
		Description: "mental arithmetic",
		Content:     "six",
		Theme:       "math",
	})
	require.NoError(t, err)
	createTestPost(t, env, alice, "Chess openings", "games")

	// * and ? in the query match themselves, nothing more
	page, err := env.posts.Search(ctx, SearchParams{Query: "2*3?", AuthorID: alice})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, p.ID, page.Posts[0].ID)

	page, err = env.posts.Search(ctx, SearchParams{Query: "2*4", AuthorID: alice})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestPostService_Search_Pagination(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")

	for i := 0; i < 7; i++ {
		createTestPost(t, env, alice, "common topic", "")
	}

	page, err := env.posts.Search(ctx, SearchParams{Query: "common", AuthorID: alice, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Posts, 3)

	page, err = env.posts.Search(ctx, SearchParams{Query: "common", AuthorID: alice, Limit: 3, Page: 3})
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1)

	// Past the end: empty but not an error
	page, err = env.posts.Search(ctx, SearchParams{Query: "common", AuthorID: alice, Limit: 3, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
}

func TestPostService_Share(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	post := createTestPost(t, env, alice, "Shareable", "")

	count, err := env.posts.Share(ctx, post.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = env.posts.Share(ctx, post.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	missing, err := id.Generate("post")
	require.NoError(t, err)
	_, err = env.posts.Share(ctx, missing)
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeNotFound, derr.Code)
}

func TestPostService_Delete_OwnershipEnforced(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	bob := createTestUser(t, env.store, "bob")
	post := createTestPost(t, env, alice, "Mine", "")

	_, err := env.posts.Delete(ctx, post.ID, bob)
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeForbidden, derr.Code)

	// The post survives the forbidden attempt
	_, err = env.posts.Get(ctx, post.ID)
	require.NoError(t, err)

	// Success returns a snapshot of what was deleted
	snapshot, err := env.posts.Delete(ctx, post.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, post.ID, snapshot.ID)
	assert.Equal(t, "Mine", snapshot.Title)

	_, err = env.posts.Get(ctx, post.ID)
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeNotFound, derr.Code)

	// Deleted posts drop out of search too
	page, err := env.posts.Search(ctx, SearchParams{Query: "mine", AuthorID: alice})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestPostService_Lifecycle(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	bob := createTestUser(t, env.store, "bob")

	post := createTestPost(t, env, alice, "Full Lifecycle", "demo")

	for i := 1; i <= 2; i++ {
		count, err := env.posts.Share(ctx, post.ID)
		require.NoError(t, err)
		assert.EqualValues(t, i, count)
	}

	view, err := env.posts.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, view.Shares)

	_, err = env.posts.Delete(ctx, post.ID, bob)
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeForbidden, derr.Code)

	_, err = env.posts.Delete(ctx, post.ID, alice)
	require.NoError(t, err)
}

func TestPostService_Covers(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	bob := createTestUser(t, env.store, "bob")
	post := createTestPost(t, env, alice, "With Cover", "")

	img := testJPEG(t)

	// Only the author may set the cover
	_, err := env.posts.SetCover(ctx, post.ID, bob, img)
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeForbidden, derr.Code)

	view, err := env.posts.SetCover(ctx, post.ID, alice, img)
	require.NoError(t, err)
	assert.NotEmpty(t, view.CoverBlurHash)
	assert.True(t, view.HasCover())

	data, etag, err := env.posts.GetCover(ctx, post.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Len(t, etag, 64)

	// Garbage upload is rejected
	_, err = env.posts.SetCover(ctx, post.ID, alice, []byte("not an image"))
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeValidation, derr.Code)

	// Deleting the post removes the cover file
	_, err = env.posts.Delete(ctx, post.ID, alice)
	require.NoError(t, err)
	assert.False(t, env.covers.Exists(post.ID))
}

func TestPostService_GetCover_NotSet(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")
	post := createTestPost(t, env, alice, "No Cover", "")

	_, _, err := env.posts.GetCover(ctx, post.ID)
	var derr *domainerrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domainerrors.CodeNotFound, derr.Code)
}

func TestPostService_AuthorExpansion_DeletedUser(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// A post whose author no longer exists still renders, author omitted
	ghost, err := id.Generate("user")
	require.NoError(t, err)
	postID, err := id.Generate("post")
	require.NoError(t, err)
	post := &domain.Post{
		Record:      domain.Record{ID: postID},
		Title:       "Orphan",
		Description: "author gone",
		Content:     "body",
		AuthorID:    ghost,
	}
	post.InitTimestamps()
	require.NoError(t, env.store.CreatePost(ctx, post))

	view, err := env.posts.Get(ctx, postID)
	require.NoError(t, err)
	assert.Nil(t, view.Author)
}

func TestPostService_ReindexAll(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := createTestUser(t, env.store, "alice")

	for i := 0; i < 3; i++ {
		createTestPost(t, env, alice, "reindex target", "")
	}

	require.NoError(t, env.posts.ReindexAll(ctx))

	page, err := env.posts.Search(ctx, SearchParams{Query: "reindex"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}
