package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/inkwellapp/inkwell-server/internal/domain"
)

const (
	postPrefix          = "post:"
	postByCreatedPrefix = "post:idx:created:"

	// Posts are small; the clamp just keeps a hostile limit from turning a
	// listing into a full table scan of the response body.
	maxPageLimit     = 100
	defaultPageLimit = 10

	// Backoff ceiling between retries of transactions that lose an SSI
	// conflict race.
	maxTxnBackoff = 20 * time.Millisecond
)

// ListQuery describes a paginated post listing. Zero-value fields mean
// "no filter" for AuthorID and Theme, and defaults for Page and Limit.
type ListQuery struct {
	AuthorID string
	Theme    string
	Page     int
	Limit    int
}

// Normalize clamps pagination inputs to sane bounds.
func (q *ListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
}

// PostPage is one page of a post listing plus the counts clients need to
// render pagination controls.
type PostPage struct {
	Posts      []*domain.Post
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// formatCreatedKey builds a created-at index key that sorts lexicographically
// in chronological order. Nanoseconds are zero-padded to fixed width so the
// sort holds across entries.
// Format: post:idx:created:{YYYY-MM-DDTHH:MM:SS.NNNNNNNNNZ}:{postID}.
func formatCreatedKey(timestamp time.Time, postID string) []byte {
	timestampStr := timestamp.UTC().Format("2006-01-02T15:04:05") + fmt.Sprintf(".%09d", timestamp.Nanosecond()) + "Z"
	return fmt.Appendf(nil, "%s%s:%s", postByCreatedPrefix, timestampStr, postID)
}

// parseCreatedKey extracts the post ID from a created-at index key.
func parseCreatedKey(key []byte) (string, error) {
	keyStr := string(key)
	if !strings.HasPrefix(keyStr, postByCreatedPrefix) {
		return "", fmt.Errorf("invalid created index key: missing prefix in %s", keyStr)
	}

	remainder := strings.TrimPrefix(keyStr, postByCreatedPrefix)

	// Timestamp format is fixed width: 2006-01-02T15:04:05.NNNNNNNNNZ = 30
	// characters. Fixed width avoids splitting on : which appears in the
	// timestamp itself.
	const timestampLen = 30
	if len(remainder) < timestampLen+2 {
		return "", fmt.Errorf("invalid created index key format: %s", keyStr)
	}

	return remainder[timestampLen+1:], nil
}

// CreatePost creates a new post and its created-at index entry.
func (s *Store) CreatePost(ctx context.Context, post *domain.Post) error {
	key := []byte(postPrefix + post.ID)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("check post exists: %w", err)
	}
	if exists {
		return ErrPostExists
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(post)
		if err != nil {
			return fmt.Errorf("marshal post: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}

		return txn.Set(formatCreatedKey(post.CreatedAt, post.ID), []byte(post.ID))
	})
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}

	if s.searchIndexer != nil {
		if err := s.searchIndexer.IndexPost(ctx, post); err != nil && s.logger != nil {
			s.logger.Warn("failed to index post", "id", post.ID, "error", err)
		}
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "post created",
			slog.String("id", post.ID),
			slog.String("title", post.Title),
			slog.String("author_id", post.AuthorID),
		)
	}
	return nil
}

// GetPost retrieves a post by ID.
func (s *Store) GetPost(_ context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	if err := s.get([]byte(postPrefix+id), &post); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &post, nil
}

// PostExists checks if a post exists by ID.
func (s *Store) PostExists(_ context.Context, id string) (bool, error) {
	return s.exists([]byte(postPrefix + id))
}

// UpdatePost replaces an existing post. The created-at index entry is stable
// because CreatedAt never changes after creation.
func (s *Store) UpdatePost(ctx context.Context, post *domain.Post) error {
	key := []byte(postPrefix + post.ID)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("check post exists: %w", err)
	}
	if !exists {
		return ErrPostNotFound
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(post)
		if err != nil {
			return fmt.Errorf("marshal post: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}

	if s.searchIndexer != nil {
		if err := s.searchIndexer.IndexPost(ctx, post); err != nil && s.logger != nil {
			s.logger.Warn("failed to reindex post", "id", post.ID, "error", err)
		}
	}

	return nil
}

// DeletePost removes a post and its index entries.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	post, err := s.GetPost(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(postPrefix + id)); err != nil {
			return err
		}
		return txn.Delete(formatCreatedKey(post.CreatedAt, id))
	})
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	if s.searchIndexer != nil {
		if err := s.searchIndexer.DeletePost(ctx, id); err != nil && s.logger != nil {
			s.logger.Warn("failed to remove post from index", "id", id, "error", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("post deleted", "id", id, "title", post.Title)
	}

	return nil
}

// IncrementShares atomically bumps a post's share counter and returns the
// new value. The read-modify-write runs inside a single transaction, so
// Badger's SSI detects concurrent increments; losers retry until the
// context is done. N concurrent calls always sum to N.
func (s *Store) IncrementShares(ctx context.Context, id string) (int64, error) {
	key := []byte(postPrefix + id)

	var shares int64
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrPostNotFound
			}
			if err != nil {
				return fmt.Errorf("get post: %w", err)
			}

			var post domain.Post
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &post)
			})
			if err != nil {
				return fmt.Errorf("unmarshal post: %w", err)
			}

			post.Shares++
			shares = post.Shares

			data, err := json.Marshal(&post)
			if err != nil {
				return fmt.Errorf("marshal post: %w", err)
			}
			return txn.Set(key, data)
		})

		if errors.Is(err, badger.ErrConflict) {
			// Linear backoff with jitter; heavy contention on one post
			// otherwise livelocks the losers.
			backoff := time.Duration(attempt+1) * time.Millisecond
			if backoff > maxTxnBackoff {
				backoff = maxTxnBackoff
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff + rand.N(backoff)):
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		return shares, nil
	}
}

// ListPosts returns one page of posts, newest first, optionally filtered by
// author and theme. Total counts all matching posts, not just the page, so
// a single reverse walk of the created-at index serves both.
func (s *Store) ListPosts(ctx context.Context, query ListQuery) (*PostPage, error) {
	query.Normalize()

	offset := (query.Page - 1) * query.Limit
	page := &PostPage{
		Posts: make([]*domain.Post, 0, query.Limit),
		Page:  query.Page,
		Limit: query.Limit,
	}

	prefix := []byte(postByCreatedPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false // Post IDs come from the key

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past every index entry.
		seekKey := append(append([]byte{}, prefix...), 0xFF)

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			postID, err := parseCreatedKey(it.Item().Key())
			if err != nil {
				return err
			}

			item, err := txn.Get([]byte(postPrefix + postID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Dangling index entry, skip it.
				continue
			}
			if err != nil {
				return fmt.Errorf("get post %s: %w", postID, err)
			}

			var post domain.Post
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &post)
			})
			if err != nil {
				return fmt.Errorf("unmarshal post %s: %w", postID, err)
			}

			if query.AuthorID != "" && post.AuthorID != query.AuthorID {
				continue
			}
			if query.Theme != "" && post.Theme != query.Theme {
				continue
			}

			if page.Total >= offset && len(page.Posts) < query.Limit {
				page.Posts = append(page.Posts, &post)
			}
			page.Total++
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	page.TotalPages = (page.Total + query.Limit - 1) / query.Limit
	return page, nil
}

// GetPostsByIDs fetches posts in the given order, silently skipping IDs that
// no longer exist. Used to hydrate search results.
func (s *Store) GetPostsByIDs(ctx context.Context, ids []string) ([]*domain.Post, error) {
	posts := make([]*domain.Post, 0, len(ids))

	for _, id := range ids {
		post, err := s.GetPost(ctx, id)
		if errors.Is(err, ErrPostNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}

	return posts, nil
}
