package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/inkwellapp/inkwell-server/internal/domain"
)

// User operations wrap the generic Users entity and translate its errors
// into user-specific sentinels.

// CreateUser creates a new user. Returns ErrUsernameTaken when the username
// index already has an entry, case-insensitively.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if err := s.Users.Create(ctx, user.ID, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user created", "id", user.ID, "username", user.Username)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.Users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username, case-insensitively.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.Users.GetByIndex(ctx, "username", username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return user, nil
}

// UpdateUser replaces an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *domain.User) error {
	if err := s.Users.Update(ctx, user.ID, user); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotFound
		}
		if errors.Is(err, ErrAlreadyExists) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// UsernameExists checks whether a username is already registered.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := s.Users.GetByIndex(ctx, "username", username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
