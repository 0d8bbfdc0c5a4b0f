// Package memstore provides in-memory stores for tests and local development.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/models"
)

// Users is an in-memory user store.
type Users struct {
	mu         sync.RWMutex
	byID       map[string]models.User
	byUsername map[string]string
}

// NewUsers returns an empty Users store.
func NewUsers() *Users {
	return &Users{
		byID:       make(map[string]models.User),
		byUsername: make(map[string]string),
	}
}

// Create stores user. Usernames are unique and case-sensitive.
func (s *Users) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[user.Username]; taken {
		return db.ErrConflict
	}
	if _, taken := s.byID[user.ID]; taken {
		return db.ErrConflict
	}
	if user.ProfilePicture == "" {
		user.ProfilePicture = models.DefaultProfilePicture
	}
	s.byID[user.ID] = user
	s.byUsername[user.Username] = user.ID
	return nil
}

// FindByUsername looks up a user by exact username.
func (s *Users) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return s.byID[id], nil
}

// FindByID looks up a user by id.
func (s *Users) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return models.User{}, db.ErrNotFound
	}
	return user, nil
}

// SwapProfilePicture replaces the user's picture and returns the previous one.
func (s *Users) SwapProfilePicture(_ context.Context, userID, picture string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return "", db.ErrNotFound
	}
	previous := user.ProfilePicture
	user.ProfilePicture = picture
	user.UpdatedAt = time.Now().UTC()
	s.byID[userID] = user
	return previous, nil
}

func (s *Users) exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

func (s *Users) summary(id string) (models.UserSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	return user.Summary(), ok
}

func (s *Users) all() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.byID))
	for _, user := range s.byID {
		users = append(users, user)
	}
	return users
}
