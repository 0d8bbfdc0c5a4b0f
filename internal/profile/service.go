// Package profile manages user profile pictures.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/logging"
	"github.com/invis/backend/internal/models"
	"github.com/invis/backend/internal/realtime"
	"github.com/invis/backend/internal/storage"
)

// DefaultMaxBytes caps uploads when no explicit limit is configured.
const DefaultMaxBytes int64 = 5 << 20

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// PictureStore persists the picture reference of a user.
type PictureStore interface {
	// SwapProfilePicture stores picture and returns the previous value.
	SwapProfilePicture(ctx context.Context, userID, picture string) (string, error)
}

// FriendLister lists the friends of a user.
type FriendLister interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// Deleter schedules removal of an object that is no longer referenced.
type Deleter interface {
	Enqueue(ctx context.Context, key string) error
}

// Service uploads profile pictures and replaces the stored reference.
type Service struct {
	users    PictureStore
	objects  storage.ObjectStore
	cleanup  Deleter
	friends  FriendLister
	notifier realtime.Notifier
	maxBytes int64
	newID    func() string
}

// Config wires the collaborators of a Service.
type Config struct {
	Users    PictureStore
	Objects  storage.ObjectStore
	Cleanup  Deleter
	Friends  FriendLister
	Notifier realtime.Notifier
	MaxBytes int64
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Users == nil || cfg.Objects == nil {
		return nil, fmt.Errorf("profile: users and objects are required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Notifier == nil {
		cfg.Notifier = realtime.NopNotifier{}
	}
	return &Service{
		users:    cfg.Users,
		objects:  cfg.Objects,
		cleanup:  cfg.Cleanup,
		friends:  cfg.Friends,
		notifier: cfg.Notifier,
		maxBytes: cfg.MaxBytes,
		newID:    uuid.NewString,
	}, nil
}

// MaxBytes reports the upload size limit.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// URL maps a stored picture reference to a client-facing location.
func (s *Service) URL(picture string) string {
	if strings.TrimSpace(picture) == "" {
		picture = models.DefaultProfilePicture
	}
	return s.objects.URL(picture)
}

// Replace uploads a new picture for userID, swaps the stored reference and
// schedules deletion of the previous upload. It returns the new picture URL.
func (s *Service) Replace(ctx context.Context, userID string, r io.Reader, declaredType string) (string, error) {
	ctx, span := logging.StartSpan(ctx, "profile.replace")
	defer span.End()

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		span.Fail(err)
		return "", apperr.Validation("could not read upload")
	}
	if len(data) == 0 {
		return "", apperr.Validation("file is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return "", apperr.Validation(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	contentType := http.DetectContentType(data)
	ext, ok := extensions[contentType]
	if !ok {
		return "", apperr.Validation("only jpeg and png images are accepted")
	}
	if declared := strings.TrimSpace(declaredType); declared != "" && declared != contentType {
		logging.FromContext(ctx).Warn("declared content type differs from upload", "declared", declared, "detected", contentType)
	}

	key := fmt.Sprintf("profile/%s/%s.%s", userID, s.newID(), ext)
	key, err = s.objects.Save(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		span.Fail(err)
		return "", apperr.Internal(fmt.Errorf("save picture: %w", err))
	}

	previous, err := s.users.SwapProfilePicture(ctx, userID, key)
	if err != nil {
		span.Fail(err)
		s.discard(ctx, key)
		if errors.Is(err, db.ErrNotFound) {
			return "", apperr.NotFound("user not found")
		}
		return "", apperr.Internal(fmt.Errorf("swap picture: %w", err))
	}

	if previous != "" && previous != models.DefaultProfilePicture && previous != key {
		s.discard(ctx, previous)
	}

	s.notifier.Notify(ctx, userID, realtime.Event{Kind: realtime.UpdateNavbar})
	s.notifyFriends(ctx, userID)

	return s.objects.URL(key), nil
}

func (s *Service) discard(ctx context.Context, key string) {
	if s.cleanup == nil {
		return
	}
	if err := s.cleanup.Enqueue(context.WithoutCancel(ctx), key); err != nil {
		logging.FromContext(ctx).Warn("schedule picture deletion", "key", key, "error", err)
	}
}

func (s *Service) notifyFriends(ctx context.Context, userID string) {
	if s.friends == nil {
		return
	}
	ids, err := s.friends.FriendIDs(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Warn("list friends for picture update", "error", err)
		return
	}
	for _, id := range ids {
		s.notifier.Notify(ctx, id, realtime.Event{Kind: realtime.FriendsListReload})
	}
}
