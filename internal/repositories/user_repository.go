package repositories

import (
	"context"

	"github.com/invis/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	// SwapProfilePicture stores picture and returns the value it replaced.
	SwapProfilePicture(ctx context.Context, userID, picture string) (string, error)
}
