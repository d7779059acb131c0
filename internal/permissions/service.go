package permissions

import (
	"context"

	"github.com/calebreyes-ai/lumina-backend/pkg/db/models"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
)

// Service exposes the permission read surface consumed by the app.
type Service struct {
	repo Repository
}

// NewService constructs the permissions service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "permissions repo required")
	}
	return &Service{repo: repo}, nil
}

// ListForProfile loads every permission record for the given profile.
func (s *Service) ListForProfile(ctx context.Context, profileID string) ([]models.UserPermission, error) {
	if profileID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "profile id is required")
	}
	records, err := s.repo.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list permissions")
	}
	return records, nil
}

// HasPermission reports whether any loaded record grants the given kind.
// Only the active flag is consulted; expiry is not re-checked at read time,
// so a lapsed subscription keeps access until the expiration event lands.
func HasPermission(records []models.UserPermission, permissionID string) bool {
	for _, record := range records {
		if record.PermissionID == permissionID && record.Active {
			return true
		}
	}
	return false
}
