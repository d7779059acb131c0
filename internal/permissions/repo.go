package permissions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calebreyes-ai/lumina-backend/pkg/db/models"
)

// Repository handles permission record persistence. Records are keyed by
// (profile_id, permission_id); Upsert is the only write path so at most one
// row ever exists per pair and reprocessing an event is a safe overwrite.
type Repository interface {
	Find(ctx context.Context, profileID, permissionID string) (*models.UserPermission, error)
	ListByProfile(ctx context.Context, profileID string) ([]models.UserPermission, error)
	Upsert(ctx context.Context, record *models.UserPermission) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a permissions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Find(ctx context.Context, profileID, permissionID string) (*models.UserPermission, error) {
	if profileID == "" || permissionID == "" {
		return nil, nil
	}
	var record models.UserPermission
	if err := r.db.WithContext(ctx).
		Where("profile_id = ? AND permission_id = ?", profileID, permissionID).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByProfile(ctx context.Context, profileID string) ([]models.UserPermission, error) {
	var records []models.UserPermission
	if err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Order("permission_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) Upsert(ctx context.Context, record *models.UserPermission) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "profile_id"}, {Name: "permission_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"active", "expires_at", "product_id", "platform",
				"revenuecat_user_id", "metadata", "updated_at",
			}),
		}).
		Create(record).Error
}
