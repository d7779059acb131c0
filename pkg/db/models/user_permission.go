package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/calebreyes-ai/lumina-backend/pkg/db/types"
	"github.com/calebreyes-ai/lumina-backend/pkg/enums"
)

// UserPermission persists one user's standing for one entitlement kind.
// At most one row exists per (profile_id, permission_id); lifecycle events
// mutate the row in place and expiration flips Active without deleting it.
type UserPermission struct {
	ID               uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID        string          `gorm:"column:profile_id;not null;uniqueIndex:idx_user_permissions_profile_permission"`
	PermissionID     string          `gorm:"column:permission_id;not null;uniqueIndex:idx_user_permissions_profile_permission"`
	Active           bool            `gorm:"column:active;not null;default:false"`
	ExpiresAt        *time.Time      `gorm:"column:expires_at"`
	ProductID        string          `gorm:"column:product_id"`
	Platform         enums.Platform  `gorm:"column:platform"`
	RevenueCatUserID string          `gorm:"column:revenuecat_user_id"`
	Metadata         dbtypes.JSONMap `gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name used by migrations.
func (UserPermission) TableName() string {
	return "user_permissions"
}
