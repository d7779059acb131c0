package enums

import "fmt"

// PermissionStatus labels the last lifecycle transition applied to a permission record.
// It lives in the record's metadata, not in a dedicated column.
type PermissionStatus string

const (
	PermissionStatusActive    PermissionStatus = "active"
	PermissionStatusCancelled PermissionStatus = "cancelled"
	PermissionStatusExpired   PermissionStatus = "expired"
)

var validPermissionStatuses = []PermissionStatus{
	PermissionStatusActive,
	PermissionStatusCancelled,
	PermissionStatusExpired,
}

// String implements fmt.Stringer.
func (s PermissionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s PermissionStatus) IsValid() bool {
	for _, candidate := range validPermissionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePermissionStatus converts raw input into a PermissionStatus.
func ParsePermissionStatus(value string) (PermissionStatus, error) {
	for _, candidate := range validPermissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid permission status %q", value)
}
