package enums

import (
	"fmt"
	"strings"
)

// Platform identifies which store a purchase originated from.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

var validPlatforms = []Platform{
	PlatformIOS,
	PlatformAndroid,
}

// String implements fmt.Stringer.
func (p Platform) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p Platform) IsValid() bool {
	for _, candidate := range validPlatforms {
		if candidate == p {
			return true
		}
	}
	return false
}

// Store returns the canonical store label persisted on permission records.
func (p Platform) Store() string {
	switch p {
	case PlatformIOS:
		return "app_store"
	case PlatformAndroid:
		return "play_store"
	default:
		return string(p)
	}
}

// ParsePlatform converts raw input into a Platform.
func ParsePlatform(value string) (Platform, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPlatforms {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid platform %q", value)
}
