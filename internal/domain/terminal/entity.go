// internal/domain/terminal/entity.go
package terminal

import (
	"database/sql"
	"strings"
	"time"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform normalizes a platform header value. Unknown values are kept
// as given; they fail later at dispatch as a configuration error.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ios", "iphoneos", "ipados":
		return PlatformIOS
	case "android":
		return PlatformAndroid
	default:
		return Platform(strings.ToLower(strings.TrimSpace(s)))
	}
}

type Terminal struct {
	ID         int64             `json:"id" db:"id"`
	HardwareID string            `json:"hardware_id" db:"hardware_id"`
	AppBundle  string            `json:"app_bundle" db:"app_bundle"`
	Platform   Platform          `json:"platform" db:"platform"`
	PushToken  sql.NullString    `json:"push_token,omitempty" db:"push_token"`
	LastCity   sql.NullString    `json:"last_city,omitempty" db:"last_city"`
	Properties map[string]string `json:"properties,omitempty" db:"properties"`

	// Last reported position, degrees
	LastLatitude  sql.NullFloat64 `json:"last_latitude,omitempty" db:"last_latitude"`
	LastLongitude sql.NullFloat64 `json:"last_longitude,omitempty" db:"last_longitude"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPushToken reports whether the terminal can be reached by a push gateway.
func (t *Terminal) HasPushToken() bool {
	return t.PushToken.Valid && strings.TrimSpace(t.PushToken.String) != ""
}

// Identity is what a terminal-originated request carries in its headers.
type Identity struct {
	HardwareID string
	AppBundle  string
	Platform   Platform
	City       string
}

// DTOs

type RegisterPushTokenRequest struct {
	PushToken string `json:"push_token" binding:"required,max=4096"`
}

type GeopositionRequest struct {
	Latitude  float64 `json:"latitude" binding:"min=-90,max=90"`
	Longitude float64 `json:"longitude" binding:"min=-180,max=180"`
}
