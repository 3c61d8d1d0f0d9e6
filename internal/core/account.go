package core

import (
	"errors"
	"time"
)

const (
	DefaultFontSize = 14
	MinFontSize     = 10
	MaxFontSize     = 28
)

var ErrInvalidFontSize = errors.New("font size must be between 10 and 28")

// Session binds an opaque bearer token to a caregiver until ExpiresAt.
type Session struct {
	Token       string
	CaregiverID int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Preferences holds per-caregiver display settings.
type Preferences struct {
	FontSize int `json:"font_size"`
}

func DefaultPreferences() Preferences {
	return Preferences{FontSize: DefaultFontSize}
}

func (p Preferences) Validate() error {
	if p.FontSize < MinFontSize || p.FontSize > MaxFontSize {
		return ErrInvalidFontSize
	}
	return nil
}
