package core

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	RoleAdmin     Role = "Admin"
	RoleCaregiver Role = "Caregiver"
)

const (
	// GroupCodeLength is the number of characters in a care group invite code.
	GroupCodeLength = 6

	maxDetailsLength     = 5000
	maxNameLength        = 120
	minimumPasswordRunes = 6
	groupCodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type (
	Role string

	// Patient is the person a care group journals about.
	Patient struct {
		ID        int64
		Name      string
		GroupCode string
		CreatedAt time.Time
	}

	// Caregiver is an authenticated member of a patient's care group.
	Caregiver struct {
		ID        int64
		Email     string
		Name      string
		Role      Role
		PatientID int64
		CreatedAt time.Time
	}

	// JournalEntry is a single dated observation written by a caregiver.
	JournalEntry struct {
		ID         string
		PatientID  int64
		Timestamp  time.Time
		Details    string
		Tags       []Tag
		ImageURL   string // optional
		AuthorID   int64
		AuthorName string
	}

	// Invite records an email invitation to join a care group.
	Invite struct {
		ID        int64
		PatientID int64
		Email     string
		InvitedBy int64
		CreatedAt time.Time
	}

	// Source is a grounding citation returned alongside generated text.
	Source struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	}

	// Report is a generated summary over a date range.
	Report struct {
		ID        string
		PatientID int64
		Start     DateKey
		End       DateKey
		Text      string
		Sources   []Source
		CreatedBy int64
		CreatedAt time.Time
	}
)

var (
	ErrEmptyName        = errors.New("empty name")
	ErrNameTooLong      = errors.New("name too long (max 120 characters)")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrWeakPassword     = errors.New("password must be at least 6 characters")
	ErrEmptyEntry       = errors.New("entry needs details or at least one tag")
	ErrDetailsTooLong   = errors.New("details too long (max 5000 characters)")
	ErrMissingTimestamp = errors.New("entry timestamp is required")
	ErrInvalidGroupCode = errors.New("invalid group code")
	ErrInvalidRole      = errors.New("invalid role")
	ErrMissingPatient   = errors.New("entry must belong to a patient")
	ErrMissingAuthor    = errors.New("entry must have an author")
	ErrInvalidImageURL  = errors.New("invalid image URL")
)

func (r Role) Validate() error {
	switch r {
	case RoleAdmin, RoleCaregiver:
		return nil
	default:
		return ErrInvalidRole
	}
}

// ValidateName checks a person's display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if len([]rune(name)) > maxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateEmail checks that s is a bare email address.
func ValidateEmail(s string) error {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ValidatePassword(p string) error {
	if len([]rune(p)) < minimumPasswordRunes {
		return ErrWeakPassword
	}
	return nil
}

// NewGroupCode returns a random uppercase invite code.
func NewGroupCode() (string, error) {
	buf := make([]byte, GroupCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	code := make([]byte, GroupCodeLength)
	for i, b := range buf {
		code[i] = groupCodeAlphabet[int(b)%len(groupCodeAlphabet)]
	}
	return string(code), nil
}

// NormalizeGroupCode trims and upper-cases a user supplied code and checks its shape.
func NormalizeGroupCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != GroupCodeLength {
		return "", ErrInvalidGroupCode
	}
	for _, c := range code {
		if !strings.ContainsRune(groupCodeAlphabet, c) && c != '_' && c != '-' {
			return "", ErrInvalidGroupCode
		}
	}
	return code, nil
}

func (e JournalEntry) Validate() error {
	if e.PatientID <= 0 {
		return ErrMissingPatient
	}
	if e.AuthorID <= 0 {
		return ErrMissingAuthor
	}
	if e.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	if strings.TrimSpace(e.Details) == "" && len(e.Tags) == 0 {
		return ErrEmptyEntry
	}
	if len([]rune(e.Details)) > maxDetailsLength {
		return ErrDetailsTooLong
	}
	for _, t := range e.Tags {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if e.ImageURL != "" && !strings.HasPrefix(e.ImageURL, "/media/") &&
		!strings.HasPrefix(e.ImageURL, "https://") && !strings.HasPrefix(e.ImageURL, "http://") {
		return ErrInvalidImageURL
	}
	return nil
}

// HasTag reports whether the entry carries tag t.
func (e JournalEntry) HasTag(t Tag) bool {
	for _, have := range e.Tags {
		if have == t {
			return true
		}
	}
	return false
}

// Initials returns up to two uppercase initials for an avatar.
func Initials(name string) string {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "??"
	case 1:
		return strings.ToUpper(string([]rune(parts[0])[:1]))
	default:
		return strings.ToUpper(string([]rune(parts[0])[:1]) + string([]rune(parts[1])[:1]))
	}
}
