package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/storage"
)

const (
	sessionTokenBytes = 32
	groupCodeAttempts = 5
	DefaultSessionTTL = 30 * 24 * time.Hour
)

// AccountStore is the part of storage the care group service needs.
type AccountStore interface {
	storage.PatientStore
	storage.CaregiverStore
	storage.SessionStore
	storage.InviteStore
	storage.PreferenceStore
}

// SignUp carries the fields of both sign-up flows. PatientName is used when
// creating a group, GroupCode when joining one.
type SignUp struct {
	Email       string
	Password    string
	Name        string
	PatientName string
	GroupCode   string
}

// Membership is a caregiver together with the patient of their group.
type Membership struct {
	Caregiver core.Caregiver
	Patient   core.Patient
}

// CareGroupService manages care groups, caregiver accounts and sessions.
type CareGroupService struct {
	store      AccountStore
	sessionTTL time.Duration
	now        func() time.Time
	hashCost   int
}

func NewCareGroupService(store AccountStore, sessionTTL time.Duration) *CareGroupService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &CareGroupService{
		store:      store,
		sessionTTL: sessionTTL,
		now:        time.Now,
		hashCost:   bcrypt.DefaultCost,
	}
}

func (s *CareGroupService) validateSignUp(in SignUp) (email string, err error) {
	email = core.NormalizeEmail(in.Email)
	if err := core.ValidateEmail(email); err != nil {
		return "", err
	}
	if err := core.ValidatePassword(in.Password); err != nil {
		return "", err
	}
	if err := core.ValidateName(in.Name); err != nil {
		return "", err
	}
	return email, nil
}

func (s *CareGroupService) ensureEmailFree(ctx context.Context, email string) error {
	_, _, err := s.store.CaregiverByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailTaken
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("look up caregiver: %w", err)
	}
}

// CreateGroup registers a patient with a fresh invite code and makes the
// signing-up caregiver its Admin.
func (s *CareGroupService) CreateGroup(ctx context.Context, in SignUp) (Membership, error) {
	email, err := s.validateSignUp(in)
	if err != nil {
		return Membership{}, err
	}
	patientName := strings.TrimSpace(in.PatientName)
	if err := core.ValidateName(patientName); err != nil {
		return Membership{}, fmt.Errorf("patient name: %w", err)
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return Membership{}, err
	}

	var patient core.Patient
	for attempt := 1; ; attempt++ {
		code, err := core.NewGroupCode()
		if err != nil {
			return Membership{}, fmt.Errorf("generate group code: %w", err)
		}
		patient, err = s.store.CreatePatient(ctx, patientName, code)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicate) || attempt >= groupCodeAttempts {
			return Membership{}, fmt.Errorf("create patient: %w", err)
		}
	}

	caregiver, err := s.createCaregiver(ctx, email, in, core.RoleAdmin, patient.ID)
	if err != nil {
		// The group has no member; drop it so its code is not left dangling.
		if delErr := s.store.DeletePatient(context.WithoutCancel(ctx), patient.ID); delErr != nil {
			slog.ErrorContext(ctx, "Failed to remove patient of failed sign-up",
				applog.FieldPatientID, patient.ID,
				applog.FieldError, delErr)
		}
		return Membership{}, err
	}

	slog.InfoContext(ctx, "Care group created",
		applog.FieldPatientID, patient.ID,
		applog.FieldCaregiverID, caregiver.ID)

	return Membership{Caregiver: caregiver, Patient: patient}, nil
}

// JoinGroup adds a caregiver to the group identified by code.
func (s *CareGroupService) JoinGroup(ctx context.Context, in SignUp) (Membership, error) {
	email, err := s.validateSignUp(in)
	if err != nil {
		return Membership{}, err
	}
	code, err := core.NormalizeGroupCode(in.GroupCode)
	if err != nil {
		return Membership{}, err
	}

	patient, err := s.store.PatientByGroupCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return Membership{}, core.ErrInvalidGroupCode
	}
	if err != nil {
		return Membership{}, fmt.Errorf("find group: %w", err)
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return Membership{}, err
	}

	caregiver, err := s.createCaregiver(ctx, email, in, core.RoleCaregiver, patient.ID)
	if err != nil {
		return Membership{}, err
	}

	slog.InfoContext(ctx, "Caregiver joined group",
		applog.FieldPatientID, patient.ID,
		applog.FieldCaregiverID, caregiver.ID)

	return Membership{Caregiver: caregiver, Patient: patient}, nil
}

func (s *CareGroupService) createCaregiver(ctx context.Context, email string, in SignUp, role core.Role, patientID int64) (core.Caregiver, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return core.Caregiver{}, fmt.Errorf("hash password: %w", err)
	}
	c, err := s.store.CreateCaregiver(ctx, core.Caregiver{
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Role:      role,
		PatientID: patientID,
	}, string(hash))
	if errors.Is(err, storage.ErrDuplicate) {
		return core.Caregiver{}, ErrEmailTaken
	}
	if err != nil {
		return core.Caregiver{}, fmt.Errorf("create caregiver: %w", err)
	}
	return c, nil
}

// SignIn checks the credentials and opens a session.
func (s *CareGroupService) SignIn(ctx context.Context, email, password string) (core.Session, core.Caregiver, error) {
	c, hash, err := s.store.CaregiverByEmail(ctx, core.NormalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return core.Session{}, core.Caregiver{}, ErrInvalidCredentials
	}
	if err != nil {
		return core.Session{}, core.Caregiver{}, fmt.Errorf("look up caregiver: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		slog.WarnContext(ctx, "Sign-in rejected", applog.FieldCaregiverID, c.ID)
		return core.Session{}, core.Caregiver{}, ErrInvalidCredentials
	}

	token, err := newSessionToken()
	if err != nil {
		return core.Session{}, core.Caregiver{}, err
	}
	now := s.now().UTC()
	sess := core.Session{
		Token:       token,
		CaregiverID: c.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return core.Session{}, core.Caregiver{}, fmt.Errorf("create session: %w", err)
	}
	return sess, c, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SignOut ends a session. Unknown tokens are ignored.
func (s *CareGroupService) SignOut(ctx context.Context, token string) error {
	err := s.store.DeleteSession(ctx, token)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CurrentUser resolves a session token to its caregiver.
func (s *CareGroupService) CurrentUser(ctx context.Context, token string) (core.Caregiver, error) {
	if token == "" {
		return core.Caregiver{}, ErrUnauthenticated
	}
	sess, err := s.store.Session(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Caregiver{}, ErrUnauthenticated
	}
	if err != nil {
		return core.Caregiver{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.store.DeleteSession(ctx, token)
		return core.Caregiver{}, ErrUnauthenticated
	}

	c, err := s.store.Caregiver(ctx, sess.CaregiverID)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Caregiver{}, ErrUnauthenticated
	}
	if err != nil {
		return core.Caregiver{}, fmt.Errorf("load caregiver: %w", err)
	}
	return c, nil
}

// PurgeExpiredSessions deletes sessions past their expiry.
func (s *CareGroupService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired sessions purged", "count", n)
	}
	return n, nil
}

func (s *CareGroupService) Patient(ctx context.Context, patientID int64) (core.Patient, error) {
	p, err := s.store.Patient(ctx, patientID)
	if err != nil {
		return core.Patient{}, fmt.Errorf("load patient: %w", err)
	}
	return p, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *CareGroupService) ChangePassword(ctx context.Context, caregiverID int64, current, next string) error {
	hash, err := s.store.PasswordHash(ctx, caregiverID)
	if err != nil {
		return fmt.Errorf("load password hash: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if err := core.ValidatePassword(next); err != nil {
		return err
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePasswordHash(ctx, caregiverID, string(newHash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	slog.InfoContext(ctx, "Password changed", applog.FieldCaregiverID, caregiverID)
	return nil
}

func (s *CareGroupService) UpdateProfile(ctx context.Context, caregiverID int64, name string) (core.Caregiver, error) {
	name = strings.TrimSpace(name)
	if err := core.ValidateName(name); err != nil {
		return core.Caregiver{}, err
	}
	if err := s.store.UpdateCaregiverName(ctx, caregiverID, name); err != nil {
		return core.Caregiver{}, fmt.Errorf("update name: %w", err)
	}
	return s.store.Caregiver(ctx, caregiverID)
}

func (s *CareGroupService) TeamMembers(ctx context.Context, patientID int64) ([]core.Caregiver, error) {
	members, err := s.store.ListCaregivers(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list caregivers: %w", err)
	}
	return members, nil
}

// Invite records an invitation. Delivery is left to the group's own channels;
// the invitee joins with the group code.
func (s *CareGroupService) Invite(ctx context.Context, inviter core.Caregiver, email string) (core.Invite, error) {
	email = core.NormalizeEmail(email)
	if err := core.ValidateEmail(email); err != nil {
		return core.Invite{}, err
	}
	inv, err := s.store.CreateInvite(ctx, core.Invite{
		PatientID: inviter.PatientID,
		Email:     email,
		InvitedBy: inviter.ID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return core.Invite{}, fmt.Errorf("create invite: %w", err)
	}
	slog.InfoContext(ctx, "Invitation recorded",
		applog.FieldPatientID, inviter.PatientID,
		applog.FieldCaregiverID, inviter.ID)
	return inv, nil
}

func (s *CareGroupService) Invites(ctx context.Context, patientID int64) ([]core.Invite, error) {
	invites, err := s.store.ListInvites(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	return invites, nil
}

func (s *CareGroupService) Preferences(ctx context.Context, caregiverID int64) (core.Preferences, error) {
	p, err := s.store.Preferences(ctx, caregiverID)
	if err != nil {
		return core.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return p, nil
}

func (s *CareGroupService) SavePreferences(ctx context.Context, caregiverID int64, p core.Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.store.SavePreferences(ctx, caregiverID, p); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
