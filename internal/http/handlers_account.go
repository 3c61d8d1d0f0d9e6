package http

import (
	"net/http"
	"time"

	"carelink/internal/core"
	"carelink/internal/services"
)

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	PatientName string `json:"patient_name"`
	GroupCode   string `json:"group_code"`
}

type sessionResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Caregiver caregiverJSON `json:"caregiver"`
	Patient   *patientJSON  `json:"patient,omitempty"`
}

func (req signUpRequest) toSignUp() services.SignUp {
	return services.SignUp{
		Email:       sanitizeInput(req.Email),
		Password:    req.Password,
		Name:        sanitizeInput(req.Name),
		PatientName: sanitizeInput(req.PatientName),
		GroupCode:   sanitizeInput(req.GroupCode),
	}
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.care.CreateGroup(r.Context(), req.toSignUp())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.startSession(w, r, req.Email, req.Password, m, http.StatusCreated)
}

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.care.JoinGroup(r.Context(), req.toSignUp())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.startSession(w, r, req.Email, req.Password, m, http.StatusCreated)
}

// startSession signs a freshly registered caregiver in.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, email, password string, m services.Membership, status int) {
	sess, c, err := s.care.SignIn(r.Context(), email, password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	patient := toPatientJSON(m.Patient)
	setSessionCookie(w, r, sess)
	NewResponse().Status(status).JSON(sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Caregiver: toCaregiverJSON(c),
		Patient:   &patient,
	}).Write(w)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, c, err := s.care.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setSessionCookie(w, r, sess)
	NewResponse().JSON(sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Caregiver: toCaregiverJSON(c),
	}).Write(w)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.care.SignOut(r.Context(), sessionToken(r)); err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	NewResponse().Status(http.StatusNoContent).Write(w)
}

// setSessionCookie lets the journal page and the event stream authenticate
// without a bearer header.
func setSessionCookie(w http.ResponseWriter, r *http.Request, sess core.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

type meResponse struct {
	Caregiver   caregiverJSON    `json:"caregiver"`
	Patient     patientJSON      `json:"patient"`
	Preferences core.Preferences `json:"preferences"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	patient, err := s.care.Patient(r.Context(), user.PatientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prefs, err := s.care.Preferences(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(meResponse{
		Caregiver:   toCaregiverJSON(user),
		Patient:     toPatientJSON(patient),
		Preferences: prefs,
	}).Write(w)
}

type profileRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.care.UpdateProfile(r.Context(), user.ID, sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(toCaregiverJSON(c)).Write(w)
}

type passwordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.care.ChangePassword(r.Context(), user.ID, req.Current, req.New); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	prefs, err := s.care.Preferences(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(prefs).Write(w)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	var prefs core.Preferences
	if err := decodeJSON(w, r, &prefs); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.care.SavePreferences(r.Context(), user.ID, prefs); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().JSON(prefs).Write(w)
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	members, err := s.care.TeamMembers(r.Context(), user.PatientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]caregiverJSON, len(members))
	for i, m := range members {
		out[i] = toCaregiverJSON(m)
	}
	NewResponse().JSON(map[string]any{"members": out}).Write(w)
}

type inviteRequest struct {
	Email string `json:"email"`
}

type inviteJSON struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	InvitedBy int64     `json:"invited_by"`
	CreatedAt time.Time `json:"created_at"`
}

func toInviteJSON(inv core.Invite) inviteJSON {
	return inviteJSON{ID: inv.ID, Email: inv.Email, InvitedBy: inv.InvitedBy, CreatedAt: inv.CreatedAt}
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.care.Invite(r.Context(), user, sanitizeInput(req.Email))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(toInviteJSON(inv)).Write(w)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request, user core.Caregiver) {
	invites, err := s.care.Invites(r.Context(), user.PatientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]inviteJSON, len(invites))
	for i, inv := range invites {
		out[i] = toInviteJSON(inv)
	}
	NewResponse().JSON(map[string]any{"invites": out}).Write(w)
}
