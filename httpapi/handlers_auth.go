package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/middleware"
	"github.com/MrEthical07/marketauth/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorLoginRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

type sessionView struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type authResponse struct {
	User              *marketauth.User `json:"user,omitempty"`
	Session           *sessionView     `json:"session,omitempty"`
	EmailVerified     bool             `json:"emailVerified"`
	IsVendor          bool             `json:"isVendor"`
	TwoFactorRequired bool             `json:"twoFactorRequired"`
	Ticket            string           `json:"ticket,omitempty"`
	TicketExpiresAt   *time.Time       `json:"ticketExpiresAt,omitempty"`
}

// writeLogin sets the session cookie when res carries a session and renders
// the login outcome. The raw token only travels in the cookie.
func (s *Server) writeLogin(w http.ResponseWriter, status int, res *marketauth.LoginResult) {
	body := authResponse{
		User:              res.User,
		EmailVerified:     res.EmailVerified,
		IsVendor:          res.IsVendor,
		TwoFactorRequired: res.TwoFactorRequired,
	}
	if res.TwoFactorRequired {
		exp := res.TicketExpiresAt
		body.Ticket = res.Ticket
		body.TicketExpiresAt = &exp
	}
	if res.Session != nil {
		s.setSessionCookie(w, res.Session, s.now())
		body.Session = viewSession(res.Session)
	}
	respondJSON(w, status, body)
}

func viewSession(sess *session.Session) *sessionView {
	return &sessionView{ID: sess.ID, ExpiresAt: sess.ExpiresAt}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req marketauth.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Register(r.Context(), req, "", "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, http.StatusCreated, res)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.Login(r.Context(), req.Email, req.Password, "", "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, http.StatusOK, res)
}

func (s *Server) loginTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.CompleteTwoFactorLogin(r.Context(), req.Ticket, req.Code, "", "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLogin(w, http.StatusOK, res)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, principal(r).User)
}

// logout always clears the cookie, even when no session was found.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromRequest(r, s.cookieName)
	if err := s.engine.Logout(r.Context(), token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
