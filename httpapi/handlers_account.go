package httpapi

import (
	"net/http"
)

type codeRequest struct {
	Code string `json:"code"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConsumeRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) twoFactorSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := s.engine.BeginTwoFactorEnrollment(r.Context(), principal(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, setup)
}

func (s *Server) twoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	codes, err := s.engine.ConfirmTwoFactorEnrollment(r.Context(), principal(r).User.ID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"backupCodes": codes})
}

func (s *Server) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.engine.TwoFactorStatus(r.Context(), principal(r).User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) twoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.DisableTwoFactor(r.Context(), principal(r).User.ID, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestPasswordReset answers identically for known and unknown emails.
func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the address is registered, a reset link has been sent.",
	})
}

func (s *Server) consumePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConsumeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.ConsumePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.ChangePassword(r.Context(), principal(r).User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.VerifyEmail(r.Context(), principal(r).User.ID, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResendEmailVerification(r.Context(), principal(r).User.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
