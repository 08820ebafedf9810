package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	list, err := s.engine.ListSessions(r.Context(), p.User.ID, p.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := mux.Vars(r)["id"]
	if err := s.engine.RevokeSession(r.Context(), p.User.ID, id, p.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) revokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	n, err := s.engine.RevokeOtherSessions(r.Context(), p.User.ID, p.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"revoked": n})
}
