package api

import (
	"net/http"
)

// HandleCopy copies a file
func (s *Server) HandleCopy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req copyRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := vol.Copy(r.Context(), req.From, req.To, req.Rev, caller(r).Contributor())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, toFileOpResponse(res))
	}
}

// HandleMove moves a file
func (s *Server) HandleMove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req copyRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := vol.Move(r.Context(), req.From, req.To, req.Rev)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, toFileOpResponse(res))
	}
}

// HandleDelete deletes a file
func (s *Server) HandleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req deleteRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := vol.Delete(r.Context(), req.Path, req.Rev)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, toFileOpResponse(res))
	}
}
