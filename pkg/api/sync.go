package api

import (
	"net/http"

	"github.com/oneconcern/volsync/pkg/core"
)

// HandleDiff compares the full index of a client with the volume
func (s *Server) HandleDiff() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req diffRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		index := make([]core.IndexEntry, 0, len(req.Index))
		for _, e := range req.Index {
			index = append(index, core.IndexEntry{Path: e.Path, Digest: e.Digest, Mtime: e.Mtime, Size: e.Size})
		}
		res, err := vol.Diff(r.Context(), core.DiffRequest{Index: index, LastSyncRevision: req.LastSyncRevision})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := diffResponse{ServerRevision: res.ServerRevision, Changes: make([]change, 0, len(res.Changes))}
		for _, c := range res.Changes {
			resp.Changes = append(resp.Changes, change{
				Action:   c.Action,
				Path:     c.Path,
				Conflict: c.Conflict,
				Digest:   c.Digest,
				Size:     c.Size,
			})
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}

// HandleDelta reports the changes of the volume since a server revision.
//
// The client revision is taken from the query, or else from the body.
func (s *Server) HandleDelta() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req deltaRequest
		if query := r.URL.Query(); query.Has("clientRevision") {
			req.ClientRevision = query.Get("clientRevision")
		} else if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		res, err := vol.Delta(r.Context(), req.ClientRevision)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := deltaResponse{ServerRevision: res.ServerRevision, Changes: make([]deltaChange, 0, len(res.Changes))}
		for _, c := range res.Changes {
			resp.Changes = append(resp.Changes, deltaChange{
				Status: c.Status,
				Path:   c.Path,
				Digest: c.Digest,
				Size:   c.Size,
			})
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}
