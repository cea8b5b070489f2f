package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oneconcern/volsync/pkg/core"
)

// HandleVolumeCreate creates a volume owned by the caller
func (s *Server) HandleVolumeCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req volumeRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		vol, err := s.params.Volumes.Create(r.Context(), caller(r).Contributor(), req.Name, req.Password)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusCreated, volumeResponse{Name: vol.Name(), ServerRevision: vol.ServerRevision()})
	}
}

// HandleVolumeList lists the volumes of the caller
func (s *Server) HandleVolumeList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := s.params.Volumes.List(r.Context(), caller(r).Name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := make([]volumeResponse, 0, len(names))
		for _, name := range names {
			resp = append(resp, volumeResponse{Name: name})
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}

// HandleVolumeListFiles lists the immediate children of a directory
func (s *Server) HandleVolumeListFiles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		children, err := vol.ListDir(r.Context(), pathParam(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := make([]fileListEntry, 0, len(children))
		for _, child := range children {
			resp = append(resp, toFileListEntry(child))
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}

func toFileListEntry(child core.DirEntry) fileListEntry {
	return fileListEntry{
		Filename: child.Name,
		Stat: fileStat{
			Size:        child.Size,
			Mtime:       millis(child.Mtime),
			IsDirectory: child.IsDir,
		},
	}
}

// HandleVolumeDelete destroys a volume, given its password
func (s *Server) HandleVolumeDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req volumeRequest
		if err := s.readJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		name := chi.URLParam(r, "volume")
		if err := s.params.Volumes.Destroy(r.Context(), caller(r).Name, name, req.Password); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, volumeResponse{Name: name})
	}
}
