package api

import (
	"net/http"

	"github.com/oneconcern/volsync/pkg/core"
)

// HandleRevisions lists the revisions of a file, newest first
func (s *Server) HandleRevisions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		revs, err := vol.Revisions(r.Context(), pathParam(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp := revisionsResponse{Revisions: make([]revision, 0, len(revs))}
		for _, rev := range revs {
			resp.Revisions = append(resp.Revisions, revision{
				Digest: rev.Digest,
				Size:   rev.Size,
				Mtime:  millis(rev.CreatedAt),
				Author: rev.Author,
			})
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}

// HandleMetadata lists a file or a directory tree.
//
// A hash matching the current listing yields a 304.
func (s *Server) HandleMetadata() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		query := r.URL.Query()
		listing, err := vol.Listing(r.Context(), pathParam(r), core.ListingOptions{
			Rev:  query.Get("rev"),
			Hash: query.Get("hash"),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		resp := metadataResponse{
			Entries:        make([]entry, 0, len(listing.Entries)),
			Hash:           listing.Hash,
			ServerRevision: listing.ServerRevision,
		}
		for _, e := range listing.Entries {
			item := entry{Path: e.Path, Digest: e.Digest, Size: e.Size}
			if e.Mtime != nil {
				mtime := millis(*e.Mtime)
				item.Mtime = &mtime
			}
			resp.Entries = append(resp.Entries, item)
		}
		s.writeJSON(w, r, http.StatusOK, resp)
	}
}
