package api

import (
	"github.com/oneconcern/volsync/pkg/core"
	"github.com/oneconcern/volsync/pkg/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

type versionResponse struct {
	Version string `json:"version"`
}

type volumeRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type volumeResponse struct {
	Name           string `json:"name"`
	ServerRevision string `json:"serverRevision,omitempty"`
}

type fileStat struct {
	Size        int64 `json:"size"`
	Mtime       int64 `json:"mtime"`
	IsDirectory bool  `json:"isDirectory"`
}

type fileListEntry struct {
	Filename string   `json:"filename"`
	Stat     fileStat `json:"stat"`
}

// putOptions are sent as the "data" field of a multipart upload
type putOptions struct {
	ParentRev string `json:"parentRev"`
	Overwrite bool   `json:"overwrite"`
}

type putResponse struct {
	Path           string `json:"path"`
	Digest         string `json:"sha1"`
	Size           int64  `json:"size"`
	ServerRevision string `json:"serverRevision"`
	FastForward    bool   `json:"fastForward"`
}

type indexEntry struct {
	Path   string `json:"path"`
	Digest string `json:"sha1"`
	Mtime  int64  `json:"mtime"`
	Size   int64  `json:"size"`
}

type diffRequest struct {
	Index            []indexEntry `json:"index"`
	LastSyncRevision string       `json:"lastSyncRevision"`
}

type change struct {
	Action   model.Action `json:"action"`
	Path     string       `json:"path"`
	Conflict bool         `json:"conflict"`
	Digest   string       `json:"sha1,omitempty"`
	Size     int64        `json:"size"`
}

type diffResponse struct {
	ServerRevision string   `json:"serverRevision"`
	Changes        []change `json:"changes"`
}

type deltaRequest struct {
	ClientRevision string `json:"clientRevision"`
}

type deltaChange struct {
	Status model.Status `json:"status"`
	Path   string       `json:"path"`
	Digest string       `json:"sha1,omitempty"`
	Size   int64        `json:"size"`
}

type deltaResponse struct {
	ServerRevision string        `json:"serverRevision"`
	Changes        []deltaChange `json:"changes"`
}

type revision struct {
	Digest string            `json:"sha1"`
	Size   int64             `json:"size"`
	Mtime  int64             `json:"mtime"`
	Author model.Contributor `json:"author"`
}

type revisionsResponse struct {
	Revisions []revision `json:"revisions"`
}

type entry struct {
	Path   string `json:"path"`
	Digest string `json:"sha1"`
	Size   int64  `json:"size"`
	Mtime  *int64 `json:"mtime,omitempty"`
}

type metadataResponse struct {
	Entries        []entry `json:"entries"`
	Hash           string  `json:"hash,omitempty"`
	ServerRevision string  `json:"serverRevision"`
}

type copyRequest struct {
	From string `json:"from_path"`
	To   string `json:"to_path"`
	Rev  string `json:"rev"`
}

type deleteRequest struct {
	Path string `json:"path"`
	Rev  string `json:"rev"`
}

type fileOpResponse struct {
	Path           string `json:"path"`
	Digest         string `json:"sha1"`
	Size           int64  `json:"size"`
	ServerRevision string `json:"serverRevision"`
}

func toFileOpResponse(res core.FileOpResult) fileOpResponse {
	return fileOpResponse{
		Path:           res.Path,
		Digest:         res.Digest,
		Size:           res.Size,
		ServerRevision: res.ServerRevision,
	}
}
