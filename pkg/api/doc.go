// Package api exposes volumes over HTTP.
//
// All routes live under /api/v1 and require a caller identity, except
// the version and health endpoints. Request and response bodies are JSON,
// except file contents which travel as raw bytes or multipart uploads.
package api
