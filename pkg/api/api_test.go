package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/identity"
	"github.com/oneconcern/volsync/pkg/model"
	"github.com/oneconcern/volsync/pkg/provision"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUser     = "admin"
	testPassword = "admin"
	testEmail    = "silly@me.com"
	testVolume   = "testvolume"

	readmeDigest = "100b93820ade4c16225673b4ca62bb3ade63c313"
	blahDigest   = "e3f27b2dbefe2f9c5efece6bdbc0f44e9fb8875a"
	blah2Digest  = "321f24c9a2669b35cd2df0cab5c42b2bb2958e9a"
	blah3Digest  = "fc0443d1b179974e052f5c8982f6adb41edbaf57"
)

type testClient struct {
	t       testing.TB
	baseURL string
	user    string
	pass    string
}

func newTestServer(t testing.TB, maxUpload string) *testClient {
	p := provision.NewLocal("/data", provision.WithFs(afero.NewMemMapFs()), provision.BcryptCost(bcrypt.MinCost))
	m := provision.NewManager(p, provision.MemoryStore(nil))
	t.Cleanup(func() { _ = m.Close() })

	srv, err := NewServer(ServerParams{
		Version:       "1.2.3",
		MaxUploadSize: maxUpload,
		Identity: identity.NewStatic([]identity.User{
			{Name: testUser, Email: testEmail, Password: "plain:" + testPassword},
			{Name: "other", Email: "other@me.com", Password: "plain:other"},
		}),
		Volumes: m,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(InitRouter(srv))
	t.Cleanup(ts.Close)

	return &testClient{t: t, baseURL: ts.URL, user: testUser, pass: testPassword}
}

func (c *testClient) as(user, pass string) *testClient {
	return &testClient{t: c.t, baseURL: c.baseURL, user: user, pass: pass}
}

func (c *testClient) do(method, path string, body io.Reader, contentType string, headers ...string) (*http.Response, []byte) {
	req, err := http.NewRequestWithContext(context.Background(), method, c.baseURL+path, body)
	require.NoError(c.t, err)
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer func() { _ = resp.Body.Close() }()

	buf, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, buf
}

func (c *testClient) get(path string, headers ...string) (*http.Response, []byte) {
	return c.do(http.MethodGet, path, nil, "", headers...)
}

func (c *testClient) post(path string, payload interface{}) (*http.Response, []byte) {
	if payload == nil {
		return c.do(http.MethodPost, path, nil, "")
	}
	buf, err := json.Marshal(payload)
	require.NoError(c.t, err)
	return c.do(http.MethodPost, path, bytes.NewReader(buf), "application/json")
}

func (c *testClient) upload(path string, data interface{}, content string) (*http.Response, []byte) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	opts, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, w.WriteField(dataField, string(opts)))
	part, err := w.CreateFormFile(fileField, "upload")
	require.NoError(c.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(c.t, err)
	require.NoError(c.t, w.Close())

	return c.do(http.MethodPut, path, &body, w.FormDataContentType())
}

func decode(t testing.TB, buf []byte, target interface{}) {
	require.NoErrorf(t, json.Unmarshal(buf, target), "body: %s", string(buf))
}

func TestUnauthenticated(t *testing.T) {
	c := newTestServer(t, "")
	anonymous := c.as("", "")

	resp, _ := anonymous.get("/random")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp, _ = anonymous.get(Prefix + "/volume/list")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = c.as(testUser, "wrong").get(Prefix + "/volume/list")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = anonymous.get("/metrics")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = c.get("/random")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = anonymous.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, buf := anonymous.get(Prefix + "/version")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var version versionResponse
	decode(t, buf, &version)
	assert.Equal(t, "1.2.3", version.Version)

	resp, buf = c.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(buf), "volsync_")
}

func TestVolumeLifecycle(t *testing.T) {
	c := newTestServer(t, "")

	resp, _ := c.post(Prefix+"/volume/create", volumeRequest{Name: testVolume})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.post(Prefix+"/volume/create", volumeRequest{Name: testVolume, Password: testPassword})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = c.post(Prefix+"/volume/create", volumeRequest{Name: testVolume, Password: testPassword})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, buf := c.get(Prefix + "/volume/list")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var volumes []volumeResponse
	decode(t, buf, &volumes)
	require.Len(t, volumes, 1)
	assert.Equal(t, testVolume, volumes[0].Name)

	// volumes are private to their owner
	resp, buf = c.as("other", "other").get(Prefix + "/volume/list")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(buf))
	resp, _ = c.as("other", "other").get(Prefix + "/file/" + testVolume + "/README.md")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, buf = c.get(Prefix + "/volume/" + testVolume + "/list/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []fileListEntry
	decode(t, buf, &files)
	require.Len(t, files, 1)
	assert.Equal(t, "README.md", files[0].Filename)
	assert.Equal(t, int64(6), files[0].Stat.Size)
	assert.False(t, files[0].Stat.IsDirectory)
	assert.NotZero(t, files[0].Stat.Mtime)

	resp, _ = c.post(Prefix+"/volume/"+testVolume+"/delete", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.post(Prefix+"/volume/"+testVolume+"/delete", volumeRequest{Password: "wrong"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = c.post(Prefix+"/volume/"+testVolume+"/delete", volumeRequest{Password: testPassword})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.get(Prefix + "/file/whatever/volume")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = c.get(Prefix + "/file/" + testVolume + "/README.md")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFilesSubdirectory(t *testing.T) {
	c := newTestServer(t, "")
	resp, _ := c.post(Prefix+"/volume/create", volumeRequest{Name: testVolume, Password: testPassword})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = c.upload(Prefix+"/file/"+testVolume+"/docs/a/b.txt", putOptions{}, "b")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = c.upload(Prefix+"/file/"+testVolume+"/docs/c.txt", putOptions{}, "cc")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, buf := c.get(Prefix + "/volume/" + testVolume + "/list/docs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []fileListEntry
	decode(t, buf, &files)
	require.Len(t, files, 2)
	assert.Equal(t, "a", files[0].Filename)
	assert.True(t, files[0].Stat.IsDirectory)
	assert.Equal(t, "c.txt", files[1].Filename)
	assert.Equal(t, int64(2), files[1].Stat.Size)

	resp, _ = c.get(Prefix + "/volume/" + testVolume + "/list/docs/c.txt")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.get(Prefix + "/volume/" + testVolume + "/list/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFileSync(t *testing.T) {
	c := newTestServer(t, "")
	resp, _ := c.post(Prefix+"/volume/create", volumeRequest{Name: testVolume, Password: testPassword})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	files := Prefix + "/file/" + testVolume + "/"
	var serverRevision, newFileRev string

	t.Run("read", func(t *testing.T) {
		resp, buf := c.get(files + "README.md")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "README", string(buf))
		assert.Equal(t, `"`+readmeDigest+`"`, resp.Header.Get("ETag"))

		resp, _ = c.get(files+"README.md", "If-None-Match", `"`+readmeDigest+`"`)
		assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	})

	t.Run("put - add", func(t *testing.T) {
		resp, buf := c.upload(files+"NEWFILE", putOptions{}, "BLAH BLAH")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var res putResponse
		decode(t, buf, &res)
		assert.Equal(t, blahDigest, res.Digest)
		assert.Equal(t, "NEWFILE", res.Path)
		assert.NotEmpty(t, res.ServerRevision)
		newFileRev, serverRevision = res.Digest, res.ServerRevision
	})

	t.Run("diff", func(t *testing.T) {
		resp, buf := c.post(Prefix+"/sync/"+testVolume+"/diff", diffRequest{
			Index:            []indexEntry{{Path: "NEWFILE", Digest: "", Mtime: 10, Size: 20}},
			LastSyncRevision: serverRevision,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res diffResponse
		decode(t, buf, &res)
		assert.NotEmpty(t, res.ServerRevision)
		require.Len(t, res.Changes, 2)
		assert.Equal(t, model.ActionUpdate, res.Changes[0].Action)
		assert.Equal(t, "NEWFILE", res.Changes[0].Path)
		assert.Equal(t, model.ActionRemove, res.Changes[1].Action)
		assert.Equal(t, "README.md", res.Changes[1].Path)
		assert.False(t, res.Changes[1].Conflict)
	})

	t.Run("put - update", func(t *testing.T) {
		resp, buf := c.upload(files+"NEWFILE", putOptions{ParentRev: newFileRev}, "BLAH BLAH2")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var res putResponse
		decode(t, buf, &res)
		assert.Equal(t, blah2Digest, res.Digest)
		assert.True(t, res.FastForward)
		assert.NotEqual(t, serverRevision, res.ServerRevision)
		newFileRev, serverRevision = res.Digest, res.ServerRevision
	})

	t.Run("delta - virgin client", func(t *testing.T) {
		resp, buf := c.post(Prefix+"/sync/"+testVolume+"/delta", deltaRequest{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res deltaResponse
		decode(t, buf, &res)
		assert.Equal(t, serverRevision, res.ServerRevision)
		require.Len(t, res.Changes, 2)
		assert.Equal(t, model.StatusAdded, res.Changes[0].Status)
		assert.Equal(t, "NEWFILE", res.Changes[0].Path)
		assert.Equal(t, blah2Digest, res.Changes[0].Digest)
		assert.Equal(t, model.StatusAdded, res.Changes[1].Status)
		assert.Equal(t, "README.md", res.Changes[1].Path)
	})

	t.Run("delta - up to date client", func(t *testing.T) {
		resp, buf := c.post(Prefix+"/sync/"+testVolume+"/delta?clientRevision="+serverRevision, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res deltaResponse
		decode(t, buf, &res)
		assert.Equal(t, serverRevision, res.ServerRevision)
		assert.Empty(t, res.Changes)
	})

	t.Run("delta - unknown revision", func(t *testing.T) {
		resp, _ := c.post(Prefix+"/sync/"+testVolume+"/delta", deltaRequest{ClientRevision: "not-a-revision"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("revisions", func(t *testing.T) {
		resp, buf := c.get(Prefix + "/revisions/" + testVolume + "/NEWFILE")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res revisionsResponse
		decode(t, buf, &res)
		require.Len(t, res.Revisions, 2)
		assert.Equal(t, blah2Digest, res.Revisions[0].Digest)
		assert.Equal(t, int64(10), res.Revisions[0].Size)
		assert.Equal(t, blahDigest, res.Revisions[1].Digest)
		assert.Equal(t, int64(9), res.Revisions[1].Size)
		for _, rev := range res.Revisions {
			assert.Equal(t, testUser, rev.Author.Name)
			assert.Equal(t, testEmail, rev.Author.Email)
			assert.NotZero(t, rev.Mtime)
		}

		resp, _ = c.get(Prefix + "/revisions/" + testVolume + "/MISSING")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	metadata := Prefix + "/metadata/" + testVolume + "/"
	var treeHash string

	t.Run("metadata - root, no rev", func(t *testing.T) {
		resp, buf := c.get(metadata)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res metadataResponse
		decode(t, buf, &res)
		require.Len(t, res.Entries, 2)
		assert.Equal(t, "NEWFILE", res.Entries[0].Path)
		assert.NotNil(t, res.Entries[0].Mtime)
		assert.Equal(t, int64(len("BLAH BLAH2")), res.Entries[0].Size)
		assert.Equal(t, "README.md", res.Entries[1].Path)
		assert.NotNil(t, res.Entries[1].Mtime)
		require.NotEmpty(t, res.Hash)
		treeHash = res.Hash
	})

	t.Run("metadata - root, no rev, hash", func(t *testing.T) {
		resp, buf := c.get(metadata + "?hash=" + treeHash)
		assert.Equal(t, http.StatusNotModified, resp.StatusCode)
		assert.Empty(t, buf)
	})

	t.Run("metadata - file, no rev", func(t *testing.T) {
		resp, buf := c.get(metadata + "NEWFILE")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res metadataResponse
		decode(t, buf, &res)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "NEWFILE", res.Entries[0].Path)
		assert.NotNil(t, res.Entries[0].Mtime)
		assert.Equal(t, blah2Digest, res.Hash)
	})

	t.Run("metadata - file, rev", func(t *testing.T) {
		resp, buf := c.get(metadata + "NEWFILE?rev=HEAD")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res map[string]interface{}
		decode(t, buf, &res)
		_, hasHash := res["hash"]
		assert.False(t, hasHash)
		entries, ok := res["entries"].([]interface{})
		require.True(t, ok)
		require.Len(t, entries, 1)
		first, ok := entries[0].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "NEWFILE", first["path"])
		_, hasMtime := first["mtime"]
		assert.False(t, hasMtime)
		assert.EqualValues(t, len("BLAH BLAH2"), first["size"])
	})

	t.Run("metadata - missing", func(t *testing.T) {
		resp, _ := c.get(metadata + "MISSING")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	fileops := Prefix + "/fileops/" + testVolume + "/"

	t.Run("copy", func(t *testing.T) {
		resp, buf := c.post(fileops+"copy", copyRequest{From: "README.md", To: "README.md.copy", Rev: "*"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res fileOpResponse
		decode(t, buf, &res)
		assert.Equal(t, "README.md.copy", res.Path)
		assert.Equal(t, readmeDigest, res.Digest)
	})

	t.Run("move", func(t *testing.T) {
		resp, buf := c.post(fileops+"move", copyRequest{From: "README.md.copy", To: "README.md.move", Rev: readmeDigest})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res fileOpResponse
		decode(t, buf, &res)
		assert.Equal(t, "README.md.move", res.Path)
		assert.Equal(t, readmeDigest, res.Digest)
	})

	t.Run("move - occupied destination", func(t *testing.T) {
		resp, _ := c.post(fileops+"move", copyRequest{From: "README.md.move", To: "NEWFILE", Rev: "*"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("delete - no revision", func(t *testing.T) {
		resp, _ := c.post(fileops+"delete", deleteRequest{Path: "README.md"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("delete - stale revision", func(t *testing.T) {
		resp, _ := c.post(fileops+"delete", deleteRequest{Path: "NEWFILE", Rev: blahDigest})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("delete - wildcard revision", func(t *testing.T) {
		resp, buf := c.post(fileops+"delete", deleteRequest{Path: "README.md", Rev: "*"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res fileOpResponse
		decode(t, buf, &res)
		assert.Equal(t, readmeDigest, res.Digest)
	})

	t.Run("delete - non-wildcard revision", func(t *testing.T) {
		resp, buf := c.post(fileops+"delete", deleteRequest{Path: "NEWFILE", Rev: newFileRev})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res fileOpResponse
		decode(t, buf, &res)
		assert.NotEmpty(t, res.ServerRevision)
		assert.NotEqual(t, serverRevision, res.ServerRevision)
	})

	var fileRevision string

	t.Run("put - file initial revision", func(t *testing.T) {
		resp, buf := c.upload(files+"newt", map[string]interface{}{}, "BLAH BLAH")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var res putResponse
		decode(t, buf, &res)
		assert.Equal(t, blahDigest, res.Digest)
		assert.Equal(t, "newt", res.Path)
		fileRevision = res.Digest
	})

	t.Run("put - file new revision", func(t *testing.T) {
		resp, buf := c.upload(files+"newt", putOptions{ParentRev: fileRevision}, "BLAH BLAH2")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var res putResponse
		decode(t, buf, &res)
		assert.Equal(t, blah2Digest, res.Digest)
		assert.Equal(t, "newt", res.Path)
	})

	t.Run("put - file conflict", func(t *testing.T) {
		resp, buf := c.upload(files+"newt", putOptions{ParentRev: fileRevision}, "BLAH BLAH3")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var res putResponse
		decode(t, buf, &res)
		assert.Equal(t, blah3Digest, res.Digest)
		assert.Equal(t, "newt-ConflictedCopy", res.Path)
		assert.NotEmpty(t, res.ServerRevision)

		resp, buf = c.get(files + "newt")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "BLAH BLAH2", string(buf))
	})

	t.Run("put - overwrite", func(t *testing.T) {
		resp, buf := c.upload(files+"newt", putOptions{ParentRev: fileRevision, Overwrite: true}, "BLAH BLAH3")
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var res putResponse
		decode(t, buf, &res)
		assert.Equal(t, "newt", res.Path)
		assert.Equal(t, blah3Digest, res.Digest)
	})
}

func TestRawPut(t *testing.T) {
	c := newTestServer(t, "16B")
	resp, _ := c.post(Prefix+"/volume/create", volumeRequest{Name: testVolume, Password: testPassword})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	files := Prefix + "/file/" + testVolume + "/"

	resp, buf := c.do(http.MethodPut, files+"raw/file.txt", strings.NewReader("BLAH BLAH"), "application/octet-stream")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res putResponse
	decode(t, buf, &res)
	assert.Equal(t, blahDigest, res.Digest)
	assert.Equal(t, "raw/file.txt", res.Path)
	assert.Equal(t, int64(9), res.Size)

	resp, buf = c.do(http.MethodPut, files+"raw/file.txt?parentRev="+blahDigest, strings.NewReader("BLAH BLAH2"), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, buf, &res)
	assert.True(t, res.FastForward)
	assert.Equal(t, blah2Digest, res.Digest)

	resp, _ = c.do(http.MethodPut, files+"raw/file.txt?overwrite=maybe", strings.NewReader("x"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.do(http.MethodPut, files+"raw/file.txt", strings.NewReader(strings.Repeat("x", 17)), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	// a file can't become a directory
	resp, _ = c.do(http.MethodPut, files+"raw/file.txt/nested", strings.NewReader("x"), "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = c.do(http.MethodPut, files+"raw/../escape", strings.NewReader("x"), "")
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusCode(model.ErrInvalidPath))
	assert.Equal(t, http.StatusInternalServerError, statusCode(io.ErrUnexpectedEOF))
	assert.Equal(t, http.StatusNotFound, statusCode(status.ErrClosed.WrapMessage("volume %q", "vol")))
}
