package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/handlers"
	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/archive"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"github.com/3Eeeecho/go-docstore/internal/services/share"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testJWT = config.JWTConfig{SecretKey: "router-test-secret-0123456789", ExpiresIn: time.Hour, Issuer: "go-docstore"}

type keySink struct {
	mu   sync.Mutex
	keys map[string]string // action -> idempotency key
}

func (s *keySink) Record(ctx context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[e.Action] = audit.IdempotencyKeyFrom(ctx)
	return nil
}

type api struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
	sink   *keySink
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := testutil.NewTestDB(t)
	disks, _, _ := testutil.NewDisks(t)
	sink := &keySink{keys: map[string]string{}}

	deps := explorer.Deps{DB: db, Disks: disks, Audit: sink}
	tree := explorer.NewTreeService(deps)
	life := explorer.NewLifecycleService(deps)
	query := explorer.NewQueryService(deps)
	download := explorer.NewDownloadService(deps, archive.NewBuilder(disks, t.TempDir()))
	registry := share.NewRegistry(db, nil, nil, disks, sink)

	engine := InitRouter(&RouterConfig{
		Folders:  handlers.NewFolderHandler(tree, life, query, download),
		Files:    handlers.NewFileHandler(tree, life, 1<<20),
		Explorer: handlers.NewExplorerHandler(query, life, download),
		Shares:   handlers.NewShareHandler(registry),
		JWT:      testJWT,
		Mode:     gin.TestMode,
	})
	return &api{t: t, db: db, engine: engine, sink: sink}
}

func (a *api) token(user *models.User, caps ...string) string {
	a.t.Helper()
	tok, err := utils.GenerateToken(utils.Claims{
		UserID:       user.ID,
		DepartmentID: user.DepartmentID,
		Capabilities: caps,
	}, testJWT.SecretKey, testJWT.Issuer, time.Hour)
	require.NoError(a.t, err)
	return tok
}

func (a *api) do(method, path, token string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *api) json(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var r io.Reader
	h := http.Header{}
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
		h.Set("Content-Type", "application/json")
	}
	return a.do(method, path, token, r, h)
}

func (a *api) upload(token string, folderID uint64, name, content, mode string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(a.t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(a.t, err)
	require.NoError(a.t, mw.WriteField("folder_id", jsonNumber(folderID)))
	if mode != "" {
		require.NoError(a.t, mw.WriteField("duplicate_mode", mode))
	}
	require.NoError(a.t, mw.Close())

	h := http.Header{}
	h.Set("Content-Type", mw.FormDataContentType())
	return a.do(http.MethodPost, "/api/v1/files", token, &buf, h)
}

func jsonNumber(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) (xerr.Response, T) {
	t.Helper()
	var raw struct {
		xerr.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	var data T
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		require.NoError(t, json.Unmarshal(raw.Data, &data))
	}
	return raw.Response, data
}

func TestAuthRequired(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/api/v1/explorer/my", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, "/api/v1/explorer/my", "not-a-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp, _ := decode[any](t, w)
	assert.Equal(t, xerr.TokenInvalidCode, resp.Code)

	w = a.do(http.MethodGet, "/ping", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/nowhere", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFolderLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	alice := testutil.SeedUser(t, a.db, "alice", nil)
	tok := a.token(alice, access.CapFoldersDelete, access.CapFilesDelete)

	w := a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "Projects"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, folder := decode[models.Folder](t, w)
	assert.Equal(t, "Projects", folder.Path)

	// 同级重名
	w = a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "Projects"})
	assert.Equal(t, http.StatusConflict, w.Code)
	resp, _ := decode[any](t, w)
	assert.Equal(t, xerr.NameConflictCode, resp.Code)
	assert.Equal(t, "name", resp.Field)

	w = a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "a/b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.json(http.MethodPut, "/api/v1/folders/"+jsonNumber(folder.ID)+"/rename", tok, models.RenameBody{Name: "Archive"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodDelete, "/api/v1/folders/"+jsonNumber(folder.ID), tok, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(http.MethodGet, "/api/v1/explorer/trash", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, trash := decode[explorer.Listing](t, w)
	require.Len(t, trash.Folders, 1)
	assert.Equal(t, "Archive", trash.Folders[0].Name)

	w = a.do(http.MethodPost, "/api/v1/folders/"+jsonNumber(folder.ID)+"/restore", tok, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodDelete, "/api/v1/folders/abc", tok, nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = a.do(http.MethodDelete, "/api/v1/folders/999", tok, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadDownloadAndIdempotencyKey(t *testing.T) {
	a := newAPI(t)
	alice := testutil.SeedUser(t, a.db, "alice", nil)
	tok := a.token(alice)

	w := a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "Docs"})
	require.Equal(t, http.StatusCreated, w.Code)
	_, folder := decode[models.Folder](t, w)

	w = a.upload(tok, folder.ID, "paper.pdf", "%PDF-1.4", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, file := decode[models.File](t, w)
	assert.Equal(t, "application/pdf", file.MimeType)

	w = a.upload(tok, folder.ID, "paper.pdf", "again", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = a.upload(tok, folder.ID, "paper.pdf", "again", "auto_rename")
	require.Equal(t, http.StatusCreated, w.Code)
	_, renamed := decode[models.File](t, w)
	assert.Equal(t, "paper (1).pdf", renamed.Name)
	w = a.upload(tok, folder.ID, "x.pdf", "x", "sideways")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/api/v1/files/"+jsonNumber(file.ID)+"/download", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "paper.pdf")

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Idempotency-Key", "req-42")
	w = a.do(http.MethodPut, "/api/v1/files/"+jsonNumber(file.ID)+"/rename", tok, bytes.NewBufferString(`{"name":"final.pdf"}`), h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	a.sink.mu.Lock()
	assert.Equal(t, "req-42", a.sink.keys[audit.ActionFileRename])
	a.sink.mu.Unlock()

	bob := testutil.SeedUser(t, a.db, "bob", nil)
	w = a.do(http.MethodGet, "/api/v1/files/"+jsonNumber(file.ID)+"/download", a.token(bob), nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestArchiveSelection(t *testing.T) {
	a := newAPI(t)
	alice := testutil.SeedUser(t, a.db, "alice", nil)
	tok := a.token(alice)

	w := a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "Docs"})
	_, folder := decode[models.Folder](t, w)
	w = a.upload(tok, folder.ID, "a.txt", "alpha", "")
	_, file := decode[models.File](t, w)

	w = a.json(http.MethodPost, "/api/v1/archive", tok, models.ArchiveBody{FileIDs: []uint64{file.ID}, FolderIDs: []uint64{folder.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "Docs/a.txt"}, names)
}

func TestShareLinkOverHTTP(t *testing.T) {
	a := newAPI(t)
	alice := testutil.SeedUser(t, a.db, "alice", nil)
	tok := a.token(alice)

	w := a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "Docs"})
	_, folder := decode[models.Folder](t, w)
	w = a.upload(tok, folder.ID, "slides.pdf", "slides", "")
	_, file := decode[models.File](t, w)

	pw := "s3cret"
	limit := uint32(1)
	w = a.json(http.MethodPost, "/api/v1/links", tok, models.CreateLinkBody{FileID: file.ID, Password: &pw, MaxDownloads: &limit})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	_, created := decode[struct {
		Link models.ShareLink `json:"link"`
		Path string           `json:"path"`
	}](t, w)
	require.Len(t, created.Link.Token, 64)

	w = a.do(http.MethodGet, created.Path, "", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	resp, _ := decode[any](t, w)
	assert.Equal(t, "password", resp.Field)

	h := http.Header{}
	h.Set(handlers.PasswordHeader, pw)
	w = a.do(http.MethodGet, created.Path, "", nil, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "slides", w.Body.String())

	w = a.do(http.MethodGet, created.Path+"?password="+pw, "", nil, nil)
	assert.Equal(t, http.StatusGone, w.Code)

	w = a.do(http.MethodGet, "/api/v1/files/"+jsonNumber(file.ID)+"/links", tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, links := decode[[]models.ShareLink](t, w)
	require.Len(t, links, 1)
	assert.EqualValues(t, 1, links[0].DownloadCount)

	w = a.do(http.MethodDelete, "/api/v1/links/"+jsonNumber(links[0].ID), tok, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(http.MethodGet, "/s/unknown", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGrantOverHTTP(t *testing.T) {
	a := newAPI(t)
	alice := testutil.SeedUser(t, a.db, "alice", nil)
	bob := testutil.SeedUser(t, a.db, "bob", nil)
	tok := a.token(alice)

	w := a.json(http.MethodPost, "/api/v1/folders", tok, models.CreateFolderBody{Name: "Shared"})
	_, folder := decode[models.Folder](t, w)

	path := "/api/v1/shares/folders/" + jsonNumber(folder.ID) + "/users/" + jsonNumber(bob.ID)
	w = a.json(http.MethodPut, path, tok, models.ShareBody{View: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodGet, "/api/v1/explorer/shared", a.token(bob), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, shared := decode[explorer.Listing](t, w)
	require.Len(t, shared.Folders, 1)
	assert.Equal(t, folder.ID, shared.Folders[0].ID)

	w = a.do(http.MethodGet, "/api/v1/shares/folders/"+jsonNumber(folder.ID), tok, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, grants := decode[[]models.FolderPermission](t, w)
	require.Len(t, grants, 1)

	w = a.do(http.MethodDelete, "/api/v1/shares/folders/"+jsonNumber(folder.ID)+"/self", a.token(bob), nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(http.MethodDelete, path, tok, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodPost, "/api/v1/shares/folders/"+jsonNumber(folder.ID)+"/department", tok, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	resp, _ := decode[any](t, w)
	assert.Equal(t, xerr.DepartmentMissingCode, resp.Code)
}

func TestWithCORS(t *testing.T) {
	a := newAPI(t)
	h := WithCORS(a.engine, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/explorer/my", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Same(t, http.Handler(a.engine), WithCORS(a.engine, nil))
}
