package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-dazzeo/realm/internal/archive"
	"github.com/p-dazzeo/realm/internal/artifacts"
	"github.com/p-dazzeo/realm/internal/config"
	"github.com/p-dazzeo/realm/internal/domain"
	"github.com/p-dazzeo/realm/internal/logging"
	"github.com/p-dazzeo/realm/internal/store"
	"github.com/p-dazzeo/realm/internal/upload"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.ParserEnabled = false
	cfg.AdditionalFilesDir = filepath.Join(t.TempDir(), "artifacts")
	cfg.MaxFileSize = 1 << 20
	cfg.MaxProjectSize = 4 << 20
	if mutate != nil {
		mutate(cfg)
	}

	db, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "realm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	art, err := artifacts.NewStore(cfg.AdditionalFilesDir)
	require.NoError(t, err)

	logger := logging.NewNop()
	svc := upload.NewService(cfg, db, archive.NewExtractor(archive.PolicyFromConfig(cfg), logger), nil, art,
		upload.WithLogger(logger))

	srv := httptest.NewServer(NewHandler(cfg, svc, logger).Router())
	t.Cleanup(srv.Close)
	return srv
}

func cobolZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"src/PAYROLL.cbl": "IDENTIFICATION DIVISION.\n",
		"src/RECORD.cpy":  "01 EMPLOYEE.\n",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, method, url string, body *bytes.Buffer, contentType string, headers ...string) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func uploadProject(t *testing.T, srv *httptest.Server) domain.UploadResult {
	t.Helper()
	body, ct := multipartBody(t, "payroll.zip", cobolZip(t), map[string]string{
		"project_name": "payroll",
		"description":  "monthly batch",
	})
	resp := do(t, http.MethodPost, srv.URL+"/projects", body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[domain.UploadResult](t, resp)
	require.True(t, res.Success)
	require.NotNil(t, res.ProjectID)
	return res
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["parser_enabled"])
}

func TestParserHealthDisabled(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, http.MethodGet, srv.URL+"/health/parser", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[domain.ParserConnectivity](t, resp)
	assert.False(t, body.Available)
	assert.Equal(t, "disabled", body.Status)
}

func TestUploadAndFetchProject(t *testing.T) {
	srv := newTestServer(t, nil)
	res := uploadProject(t, srv)
	assert.Equal(t, domain.MethodDirect, res.UploadMethod)

	resp := do(t, http.MethodGet, fmt.Sprintf("%s/projects/%d?include_files=true", srv.URL, *res.ProjectID), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[domain.ProjectView](t, resp)
	assert.Equal(t, "payroll", view.Name)
	assert.Equal(t, domain.StatusCompleted, view.UploadStatus)
	assert.Len(t, view.Files, 2)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/"+res.SessionID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess := decode[domain.UploadSessionView](t, resp)
	assert.Equal(t, domain.StatusCompleted, sess.Status)
	assert.Equal(t, 2, sess.ProcessedFiles)
	assert.InDelta(t, 100, sess.Progress, 0.001)
}

func TestUploadRequiresFile(t *testing.T) {
	srv := newTestServer(t, nil)
	body, ct := multipartBody(t, "", nil, map[string]string{"project_name": "payroll"})
	resp := do(t, http.MethodPost, srv.URL+"/projects", body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "file is required", decode[map[string]string](t, resp)["error"])
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.MaxProjectSize = 1024
	})
	body, ct := multipartBody(t, "big.zip", bytes.Repeat([]byte("x"), 4096), map[string]string{"project_name": "big"})
	resp := do(t, http.MethodPost, srv.URL+"/projects", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadCorruptArchiveReportsFailedSession(t *testing.T) {
	srv := newTestServer(t, nil)
	body, ct := multipartBody(t, "broken.zip", []byte("PK\x03\x04 not really a zip"), map[string]string{"project_name": "broken"})
	resp := do(t, http.MethodPost, srv.URL+"/projects", body, ct)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	res := decode[domain.UploadResult](t, resp)
	assert.False(t, res.Success)
	require.NotEmpty(t, res.SessionID)

	resp = do(t, http.MethodGet, srv.URL+"/sessions/"+res.SessionID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StatusFailed, decode[domain.UploadSessionView](t, resp).Status)
}

func TestListProjects(t *testing.T) {
	srv := newTestServer(t, nil)
	uploadProject(t, srv)
	uploadProject(t, srv)

	resp := do(t, http.MethodGet, srv.URL+"/projects?upload_method=direct&limit=1", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]domain.ProjectSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].FileCount)

	resp = do(t, http.MethodGet, srv.URL+"/projects?upload_method=parser", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]domain.ProjectSummary](t, resp))
}

func TestListProjectsRejectsBadQuery(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, q := range []string{"skip=-1", "limit=abc", "upload_method=ftp"} {
		resp := do(t, http.MethodGet, srv.URL+"/projects?"+q, nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetProjectErrors(t *testing.T) {
	srv := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/projects/abc", nil, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/projects/999", nil, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/sessions/missing", nil, "").StatusCode)
}

func TestDeleteProject(t *testing.T) {
	srv := newTestServer(t, nil)
	res := uploadProject(t, srv)
	url := fmt.Sprintf("%s/projects/%d", srv.URL, *res.ProjectID)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, url, nil, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, url, nil, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, url, nil, "").StatusCode)
}

func TestAdditionalFileLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	res := uploadProject(t, srv)
	base := fmt.Sprintf("%s/projects/%d/additional-files", srv.URL, *res.ProjectID)

	body, ct := multipartBody(t, "design notes.md", []byte("# Payroll\n"), map[string]string{"description": "notes"})
	resp := do(t, http.MethodPost, base, body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[domain.AdditionalFile](t, resp)
	require.NotNil(t, created.Description)
	assert.Equal(t, "notes", *created.Description)
	assert.EqualValues(t, len("# Payroll\n"), created.FileSize)

	resp = do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.AdditionalFile](t, resp), 1)

	fileURL := fmt.Sprintf("%s/additional-files/%d", srv.URL, created.ID)
	resp = do(t, http.MethodPatch, fileURL, bytes.NewBufferString(`{"description":"updated"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[domain.AdditionalFile](t, resp)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "updated", *updated.Description)

	resp = do(t, http.MethodGet, fileURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.UUID, decode[domain.AdditionalFile](t, resp).UUID)

	resp = do(t, http.MethodGet, fileURL+"/content", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "# Payroll\n", string(content))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), created.Filename)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, fileURL, nil, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, fileURL, nil, "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, fileURL+"/content", nil, "").StatusCode)
}

func TestAdditionalFileForMissingProject(t *testing.T) {
	srv := newTestServer(t, nil)
	body, ct := multipartBody(t, "notes.md", []byte("x"), nil)
	resp := do(t, http.MethodPost, srv.URL+"/projects/42/additional-files", body, ct)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGitHubIngestRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, http.MethodPost, srv.URL+"/projects/github", bytes.NewBufferString("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIKeyRequired(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.APIKey = "secret"
	})

	resp := do(t, http.MethodGet, srv.URL+"/projects", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/projects", nil, "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, http.MethodGet, srv.URL+"/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}
