package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragkb/ragkb/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.NewConfig()
	cfg.Server.Addr = strings.TrimPrefix(srv.URL, "http://")
	return newAPIClient(cfg)
}

func TestAPIClient_Get(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	var out map[string]string
	require.NoError(t, client.get(context.Background(), "/health", &out))
	assert.Equal(t, "ok", out["status"])
}

func TestAPIClient_ErrorPayload(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"ERR_404_CHUNK_NOT_FOUND","message":"chunk not found","suggestion":"check the id"}}`))
	}))

	err := client.get(context.Background(), "/chunks/99", nil)
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ERR_404_CHUNK_NOT_FOUND", apiErr.Code)
	assert.Contains(t, err.Error(), "chunk not found")
	assert.Contains(t, err.Error(), "check the id")
}

func TestAPIClient_DomainPayloadOn400(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":["unknown chat model"]}`))
	}))

	var out struct {
		Errors []string `json:"errors"`
	}
	err := client.postJSON(context.Background(), "/models", map[string]string{"chat_model": "nope"}, &out)
	require.Error(t, err)

	var status errStatus
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadRequest, int(status))
	assert.Equal(t, []string{"unknown chat model"}, out.Errors)
}

func TestAPIClient_ServiceDown(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.Addr = "127.0.0.1:1"
	client := newAPIClient(cfg)

	err := client.get(context.Background(), "/health", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragkb start")
}

func TestBuildUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	body, contentType, err := buildUpload([]string{path})
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/form-data")

	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", contentType)
	require.NoError(t, req.ParseMultipartForm(1<<20))

	files := req.MultipartForm.File["files"]
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Filename)
}
