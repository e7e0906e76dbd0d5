package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgrosua/yabe-siul/internal/cachestore"
	"github.com/orgrosua/yabe-siul/internal/compiler"
	"github.com/orgrosua/yabe-siul/internal/content"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
	"github.com/orgrosua/yabe-siul/internal/store"
)

type stubRunner struct {
	outcome     compiler.Outcome
	invalidated atomic.Int32
}

func (s *stubRunner) Run(context.Context) compiler.Outcome { return s.outcome }
func (s *stubRunner) Running() bool { return false }
func (s *stubRunner) Invalidate() { s.invalidated.Add(1) }

type stubVersions struct {
	list []string
	err  error
}

func (s stubVersions) Versions(context.Context) ([]string, error) { return s.list, s.err }

type stubConfigResolver struct{}

func (stubConfigResolver) Resolve(_ context.Context, source string) (map[string]interface{}, error) {
	if source == "broken" {
		return nil, errors.New("SyntaxError: Unexpected identifier")
	}
	return map[string]interface{}{"prefix": "tw-"}, nil
}

type harness struct {
	router    *gin.Engine
	runner    *stubRunner
	store     *store.Store
	artifacts *cachestore.FileStore
	registry  *content.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	artifacts, err := cachestore.New(cachestore.Options{Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	registry := content.NewRegistry()
	require.NoError(t, registry.Register(content.NewStaticProvider("safelist", "Safelist", "tw-a tw-b", types.EncodingText, true)))

	h := &harness{
		router:    gin.New(),
		runner:    &stubRunner{},
		store:     db,
		artifacts: artifacts,
		registry:  registry,
	}
	NewHandlers(Deps{
		Runner:    h.runner,
		Settings:  db,
		Versions:  stubVersions{list: []string{"3.4.1", "3.4.0"}},
		Providers: registry,
		Artifacts: artifacts,
		Resolver:  stubConfigResolver{},
	}, nil).Register(h.router)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCompileSuccess(t *testing.T) {
	h := newHarness(t)
	h.runner.outcome = compiler.Outcome{
		RunID:    "run-1",
		Success:  true,
		Version:  "3.4.1",
		Artifact: &cachestore.Artifact{Fingerprint: "abc", Size: 10},
	}

	w := h.do(t, http.MethodPost, "/api/compile", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "3.4.1", body["version"])
	assert.Equal(t, "abc", body["fingerprint"])
}

func TestCompileFailureShape(t *testing.T) {
	h := newHarness(t)
	h.runner.outcome = compiler.Outcome{
		RunID: "run-2",
		Error: &types.StageError{Message: "Unexpected token", Stage: types.StageCompile},
	}

	w := h.do(t, http.MethodPost, "/api/compile", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, map[string]interface{}{"message": "Unexpected token", "action": "compile"}, body["error"])
}

func TestCompileInProgressIsConflict(t *testing.T) {
	h := newHarness(t)
	h.runner.outcome = compiler.Outcome{
		Error: types.NewStageError(types.StageRunInProgress, compiler.ErrRunInProgress),
	}

	w := h.do(t, http.MethodPost, "/api/compile", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVersions(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/versions", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"3.4.1", "3.4.0"}, decode(t, w)["versions"])
}

func TestSettingsRoundTripInvalidates(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "latest", decode(t, w)["compiler_version"])

	w = h.do(t, http.MethodPut, "/api/settings", map[string]string{"compiler_version": "3.4.0"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, h.runner.invalidated.Load())

	w = h.do(t, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, "3.4.0", decode(t, w)["compiler_version"])
}

func TestWorkspaceRoundTripInvalidates(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/tailwind", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.DefaultCSS, decode(t, w)["css"])

	ws := types.Workspace{Config: "module.exports = {}", CSS: "@tailwind utilities;"}
	w = h.do(t, http.MethodPut, "/api/tailwind", ws)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, h.runner.invalidated.Load())

	saved, err := h.store.Workspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ws, saved)
}

func TestProvidersListAndToggle(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/providers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	providers := decode(t, w)["providers"].([]interface{})
	require.Len(t, providers, 1)
	assert.Equal(t, "safelist", providers[0].(map[string]interface{})["id"])

	w = h.do(t, http.MethodPut, "/api/providers/safelist", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.registry.List()[0].Enabled)

	w = h.do(t, http.MethodPut, "/api/providers/missing", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScanProvider(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/providers/scan", map[string]interface{}{
		"provider_id": "safelist",
		"metadata":    map[string]interface{}{"next_batch": false},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var batch content.Batch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batch))
	require.Len(t, batch.Contents, 1)
	assert.Equal(t, "tw-a tw-b", string(batch.Contents[0].Content))
	assert.True(t, batch.Metadata.NextBatch.Done())

	w = h.do(t, http.MethodPost, "/api/providers/scan", map[string]interface{}{"provider_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoreAndServeArtifact(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/cache/tailwind.css", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	css := "/* ! tailwindcss v3.4.1 */\n.a{color:red}"
	w = h.do(t, http.MethodPost, "/api/cache/store", map[string]string{
		"content": base64.StdEncoding.EncodeToString([]byte(css)),
	})
	require.Equal(t, http.StatusOK, w.Code)
	fingerprint := decode(t, w)["fingerprint"].(string)
	assert.Equal(t, cachestore.Fingerprint([]byte(css)), fingerprint)

	w = h.do(t, http.MethodGet, "/cache/tailwind.css", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, css, w.Body.String())
	assert.Equal(t, "text/css; charset=utf-8", w.Header().Get("Content-Type"))
	etag := w.Header().Get("ETag")

	req := httptest.NewRequest(http.MethodGet, "/cache/tailwind.css", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestStoreArtifactRejectsBadBase64(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/cache/store", map[string]string{"content": "not base64!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveConfig(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/config/resolve", map[string]string{"config": "module.exports = {prefix:'tw-'}"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"prefix": "tw-"}, decode(t, w)["config"])

	w = h.do(t, http.MethodPost, "/api/config/resolve", map[string]string{"config": "broken"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestReady(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])

	require.NoError(t, h.store.Close())
	w = h.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode(t, w)["status"])
}
