// Package http exposes the admin API: compile on demand, edit settings and
// the workspace, inspect providers and serve the cached stylesheet.
package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/cachestore"
	"github.com/orgrosua/yabe-siul/internal/compiler"
	"github.com/orgrosua/yabe-siul/internal/content"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// Runner runs compiles.
type Runner interface {
	Run(ctx context.Context) compiler.Outcome
	Running() bool
	Invalidate()
}

// SettingsStore reads and writes the persisted user inputs.
type SettingsStore interface {
	Settings(ctx context.Context) (types.Settings, error)
	SaveSettings(ctx context.Context, settings types.Settings) error
	Workspace(ctx context.Context) (types.Workspace, error)
	SaveWorkspace(ctx context.Context, ws types.Workspace) error
	Ping(ctx context.Context) error
}

// VersionLister lists supported compiler versions.
type VersionLister interface {
	Versions(ctx context.Context) ([]string, error)
}

// ProviderRegistry exposes the registered content providers.
type ProviderRegistry interface {
	List() []content.Info
	SetEnabled(id string, enabled bool) error
	Scan(ctx context.Context, id string, cursor content.Cursor) (*content.Batch, error)
}

// ArtifactStore holds the compiled stylesheet.
type ArtifactStore interface {
	Write(ctx context.Context, data []byte) (*cachestore.Artifact, error)
	Read() ([]byte, error)
	Stat() (*cachestore.Artifact, error)
}

// ConfigResolver evaluates a config module to its resolved form.
type ConfigResolver interface {
	Resolve(ctx context.Context, source string) (map[string]interface{}, error)
}

// Handlers serves the admin API.
type Handlers struct {
	runner    Runner
	settings  SettingsStore
	versions  VersionLister
	providers ProviderRegistry
	artifacts ArtifactStore
	resolver  ConfigResolver
	logger    *zap.Logger
}

// Deps are the collaborators behind the API.
type Deps struct {
	Runner    Runner
	Settings  SettingsStore
	Versions  VersionLister
	Providers ProviderRegistry
	Artifacts ArtifactStore
	Resolver  ConfigResolver
}

func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		runner:    deps.Runner,
		settings:  deps.Settings,
		versions:  deps.Versions,
		providers: deps.Providers,
		artifacts: deps.Artifacts,
		resolver:  deps.Resolver,
		logger:    logger.Named("api"),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/cache/"+cachestore.FileName, h.ServeArtifact)

	api := r.Group("/api")
	api.POST("/compile", h.Compile)
	api.GET("/versions", h.Versions)
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.PutSettings)
	api.GET("/tailwind", h.GetWorkspace)
	api.PUT("/tailwind", h.PutWorkspace)
	api.GET("/providers", h.ListProviders)
	api.PUT("/providers/:id", h.ToggleProvider)
	api.POST("/providers/scan", h.ScanProvider)
	api.POST("/cache/store", h.StoreArtifact)
	api.POST("/config/resolve", h.ResolveConfig)
}

// Health reports liveness and whether a compile is running.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"compiling": h.runner.Running(),
	})
}

// Ready reports whether the settings store is reachable.
func (h *Handlers) Ready(c *gin.Context) {
	if err := h.settings.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Compile runs the pipeline once.
func (h *Handlers) Compile(c *gin.Context) {
	outcome := h.runner.Run(c.Request.Context())
	if !outcome.Success {
		status := http.StatusUnprocessableEntity
		if outcome.Error.Stage == types.StageRunInProgress {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"success": false,
			"run_id":  outcome.RunID,
			"error":   outcome.Error,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"run_id":      outcome.RunID,
		"version":     outcome.Version,
		"fingerprint": outcome.Artifact.Fingerprint,
		"size":        outcome.Artifact.Size,
		"duration_ms": outcome.Duration.Milliseconds(),
	})
}

// Versions lists supported compiler versions, newest first.
func (h *Handlers) Versions(c *gin.Context) {
	versions, err := h.versions.Versions(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to fetch versions", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": types.NewStageError(types.StagePullVersions, err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *Handlers) GetSettings(c *gin.Context) {
	settings, err := h.settings.Settings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *Handlers) PutSettings(c *gin.Context) {
	var settings types.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid settings: " + err.Error()})
		return
	}
	settings.CompilerVersion = strings.TrimSpace(settings.CompilerVersion)
	if settings.CompilerVersion == "" {
		settings.CompilerVersion = types.VersionLatest
	}

	if err := h.settings.SaveSettings(c.Request.Context(), settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.runner.Invalidate()
	c.JSON(http.StatusOK, settings)
}

func (h *Handlers) GetWorkspace(c *gin.Context) {
	ws, err := h.settings.Workspace(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *Handlers) PutWorkspace(c *gin.Context) {
	var ws types.Workspace
	if err := c.ShouldBindJSON(&ws); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace: " + err.Error()})
		return
	}
	if err := h.settings.SaveWorkspace(c.Request.Context(), ws); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.runner.Invalidate()
	c.JSON(http.StatusOK, ws)
}

func (h *Handlers) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.providers.List()})
}

func (h *Handlers) ToggleProvider(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	if err := h.providers.SetEnabled(c.Param("id"), req.Enabled); err != nil {
		c.JSON(providerStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": req.Enabled})
}

// ScanRequest asks one provider for one batch.
type ScanRequest struct {
	ProviderID string           `json:"provider_id" binding:"required"`
	Metadata   content.Metadata `json:"metadata"`
}

// ScanProvider fetches a single batch, letting a client drive the cursor.
func (h *Handlers) ScanProvider(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan request: " + err.Error()})
		return
	}

	batch, err := h.providers.Scan(c.Request.Context(), req.ProviderID, req.Metadata.NextBatch)
	if err != nil {
		h.logger.Warn("provider scan failed", zap.String("provider", req.ProviderID), zap.Error(err))
		c.JSON(providerStatus(err), gin.H{"error": types.NewStageError(types.StageScanContent, err)})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// StoreArtifact persists a stylesheet compiled elsewhere. The body carries it
// base64 encoded.
func (h *Handlers) StoreArtifact(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is not valid base64"})
		return
	}

	artifact, err := h.artifacts.Write(c.Request.Context(), data)
	if err != nil {
		h.logger.Error("failed to store artifact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": types.NewStageError(types.StagePersist, err)})
		return
	}
	c.JSON(http.StatusOK, artifact)
}

// ResolveConfig evaluates a config module in the resolver sandbox.
func (h *Handlers) ResolveConfig(c *gin.Context) {
	var req struct {
		Config string `json:"config" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	config, err := h.resolver.Resolve(c.Request.Context(), req.Config)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": config})
}

// ServeArtifact serves the cached stylesheet with its fingerprint as ETag.
func (h *Handlers) ServeArtifact(c *gin.Context) {
	stat, err := h.artifacts.Stat()
	if errors.Is(err, cachestore.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	etag := `"` + stat.Fingerprint + `"`
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	data, err := h.artifacts.Read()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/css; charset=utf-8", data)
}

func providerStatus(err error) int {
	if errors.Is(err, content.ErrUnknownProvider) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
