package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"ca-indexer/internal/auth"

	"github.com/gin-gonic/gin"
)

// Reprocessor replays a stored collection through its processor
type Reprocessor interface {
	Reprocess(ctx context.Context, collection string) error
}

// TaskRunner resolves a named maintenance run
type TaskRunner interface {
	Task(name string) (func(context.Context) error, bool)
}

// AdminHandler triggers reprocessing and maintenance runs. Runs are started
// in the background on the handler's base context and at most one run per
// name is active at a time.
type AdminHandler struct {
	base        context.Context
	reprocessor Reprocessor
	tasks       TaskRunner
	collections []string
	verifier    *auth.AdminVerifier
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]time.Time
	wg      sync.WaitGroup
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(base context.Context, reprocessor Reprocessor, tasks TaskRunner, collections []string, verifier *auth.AdminVerifier, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		base:        base,
		reprocessor: reprocessor,
		tasks:       tasks,
		collections: collections,
		verifier:    verifier,
		logger:      logger,
		running:     make(map[string]time.Time),
	}
}

// AdminAuth middleware requires a valid admin bearer token
func (h *AdminHandler) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		sub, err := h.verifier.Verify(header)
		if errors.Is(err, auth.ErrAdminDisabled) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access disabled"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("admin", sub)
		c.Next()
	}
}

// Reprocess handles POST /admin/reprocess/:collection
func (h *AdminHandler) Reprocess(c *gin.Context) {
	collection := c.Param("collection")
	if !slices.Contains(h.collections, collection) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown collection", "collection": collection})
		return
	}
	h.start(c, "reprocess:"+collection, func(ctx context.Context) error {
		return h.reprocessor.Reprocess(ctx, collection)
	})
}

// Maintain handles POST /admin/maintain/:task
func (h *AdminHandler) Maintain(c *gin.Context) {
	name := c.Param("task")
	run, ok := h.tasks.Task(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task", "task": name})
		return
	}
	h.start(c, "maintain:"+name, run)
}

// Running handles GET /admin/runs
func (h *AdminHandler) Running(c *gin.Context) {
	h.mu.Lock()
	runs := make(map[string]string, len(h.running))
	for name, started := range h.running {
		runs[name] = started.UTC().Format(time.RFC3339)
	}
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"running": runs})
}

// Wait blocks until every background run has returned
func (h *AdminHandler) Wait() {
	h.wg.Wait()
}

func (h *AdminHandler) start(c *gin.Context, name string, run func(context.Context) error) {
	h.mu.Lock()
	if _, busy := h.running[name]; busy {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "already running", "run": name})
		return
	}
	h.running[name] = time.Now()
	h.mu.Unlock()

	h.logger.Info("admin run started", "run", name, "admin", c.GetString("admin"))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.running, name)
			h.mu.Unlock()
		}()

		start := time.Now()
		if err := run(h.base); err != nil {
			h.logger.Error("admin run failed", "run", name, "error", err)
			return
		}
		h.logger.Info("admin run finished", "run", name, "duration", time.Since(start))
	}()

	c.JSON(http.StatusAccepted, gin.H{"success": true, "run": name})
}
