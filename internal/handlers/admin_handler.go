package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"harmonyshield/internal/admin"
	"harmonyshield/internal/jobs"
)

// resourceHandler serves the list/detail contract of one admin screen
type resourceHandler[T any] struct {
	resource *admin.Resource[T]
	logger   *zap.Logger
}

// RegisterResource mounts list, get, create, patch and delete routes for res
// under path. Operations the resource disallows answer 405.
func RegisterResource[T any](group *gin.RouterGroup, path string, res *admin.Resource[T], logger *zap.Logger) {
	h := &resourceHandler[T]{resource: res, logger: logger.Named("admin_handler").With(zap.String("resource", res.Table()))}

	g := group.Group(path)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("", h.create)
	g.PATCH("/:id", h.patch)
	g.DELETE("/:id", h.delete)
}

func (h *resourceHandler[T]) list(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	var q admin.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query"})
		return
	}

	items, err := h.resource.Load(c.Request.Context(), s)
	if err != nil {
		respondError(c, h.logger, err, "Failed to load "+h.resource.Table())
		return
	}
	filtered, err := h.resource.Filter(items, q)
	if err != nil {
		respondError(c, h.logger, err, "Failed to filter "+h.resource.Table())
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": filtered, "count": len(filtered), "total": len(items)})
}

func (h *resourceHandler[T]) get(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	item, err := h.resource.Get(c.Request.Context(), s, id)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get "+h.resource.Table())
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *resourceHandler[T]) create(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}

	item := new(T)
	if err := c.ShouldBindJSON(item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	created, err := h.resource.Create(c.Request.Context(), s, item)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create "+h.resource.Table())
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *resourceHandler[T]) patch(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	item, err := h.resource.Mutate(c.Request.Context(), s, id, raw)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update "+h.resource.Table())
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *resourceHandler[T]) delete(c *gin.Context) {
	s, ok := session(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.resource.Delete(c.Request.Context(), s, id); err != nil {
		respondError(c, h.logger, err, "Failed to delete "+h.resource.Table())
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterAdminResources mounts every admin screen
func RegisterAdminResources(group *gin.RouterGroup, res *admin.Resources, logger *zap.Logger) {
	RegisterResource(group, "/users", res.Users, logger)
	RegisterResource(group, "/scam-reports", res.ScamReports, logger)
	RegisterResource(group, "/ab-tests", res.ABTests, logger)
	RegisterResource(group, "/bot-packages", res.BotPackages, logger)
	RegisterResource(group, "/news", res.News, logger)
	RegisterResource(group, "/system-config", res.SystemConfig, logger)
	RegisterResource(group, "/recovery", res.Recovery, logger)
	RegisterResource(group, "/audit-logs", res.AuditLogs, logger)
	RegisterResource(group, "/notifications", res.Notifications, logger)
}

// JobStatuser reports background job state and runs jobs on demand
type JobStatuser interface {
	Status() []jobs.TaskStatus
	RunNow(name string) error
}

// JobsStatus lists background jobs for the admin dashboard
func JobsStatus(scheduler JobStatuser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if scheduler == nil {
			c.JSON(http.StatusOK, gin.H{"jobs": []jobs.TaskStatus{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": scheduler.Status()})
	}
}

// RunJob runs a background job immediately and returns its updated status
func RunJob(scheduler JobStatuser, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if scheduler == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		name := c.Param("name")
		if err := scheduler.RunNow(name); err != nil {
			respondError(c, logger, err, "Job run failed")
			return
		}

		for _, st := range scheduler.Status() {
			if st.Name == name {
				c.JSON(http.StatusOK, st)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"name": name})
	}
}
