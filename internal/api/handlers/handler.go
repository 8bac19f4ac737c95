package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/billing"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/config"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/metrics"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/report"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scanner"
)

// Handler bundles the services the HTTP layer fronts.
type Handler struct {
	reports  *report.Service
	scans    *scanner.Manager
	billing  *billing.Service
	resolver *billing.Resolver
	repo     *db.Repository
	cache    *cache.Cache
	metrics  *metrics.Collector
	config   *config.Config
	logger   *zap.Logger
}

func New(reports *report.Service, scans *scanner.Manager, billingSvc *billing.Service, resolver *billing.Resolver, repo *db.Repository, c *cache.Cache, collector *metrics.Collector, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		reports:  reports,
		scans:    scans,
		billing:  billingSvc,
		resolver: resolver,
		repo:     repo,
		cache:    c,
		metrics:  collector,
		config:   cfg,
		logger:   logger,
	}
}

func installationID(c *gin.Context) (int64, bool) {
	raw := c.Query("installation_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "installation_id query parameter required"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// internalError hides detail from the client; the log line carries it.
func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, zap.Error(err), zap.String("path", c.Request.URL.Path))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
