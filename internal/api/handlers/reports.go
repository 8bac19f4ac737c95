package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

func (h *Handler) GetLatestReport(c *gin.Context) {
	id, ok := installationID(c)
	if !ok {
		return
	}

	formatted, err := h.reports.FormattedLatest(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No reports found for this installation"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to render latest report", err)
		return
	}
	c.JSON(http.StatusOK, formatted)
}

func (h *Handler) ListReports(c *gin.Context) {
	id, ok := installationID(c)
	if !ok {
		return
	}

	entries, err := h.reports.Historical(c.Request.Context(), id, 50)
	if err != nil {
		h.internalError(c, "Failed to list historical reports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": entries})
}

func (h *Handler) GetReport(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	formatted, err := h.reports.Formatted(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to render report", err)
		return
	}
	c.JSON(http.StatusOK, formatted)
}

func (h *Handler) ExportReportCSV(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	data, err := h.reports.CSVExport(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to export report CSV", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=healthcheck_report_%d.csv", id))
	c.Data(http.StatusOK, "text/csv", data)
}

func (h *Handler) GetUnlockStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	status, err := h.reports.GetUnlockStatus(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to get unlock status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
