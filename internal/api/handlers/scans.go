package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/queue"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/scanner"
)

type triggerScanRequest struct {
	InstallationID int64  `json:"installation_id" binding:"required"`
	InstanceGUID   string `json:"instance_guid" binding:"required"`
	AppGUID        string `json:"app_guid"`
	Subdomain      string `json:"subdomain" binding:"required"`
	AdminEmail     string `json:"admin_email" binding:"required,email"`
	APIToken       string `json:"api_token" binding:"required"`
	Plan           string `json:"plan"`
	Version        string `json:"version"`
}

// TriggerScan accepts a scan request and returns a pollable task id.
func (h *Handler) TriggerScan(c *gin.Context) {
	var req triggerScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := &queue.Job{
		InstallationID: req.InstallationID,
		InstanceGUID:   req.InstanceGUID,
		AppGUID:        req.AppGUID,
		Subdomain:      req.Subdomain,
		AdminEmail:     req.AdminEmail,
		APIToken:       req.APIToken,
		Plan:           req.Plan,
		Version:        req.Version,
	}

	task, err := h.scans.Submit(c.Request.Context(), job)
	if errors.Is(err, scanner.ErrTooManyScans) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to submit scan", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"state":   task.State,
	})
}

func (h *Handler) GetScanStatus(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.scans.Status(c.Request.Context(), taskID)
	if errors.Is(err, scanner.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to get scan status", err)
		return
	}
	c.JSON(http.StatusOK, task)
}
