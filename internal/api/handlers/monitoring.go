package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hugoautomation/gcx-healthcheck-zd/internal/cache"
	"github.com/hugoautomation/gcx-healthcheck-zd/internal/db"
)

type monitoringResponse struct {
	InstallationID     int64    `json:"installation_id"`
	IsActive           bool     `json:"is_active"`
	Frequency          string   `json:"frequency"`
	NotificationEmails []string `json:"notification_emails"`
	LastCheck          *string  `json:"last_check,omitempty"`
	NextCheck          *string  `json:"next_check,omitempty"`
	SubscriptionActive bool     `json:"subscription_active"`
}

func (h *Handler) GetMonitoring(c *gin.Context) {
	id, ok := installationID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	key := cache.MonitoringKey(id)
	var setting db.MonitoringSetting
	found := h.cache.GetJSON(ctx, key, &setting)
	if !found {
		stored, err := h.repo.GetMonitoringSetting(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			// No settings yet. The app shows the disabled defaults.
			c.JSON(http.StatusOK, monitoringResponse{
				InstallationID:     id,
				IsActive:           false,
				Frequency:          string(db.FrequencyWeekly),
				NotificationEmails: []string{},
			})
			return
		}
		if err != nil {
			h.internalError(c, "Failed to load monitoring settings", err)
			return
		}
		setting = *stored
		h.cache.SetJSON(ctx, key, stored, cache.TTLMonitoring)
	}

	status := h.resolver.Resolve(ctx, setting.Subdomain)
	c.JSON(http.StatusOK, monitoringFromSetting(&setting, status.Active))
}

type saveMonitoringRequest struct {
	InstallationID     int64    `json:"installation_id" binding:"required"`
	InstanceGUID       string   `json:"instance_guid" binding:"required"`
	Subdomain          string   `json:"subdomain" binding:"required"`
	IsActive           bool     `json:"is_active"`
	Frequency          string   `json:"frequency" binding:"required,oneof=daily weekly monthly"`
	NotificationEmails []string `json:"notification_emails" binding:"required,max=5,dive,email"`
}

// SaveMonitoring upserts the installation's schedule. Monitoring only
// runs with an active subscription, so is_active is forced off without
// one regardless of what was submitted.
func (h *Handler) SaveMonitoring(c *gin.Context) {
	var req saveMonitoringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	status := h.resolver.Resolve(ctx, req.Subdomain)
	isActive := req.IsActive && status.Active

	setting := &db.MonitoringSetting{
		InstallationID:     req.InstallationID,
		InstanceGUID:       req.InstanceGUID,
		Subdomain:          req.Subdomain,
		IsActive:           isActive,
		Frequency:          db.Frequency(req.Frequency),
		NotificationEmails: req.NotificationEmails,
	}

	existing, err := h.repo.GetMonitoringSetting(ctx, req.InstallationID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.internalError(c, "Failed to load monitoring settings", err)
		return
	}
	setting.MergeSchedule(existing)

	if err := h.repo.SaveMonitoringSetting(ctx, setting); err != nil {
		h.internalError(c, "Failed to save monitoring settings", err)
		return
	}
	h.cache.InvalidateMonitoring(ctx, req.InstallationID)

	c.JSON(http.StatusOK, monitoringFromSetting(setting, status.Active))
}

func monitoringFromSetting(setting *db.MonitoringSetting, subscriptionActive bool) monitoringResponse {
	resp := monitoringResponse{
		InstallationID:     setting.InstallationID,
		IsActive:           setting.IsActive && subscriptionActive,
		Frequency:          string(setting.Frequency),
		NotificationEmails: setting.NotificationEmails,
		SubscriptionActive: subscriptionActive,
	}
	if resp.NotificationEmails == nil {
		resp.NotificationEmails = []string{}
	}
	if setting.LastCheck != nil {
		s := setting.LastCheck.Format("2006-01-02 15:04:05")
		resp.LastCheck = &s
	}
	if setting.NextCheck != nil {
		s := setting.NextCheck.Format("2006-01-02 15:04:05")
		resp.NextCheck = &s
	}
	return resp
}
