package http

import (
	"log/slog"
	"net/http"
	"strings"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/usecases"

	"github.com/gin-gonic/gin"
)

type channelRequest struct {
	Name      string   `json:"name" binding:"required"`
	Slug      string   `json:"slug"`
	Aliases   []string `json:"aliases"`
	IsActive  *bool    `json:"is_active"`
	IsDefault bool     `json:"is_default"`
}

func (req channelRequest) toChannel() (entities.Channel, bool) {
	ch := entities.Channel{
		Name:      strings.TrimSpace(SanitizeString(req.Name)),
		Slug:      strings.TrimSpace(req.Slug),
		IsActive:  req.IsActive == nil || *req.IsActive,
		IsDefault: req.IsDefault,
	}
	if ch.Name == "" || len(ch.Name) > MaxTitleLength {
		return ch, false
	}
	if ch.Slug != "" && !ValidSlug(ch.Slug) {
		return ch, false
	}
	for _, a := range req.Aliases {
		a = strings.TrimSpace(SanitizeString(a))
		if a == "" || len(a) > MaxTitleLength {
			return ch, false
		}
		ch.Aliases = append(ch.Aliases, a)
	}
	return ch, true
}

func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.Channels.ListChannels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	tables := h.Tables.All()
	out := make([]gin.H, 0, len(channels))
	for _, ch := range channels {
		out = append(out, gin.H{"channel": ch, "table": tables[ch.ID]})
	}
	c.JSON(http.StatusOK, out)
}

// CreateChannel stores the channel and provisions its conversation table.
func (h *Handler) CreateChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ch, ok := req.toChannel()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid name, slug or alias"})
		return
	}

	created, err := h.Channels.CreateChannel(c.Request.Context(), ch)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.Resolver.Invalidate()

	table, err := h.Tables.Register(c.Request.Context(), created.ID, usecases.DefaultTableName(*created))
	if err != nil {
		h.logger.Warn("channel created without table", slog.String("channel", created.ID), slog.Any("error", err))
		c.JSON(http.StatusCreated, gin.H{"channel": created, "warning": "conversation table not created: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": created, "table": table})
}

func (h *Handler) UpdateChannel(c *gin.Context) {
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ch, ok := req.toChannel()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid name, slug or alias"})
		return
	}
	ch.ID = c.Param("id")

	updated, err := h.Channels.UpdateChannel(c.Request.Context(), ch)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.Resolver.Invalidate()
	c.JSON(http.StatusOK, updated)
}

// DeleteChannel removes the channel. Its conversation table is kept.
func (h *Handler) DeleteChannel(c *gin.Context) {
	if err := h.Channels.DeleteChannel(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.Resolver.Invalidate()
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) ResolveChannel(c *gin.Context) {
	id, err := h.Resolver.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": c.Param("token"), "channel_id": id})
}

// SetChannelTable rebinds the channel to another conversation table, creating it if needed.
func (h *Handler) SetChannelTable(c *gin.Context) {
	var req struct {
		TableName string `json:"table_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ch, err := h.Channels.GetChannel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if ch == nil {
		h.fail(c, entities.ErrChannelNotFound)
		return
	}
	table, err := h.Tables.Register(c.Request.Context(), ch.ID, req.TableName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel_id": ch.ID, "table": table})
}

func (h *Handler) ListInstances(c *gin.Context) {
	instances, err := h.Instances.ListInstances(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, instances)
}

func (h *Handler) CreateInstance(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Endpoint string `json:"endpoint" binding:"required,url"`
		APIKey   string `json:"api_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidSlug(req.Name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid instance name"})
		return
	}
	inst, err := h.Instances.CreateInstance(c.Request.Context(), entities.Instance{
		Name:     req.Name,
		Endpoint: strings.TrimRight(req.Endpoint, "/"),
		APIKey:   req.APIKey,
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("instance registered",
		slog.String("instance", inst.Name),
		slog.String("endpoint", inst.Endpoint),
		slog.String("api_key", entities.MaskSecret(inst.APIKey)))
	c.JSON(http.StatusCreated, inst)
}

// DeleteInstance drops the credentials. With ?remote=true the gateway-side
// instance is deleted first.
func (h *Handler) DeleteInstance(c *gin.Context) {
	ctx := c.Request.Context()
	if c.Query("remote") == "true" {
		inst, err := h.Instances.GetInstance(ctx, c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		if inst == nil {
			h.fail(c, entities.ErrInstanceNotFound)
			return
		}
		ref := entities.InstanceRef{Name: inst.Name, Endpoint: inst.Endpoint, APIKey: inst.APIKey}
		if err := h.Lifecycle.DeleteInstance(ctx, ref); err != nil {
			h.fail(c, err)
			return
		}
	}
	if err := h.Instances.DeleteInstance(ctx, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
