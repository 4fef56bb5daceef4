package http

import (
	"net/http"
	"strings"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

func (h *Handler) ListMappings(c *gin.Context) {
	mappings, err := h.Directory.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings, "polling": h.Lifecycle.ActivePolls()})
}

func (h *Handler) GetMapping(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m)
}

// UpsertMapping binds the channel to an instance, replacing any previous binding.
func (h *Handler) UpsertMapping(c *gin.Context) {
	var req struct {
		InstanceID string `json:"instance_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	channelID, err := h.Resolver.Resolve(c.Request.Context(), c.Param("channel"))
	if err != nil {
		h.fail(c, err)
		return
	}
	m, err := h.Directory.Upsert(c.Request.Context(), channelID, req.InstanceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMapping(c *gin.Context) {
	channelID, err := h.Resolver.Resolve(c.Request.Context(), c.Param("channel"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Directory.Delete(c.Request.Context(), channelID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GetStatus answers from the state cache; ?refresh=true forces a gateway probe.
func (h *Handler) GetStatus(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	var state entities.ConnectionState
	if c.Query("refresh") == "true" {
		state = h.Directory.TestConnection(c.Request.Context(), *m)
	} else {
		state = h.Lifecycle.State(c.Request.Context(), m.Ref())
	}
	c.JSON(http.StatusOK, gin.H{
		"channel_id": m.ChannelID,
		"instance":   m.InstanceName,
		"state":      state,
		"connected":  state == entities.StateConnected,
	})
}

// Connect requests pairing. When a code is returned a background poll is
// started so the state flips to connected without the console polling.
func (h *Handler) Connect(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	result := h.Lifecycle.Connect(c.Request.Context(), m.Ref())
	switch result.Outcome {
	case usecases.OutcomeFailed:
		c.JSON(http.StatusBadGateway, result)
	case usecases.OutcomeNeedsPairing:
		h.Lifecycle.PollUntilConnected(m.Ref(), h.PollInterval, h.PollTimeout)
		c.JSON(http.StatusOK, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}

// GetQRCode returns the pairing QR as a PNG and watches for the scan.
func (h *Handler) GetQRCode(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	result := h.Lifecycle.Connect(c.Request.Context(), m.Ref())
	switch result.Outcome {
	case usecases.OutcomeConnected:
		c.String(http.StatusOK, "Already connected")
		return
	case usecases.OutcomeFailed:
		c.String(http.StatusBadGateway, "Failed to connect: "+result.Error)
		return
	}
	h.Lifecycle.PollUntilConnected(m.Ref(), h.PollInterval, h.PollTimeout)

	// A ready-made image from the gateway wins over rendering the raw code.
	if strings.HasPrefix(result.QRCode, "data:image/png;base64,") {
		if png, err := decodePNGDataURI(result.QRCode); err == nil {
			c.Data(http.StatusOK, "image/png", png)
			return
		}
	}
	if result.Code == "" {
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}
	png, err := qrcode.Encode(result.Code, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) StartPoll(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	handle := h.Lifecycle.PollUntilConnected(m.Ref(), h.PollInterval, h.PollTimeout)
	c.JSON(http.StatusAccepted, gin.H{"instance": handle.Instance, "polling": true})
}

func (h *Handler) CancelPoll(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": m.InstanceName, "cancelled": h.Lifecycle.CancelPoll(m.InstanceName)})
}

func (h *Handler) Restart(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	if err := h.Lifecycle.Restart(c.Request.Context(), m.Ref()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarting", "state": entities.StateConnecting})
}

func (h *Handler) Logout(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	if err := h.Lifecycle.Logout(c.Request.Context(), m.Ref()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out", "state": entities.StateDisconnected})
}

// CheckWebhook reports drift as a warning; it never repairs on its own.
func (h *Handler) CheckWebhook(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	report, err := h.Lifecycle.CheckWebhook(c.Request.Context(), m.Ref(), h.Lifecycle.ExpectedWebhook(m.ChannelID))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) RepairWebhook(c *gin.Context) {
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	expected := h.Lifecycle.ExpectedWebhook(m.ChannelID)
	if err := h.Lifecycle.RepairWebhook(c.Request.Context(), m.Ref(), expected); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "repaired", "webhook": expected})
}
