package http

import (
	"net/http"
	"strconv"
	"strings"

	"project_atendimento/internal/entities"

	"github.com/gin-gonic/gin"
)

// SendMessage delivers a console message. Once the request binds, the answer is a DeliveryResult.
func (h *Handler) SendMessage(c *gin.Context) {
	var req entities.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidContact(req.Contact) {
		c.JSON(http.StatusBadRequest, entities.DeliveryResult{Code: entities.CodeInvalidContent, Error: "invalid contact number"})
		return
	}
	req.Contact = strings.TrimPrefix(req.Contact, "+")
	req.Body = SanitizeString(req.Body)
	req.Caption = SanitizeString(req.Caption)

	result := h.Router.Send(c.Request.Context(), req)
	status := http.StatusOK
	if !result.Success {
		status = statusFor(result.Code)
	}
	c.JSON(status, result)
}

func (h *Handler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	messages, err := h.Router.History(c.Request.Context(), c.Param("channel"), c.Param("contact"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if messages == nil {
		messages = []entities.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) MarkRead(c *gin.Context) {
	n, err := h.Router.MarkRead(c.Request.Context(), c.Param("channel"), c.Param("contact"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
