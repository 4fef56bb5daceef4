package http

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/usecases"

	"github.com/gin-gonic/gin"
)

// gatewayEvent is the envelope the gateway posts to /webhook/gateway/:channel.
type gatewayEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	APIKey   string          `json:"apikey"`
	Data     json.RawMessage `json:"data"`
}

type upsertData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	Message          gatewayMessage  `json:"message"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp"`
}

type mediaPart struct {
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
	FileName string `json:"fileName"`
}

type gatewayMessage struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *mediaPart `json:"imageMessage"`
	AudioMessage    *mediaPart `json:"audioMessage"`
	VideoMessage    *mediaPart `json:"videoMessage"`
	DocumentMessage *mediaPart `json:"documentMessage"`
	StickerMessage  *mediaPart `json:"stickerMessage"`
	Base64          string     `json:"base64"`
}

type connectionData struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
}

var errSkipMessage = errors.New("message not stored")

// normalizeEventName accepts both MESSAGES_UPSERT and messages.upsert.
func normalizeEventName(e string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(e), "_", "."))
}

// HandleGatewayWebhook receives gateway events for one channel. The caller
// must present the mapped instance's key, in the apikey header or the body,
// and may only speak for that instance.
func (h *Handler) HandleGatewayWebhook(c *gin.Context) {
	var evt gatewayEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, ok := h.mappingFor(c)
	if !ok {
		return
	}
	key := firstNonEmpty(c.GetHeader("apikey"), evt.APIKey)
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(m.APIKey)) != 1 {
		h.logger.Warn("webhook rejected: bad gateway key", slog.String("channel", m.ChannelID), slog.String("instance", m.InstanceName))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid gateway credentials", "code": "unauthorized"})
		return
	}
	ctx := c.Request.Context()

	switch normalizeEventName(evt.Event) {
	case "messages.upsert":
		if !h.sameInstance(c, m, evt.Instance) {
			return
		}
		var data upsertData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid messages.upsert payload"})
			return
		}
		msg, err := inboundMessage(data, time.Now())
		if errors.Is(err, errSkipMessage) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		id, err := h.Router.PersistInbound(ctx, m.ChannelID, msg)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stored", "id": id})

	case "connection.update":
		var data connectionData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection.update payload"})
			return
		}
		if !h.sameInstance(c, m, firstNonEmpty(evt.Instance, data.Instance)) {
			return
		}
		state := h.Lifecycle.ObserveState(ctx, m.InstanceName, data.State)
		c.JSON(http.StatusOK, gin.H{"status": "received", "state": state})

	case "qrcode.updated":
		if !h.sameInstance(c, m, evt.Instance) {
			return
		}
		h.Lifecycle.ObserveState(ctx, m.InstanceName, "qrcode")
		h.logger.Info("pairing code refreshed", slog.String("channel", m.ChannelID), slog.String("instance", m.InstanceName))
		c.JSON(http.StatusOK, gin.H{"status": "received"})

	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

// sameInstance rejects events naming an instance other than the channel's.
// An event without an instance name is taken to be for the mapped one.
func (h *Handler) sameInstance(c *gin.Context, m *entities.InstanceMapping, named string) bool {
	if named == "" || named == m.InstanceName {
		return true
	}
	h.logger.Warn("webhook rejected: instance not mapped to channel",
		slog.String("channel", m.ChannelID),
		slog.String("mapped", m.InstanceName),
		slog.String("named", named))
	c.JSON(http.StatusForbidden, gin.H{"error": "instance is not mapped to this channel", "code": "instance_mismatch"})
	return false
}

// inboundMessage converts a messages.upsert payload into a conversation row.
// Own echoes and group traffic are skipped.
func inboundMessage(data upsertData, now time.Time) (entities.Message, error) {
	jid := data.Key.RemoteJID
	if data.Key.FromMe || jid == "" || strings.HasSuffix(jid, "@g.us") || strings.HasSuffix(jid, "@broadcast") {
		return entities.Message{}, errSkipMessage
	}
	msg := entities.Message{
		SessionID: strings.SplitN(jid, "@", 2)[0],
		Role:      entities.RoleContact,
		CreatedAt: parseTimestamp(data.MessageTimestamp, now),
	}

	m := data.Message
	var media *mediaPart
	switch {
	case m.ImageMessage != nil:
		media, msg.Kind = m.ImageMessage, entities.KindImage
	case m.AudioMessage != nil:
		media, msg.Kind = m.AudioMessage, entities.KindAudio
	case m.VideoMessage != nil:
		media, msg.Kind = m.VideoMessage, entities.KindVideo
	case m.DocumentMessage != nil:
		media, msg.Kind = m.DocumentMessage, entities.KindDocument
	case m.StickerMessage != nil:
		media, msg.Kind = m.StickerMessage, entities.KindSticker
	}

	if media == nil {
		msg.Body = m.Conversation
		if msg.Body == "" && m.ExtendedTextMessage != nil {
			msg.Body = m.ExtendedTextMessage.Text
		}
		if msg.Body == "" {
			return entities.Message{}, errSkipMessage
		}
		msg.Kind = entities.KindText
		return msg, nil
	}

	msg.MimeType = media.Mimetype
	msg.FileName = media.FileName
	if m.Base64 != "" {
		mime := strings.TrimSpace(strings.SplitN(media.Mimetype, ";", 2)[0])
		if mime == "" {
			mime = "application/octet-stream"
		}
		msg.Body = "data:" + mime + ";base64," + m.Base64
	} else {
		msg.Body = usecases.MediaPlaceholder
	}
	return msg, nil
}

// parseTimestamp accepts unix seconds as a JSON number or string.
func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Unix(n, 0).UTC()
}

func decodePNGDataURI(uri string) ([]byte, error) {
	mime, payload, ok := usecases.ParseDataURI(uri)
	if !ok || mime != "image/png" {
		return nil, errors.New("not a png data uri")
	}
	return base64.StdEncoding.DecodeString(payload)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
