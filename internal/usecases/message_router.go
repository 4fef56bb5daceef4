package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"
)

// RouterDeps groups the collaborators of MessageRouter.
type RouterDeps struct {
	Resolver   *IdentityResolver
	Directory  *InstanceDirectory
	Lifecycle  *ConnectionLifecycle
	Classifier *ContentClassifier
	Tables     *TableDirectory
	Dispatcher interfaces.Dispatcher
	Writer     interfaces.MessageWriter
	Limiter    interfaces.SendLimiter // optional
	Logger     *slog.Logger

	RepairOnSend bool
	Now          func() time.Time
}

// MessageRouter delivers console messages to the channel's gateway instance
// and records them in the channel's conversation table.
type MessageRouter struct {
	deps   RouterDeps
	logger *slog.Logger
}

func NewMessageRouter(deps RouterDeps) *MessageRouter {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &MessageRouter{deps: deps, logger: deps.Logger.With(slog.String("component", "message_router"))}
}

// Send delivers one message. It performs a single attempt and always answers
// with a DeliveryResult.
func (r *MessageRouter) Send(ctx context.Context, req entities.SendRequest) (result entities.DeliveryResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while sending", slog.Any("panic", rec), slog.String("channel", req.Channel))
			result = entities.DeliveryResult{Success: false, Code: entities.CodeInternal, Error: "internal error"}
		}
	}()

	channelID, err := r.deps.Resolver.Resolve(ctx, req.Channel)
	if err != nil {
		return r.fail(req, "", err)
	}

	mapping, err := r.deps.Directory.Require(ctx, channelID)
	if err != nil {
		return r.fail(req, channelID, err)
	}

	body := SubstitutePlaceholder(req.Body, req.MediaData)
	if ContainsPlaceholder(body) {
		return r.fail(req, channelID, fmt.Errorf("%w: media placeholder without payload", entities.ErrInvalidContent))
	}
	class := r.deps.Classifier.ClassifyForChannel(channelID, body, string(req.Kind))
	if declared, ok := NormalizeDeclaredKind(string(req.Kind)); ok && declared.IsMedia() && !isBinaryOrURL(body) {
		return r.fail(req, channelID, fmt.Errorf("%w: %s message needs inline data or a URL", entities.ErrInvalidContent, declared))
	}

	if r.deps.Limiter != nil && !r.deps.Limiter.Allow(channelID) {
		return r.fail(req, channelID, fmt.Errorf("%w: channel %s", entities.ErrRateLimited, channelID))
	}

	if r.deps.Lifecycle != nil {
		if err := r.deps.Lifecycle.EnsureConnected(ctx, mapping.Ref(), r.deps.RepairOnSend); err != nil {
			return r.fail(req, channelID, err)
		}
	}

	out := r.buildOutbound(mapping, req, body, class)
	if err := r.deps.Dispatcher.Dispatch(ctx, out); err != nil {
		return r.fail(req, channelID, err)
	}
	r.logger.Info("message dispatched",
		slog.String("channel", channelID),
		slog.String("instance", mapping.InstanceName),
		slog.String("kind", string(class.Kind)))

	result = entities.DeliveryResult{Success: true, ChannelID: channelID, Kind: class.Kind}

	// The message is already out; a failed local write is only a warning.
	_, err = r.write(ctx, channelID, entities.Message{
		SessionID: req.Contact,
		Body:      body,
		Kind:      class.Kind,
		Role:      entities.RoleAgent,
		FileName:  out.FileName,
		MimeType:  out.MimeType,
		Read:      true,
		CreatedAt: out.Timestamp,
	})
	if err != nil {
		r.logger.Error("failed to persist delivered message",
			slog.String("channel", channelID),
			slog.String("instance", mapping.InstanceName),
			slog.Any("error", err))
		result.Code = entities.CodePersistenceFailed
		result.Warning = "message delivered but not saved locally: " + err.Error()
	}
	return result
}

// PersistInbound records a message received through a gateway webhook.
func (r *MessageRouter) PersistInbound(ctx context.Context, channelToken string, msg entities.Message) (int64, error) {
	channelID, err := r.deps.Resolver.Resolve(ctx, channelToken)
	if err != nil {
		return 0, err
	}
	class := r.deps.Classifier.Classify(msg.Body, string(msg.Kind))
	msg.Kind = class.Kind
	if msg.MimeType == "" {
		msg.MimeType = class.MimeType
	}
	if msg.Role == "" {
		msg.Role = entities.RoleContact
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.deps.Now()
	}
	id, err := r.write(ctx, channelID, msg)
	if err != nil {
		r.logger.Error("failed to persist inbound message", slog.String("channel", channelID), slog.Any("error", err))
		return 0, err
	}
	return id, nil
}

// History returns the latest messages exchanged with contact on a channel.
func (r *MessageRouter) History(ctx context.Context, channelToken, contact string, limit int) ([]entities.Message, error) {
	channelID, err := r.deps.Resolver.Resolve(ctx, channelToken)
	if err != nil {
		return nil, err
	}
	table, err := r.deps.Tables.Resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.deps.Writer.ListMessages(ctx, table, contact, limit)
}

// MarkRead flags every unread message from contact as read.
func (r *MessageRouter) MarkRead(ctx context.Context, channelToken, contact string) (int64, error) {
	channelID, err := r.deps.Resolver.Resolve(ctx, channelToken)
	if err != nil {
		return 0, err
	}
	table, err := r.deps.Tables.Resolve(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return r.deps.Writer.MarkRead(ctx, table, contact)
}

func (r *MessageRouter) write(ctx context.Context, channelID string, msg entities.Message) (int64, error) {
	table, err := r.deps.Tables.Resolve(ctx, channelID)
	if err != nil {
		return 0, fmt.Errorf("%w: no table for channel %s: %v", entities.ErrPersistenceFailed, channelID, err)
	}
	id, err := r.deps.Writer.WriteMessage(ctx, table, msg)
	if err != nil {
		if errors.Is(err, entities.ErrPersistenceFailed) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", entities.ErrPersistenceFailed, err)
	}
	return id, nil
}

func (r *MessageRouter) buildOutbound(m *entities.InstanceMapping, req entities.SendRequest, body string, class Classification) entities.OutboundRequest {
	out := entities.OutboundRequest{
		ChannelID:   m.ChannelID,
		ChannelName: m.ChannelName,
		Instance:    m.Ref(),
		PhoneNumber: req.Contact,
		Content:     body,
		Caption:     req.Caption,
		MessageType: class.Kind,
		MimeType:    class.MimeType,
		FileFormat:  class.Extension,
		FileName:    req.FileName,
		Timestamp:   r.deps.Now(),
	}
	if !class.Kind.IsMedia() {
		return out
	}

	if mime, payload, ok := ParseDataURI(body); ok {
		out.FileData = payload
		out.MimeType = mime
		out.FileFormat = ExtensionForMIME(mime)
		out.Content = req.Caption
	} else if u, err := url.Parse(body); err == nil && out.FileName == "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			out.FileName = base
		}
	}
	if out.MimeType == "" && out.FileFormat != "" {
		out.MimeType = MIMEForExtension(out.FileFormat)
	}
	if out.FileName == "" {
		ext := out.FileFormat
		if ext == "" {
			ext = "bin"
		}
		out.FileName = fmt.Sprintf("%s_%d.%s", class.Kind, out.Timestamp.Unix(), ext)
	}
	return out
}

func (r *MessageRouter) fail(req entities.SendRequest, channelID string, err error) entities.DeliveryResult {
	code := entities.ErrorCode(err)
	r.logger.Warn("send failed",
		slog.String("channel", req.Channel),
		slog.String("channel_id", channelID),
		slog.String("code", code),
		slog.Any("error", err))
	return entities.DeliveryResult{Success: false, Code: code, Error: err.Error(), ChannelID: channelID}
}

func isBinaryOrURL(body string) bool {
	if _, _, ok := ParseDataURI(body); ok {
		return true
	}
	return strings.HasPrefix(body, "http://") || strings.HasPrefix(body, "https://")
}
