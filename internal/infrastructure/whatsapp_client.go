package infrastructure

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"project_atendimento/internal/entities"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is one embedded WhatsApp session, named after its gateway instance.
type WhatsAppClient struct {
	Client   *whatsmeow.Client
	Instance string

	logger *slog.Logger

	qrLock  sync.RWMutex
	qrCode  string
	qrReady chan struct{}
}

func NewWhatsAppClient(dbPath, instance string, logger *slog.Logger) (*WhatsAppClient, error) {
	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(context.Background(), "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	clientLog := waLog.Stdout("Client", "WARN", true)
	return &WhatsAppClient{
		Client:   whatsmeow.NewClient(deviceStore, clientLog),
		Instance: instance,
		logger:   logger.With(slog.String("instance", instance)),
		qrReady:  make(chan struct{}),
	}, nil
}

// Connect opens the socket. A device without a stored session starts QR
// pairing; codes are published through QR().
func (w *WhatsAppClient) Connect() error {
	if w.Client.IsConnected() {
		return nil
	}
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.logger.Info("whatsapp session resumed")
		return nil
	}

	w.resetQR()
	qrChan, err := w.Client.GetQRChannel(context.Background())
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.qrLock.Lock()
			w.qrCode = evt.Code
			select {
			case <-w.qrReady:
			default:
				close(w.qrReady)
			}
			w.qrLock.Unlock()
			w.logger.Debug("qr code issued")
		default:
			w.logger.Info("login event", slog.String("event", evt.Event))
			w.qrLock.Lock()
			w.qrCode = ""
			w.qrLock.Unlock()
		}
	}
}

func (w *WhatsAppClient) resetQR() {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrReady = make(chan struct{})
	w.qrLock.Unlock()
}

// WaitQR blocks until a QR code is issued or ctx ends.
func (w *WhatsAppClient) WaitQR(ctx context.Context) (string, error) {
	w.qrLock.RLock()
	ready := w.qrReady
	w.qrLock.RUnlock()
	select {
	case <-ready:
		return w.QR(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (w *WhatsAppClient) QR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

// State maps the socket and login status onto ConnectionState.
func (w *WhatsAppClient) State() entities.ConnectionState {
	switch {
	case w.Client.IsConnected() && w.IsLoggedIn():
		return entities.StateConnected
	case w.Client.IsConnected() || w.QR() != "":
		return entities.StateConnecting
	default:
		return entities.StateDisconnected
	}
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.resetQR()
	if !w.IsLoggedIn() {
		w.Client.Disconnect()
		return nil
	}
	return w.Client.Logout(ctx)
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func toJID(number string) (types.JID, error) {
	if strings.Contains(number, "@") {
		return types.ParseJID(number)
	}
	return types.ParseJID(number + "@s.whatsapp.net")
}

func (w *WhatsAppClient) SendText(ctx context.Context, to, content string) error {
	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("%w: invalid number %q: %v", entities.ErrInvalidContent, to, err)
	}
	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(content),
	})
	return err
}

// SendMedia uploads data and sends it as the message kind of req.
func (w *WhatsAppClient) SendMedia(ctx context.Context, to string, data []byte, req entities.OutboundRequest) error {
	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("%w: invalid number %q: %v", entities.ErrInvalidContent, to, err)
	}

	mediaType := whatsmeow.MediaDocument
	switch req.MessageType {
	case entities.KindImage, entities.KindSticker:
		mediaType = whatsmeow.MediaImage
	case entities.KindAudio:
		mediaType = whatsmeow.MediaAudio
	case entities.KindVideo:
		mediaType = whatsmeow.MediaVideo
	}

	up, err := w.Client.Upload(ctx, data, mediaType)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}

	caption := req.Caption
	if caption == "" && req.FileData != "" {
		caption = req.Content
	}
	msg := &waProto.Message{}
	switch mediaType {
	case whatsmeow.MediaImage:
		msg.ImageMessage = &waProto.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.MimeType),
			Caption:       proto.String(caption),
		}
	case whatsmeow.MediaAudio:
		msg.AudioMessage = &waProto.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.MimeType),
			PTT:           proto.Bool(strings.Contains(req.MimeType, "ogg")),
		}
	case whatsmeow.MediaVideo:
		msg.VideoMessage = &waProto.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.MimeType),
			Caption:       proto.String(caption),
		}
	default:
		msg.DocumentMessage = &waProto.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(req.MimeType),
			FileName:      proto.String(req.FileName),
			Caption:       proto.String(caption),
		}
	}

	_, err = w.Client.SendMessage(ctx, jid, msg)
	return err
}

// ParseMessage converts an incoming event into a conversation message.
// Media is downloaded and kept inline as a data: URI.
func (w *WhatsAppClient) ParseMessage(ctx context.Context, evt *events.Message) (entities.Message, bool) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.Chat.Server == types.GroupServer {
		return entities.Message{}, false
	}
	msg := entities.Message{
		SessionID: evt.Info.Sender.User,
		Role:      entities.RoleContact,
		CreatedAt: evt.Info.Timestamp,
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	m := evt.Message
	var media whatsmeow.DownloadableMessage
	switch {
	case m.GetConversation() != "":
		msg.Body = m.GetConversation()
		msg.Kind = entities.KindText
	case m.GetExtendedTextMessage() != nil:
		msg.Body = m.GetExtendedTextMessage().GetText()
		msg.Kind = entities.KindText
	case m.GetImageMessage() != nil:
		media, msg.Kind, msg.MimeType = m.GetImageMessage(), entities.KindImage, m.GetImageMessage().GetMimetype()
	case m.GetAudioMessage() != nil:
		media, msg.Kind, msg.MimeType = m.GetAudioMessage(), entities.KindAudio, m.GetAudioMessage().GetMimetype()
	case m.GetVideoMessage() != nil:
		media, msg.Kind, msg.MimeType = m.GetVideoMessage(), entities.KindVideo, m.GetVideoMessage().GetMimetype()
	case m.GetDocumentMessage() != nil:
		media, msg.Kind, msg.MimeType = m.GetDocumentMessage(), entities.KindDocument, m.GetDocumentMessage().GetMimetype()
		msg.FileName = m.GetDocumentMessage().GetFileName()
	case m.GetStickerMessage() != nil:
		media, msg.Kind, msg.MimeType = m.GetStickerMessage(), entities.KindSticker, m.GetStickerMessage().GetMimetype()
	default:
		return entities.Message{}, false
	}

	if media != nil {
		data, err := w.Client.Download(ctx, media)
		if err != nil {
			w.logger.Warn("media download failed", slog.String("from", msg.SessionID), slog.Any("error", err))
			return entities.Message{}, false
		}
		mime := msg.MimeType
		if i := strings.IndexByte(mime, ';'); i >= 0 {
			mime = strings.TrimSpace(mime[:i])
		}
		msg.Body = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	}
	return msg, true
}
