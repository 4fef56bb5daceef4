package entities

import "time"

// ContentKind is the media kind of a message body.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindImage    ContentKind = "image"
	KindAudio    ContentKind = "audio"
	KindVideo    ContentKind = "video"
	KindDocument ContentKind = "document"
	KindSticker  ContentKind = "sticker"
	KindFile     ContentKind = "file" // binary of unknown category
)

// IsMedia reports whether the kind carries a binary or URL payload.
func (k ContentKind) IsMedia() bool {
	return k != "" && k != KindText
}

// SenderRole tells who authored a message.
type SenderRole string

const (
	RoleContact SenderRole = "contact" // external customer
	RoleAgent   SenderRole = "agent"   // staff replying from the console
	RoleBot     SenderRole = "bot"     // automated agent
)

// Message is one conversation row, independent of the physical channel table.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"` // contact phone number
	Body      string      `json:"body"`
	Kind      ContentKind `json:"kind"`
	Role      SenderRole  `json:"role"`
	FileName  string      `json:"file_name,omitempty"`
	MimeType  string      `json:"mime_type,omitempty"`
	Read      bool        `json:"read"`
	CreatedAt time.Time   `json:"created_at"`
}

// SendRequest is what the console submits to deliver a message.
type SendRequest struct {
	Channel   string      `json:"channel" binding:"required"`
	Contact   string      `json:"contact" binding:"required"`
	Body      string      `json:"body" binding:"required"`
	Kind      ContentKind `json:"kind,omitempty"`
	FileName  string      `json:"file_name,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	MediaData string      `json:"media_data,omitempty"` // payload for a legacy placeholder body
}

// OutboundRequest is the normalized payload handed to a dispatcher.
type OutboundRequest struct {
	ChannelID   string
	ChannelName string
	Instance    InstanceRef
	PhoneNumber string
	Content     string // text, or media URL when FileData is empty
	Caption     string
	MessageType ContentKind
	MimeType    string
	FileData    string // pure base64, no data: prefix
	FileName    string
	FileFormat  string // extension without dot
	Timestamp   time.Time
}

// DeliveryResult is the router's answer; it never carries a panic or raw error.
type DeliveryResult struct {
	Success   bool        `json:"success"`
	Code      string      `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Warning   string      `json:"warning,omitempty"`
	ChannelID string      `json:"channel_id,omitempty"`
	Kind      ContentKind `json:"kind,omitempty"`
}
