package usecases

import (
	"net/url"
	"path"
	"strings"

	"project_atendimento/internal/entities"
)

// MediaPlaceholder is the legacy body meaning "media, see separate column".
const MediaPlaceholder = "[media]"

// mediaFormat ties a file extension to its MIME type and content kind.
// The first entry for a MIME type is the extension used when sending.
type mediaFormat struct {
	Ext  string
	Mime string
	Kind entities.ContentKind
}

var mediaFormats = []mediaFormat{
	{"jpg", "image/jpeg", entities.KindImage},
	{"jpeg", "image/jpeg", entities.KindImage},
	{"png", "image/png", entities.KindImage},
	{"gif", "image/gif", entities.KindImage},
	{"webp", "image/webp", entities.KindImage},
	{"heic", "image/heic", entities.KindImage},
	{"mp3", "audio/mpeg", entities.KindAudio},
	{"ogg", "audio/ogg", entities.KindAudio},
	{"opus", "audio/opus", entities.KindAudio},
	{"oga", "audio/ogg", entities.KindAudio},
	{"wav", "audio/wav", entities.KindAudio},
	{"m4a", "audio/mp4", entities.KindAudio},
	{"aac", "audio/aac", entities.KindAudio},
	{"amr", "audio/amr", entities.KindAudio},
	{"webm", "audio/webm", entities.KindAudio},
	{"mp4", "video/mp4", entities.KindVideo},
	{"mov", "video/quicktime", entities.KindVideo},
	{"3gp", "video/3gpp", entities.KindVideo},
	{"mkv", "video/x-matroska", entities.KindVideo},
	{"avi", "video/x-msvideo", entities.KindVideo},
	{"pdf", "application/pdf", entities.KindDocument},
	{"doc", "application/msword", entities.KindDocument},
	{"docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", entities.KindDocument},
	{"xls", "application/vnd.ms-excel", entities.KindDocument},
	{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", entities.KindDocument},
	{"ppt", "application/vnd.ms-powerpoint", entities.KindDocument},
	{"pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation", entities.KindDocument},
	{"zip", "application/zip", entities.KindDocument},
}

// textFormats name files for sending but never turn a link into media.
var textFormats = []mediaFormat{
	{"csv", "text/csv", entities.KindFile},
	{"txt", "text/plain", entities.KindFile},
}

var knownFormats = append(append([]mediaFormat(nil), mediaFormats...), textFormats...)

// mimeCategories maps a MIME prefix to a kind; anything unmatched is a file.
var mimeCategories = []struct {
	prefix string
	kind   entities.ContentKind
}{
	{"image/", entities.KindImage},
	{"audio/", entities.KindAudio},
	{"video/", entities.KindVideo},
	{"application/", entities.KindDocument},
}

// storageFolders maps an object-storage folder name to a kind.
var storageFolders = map[string]entities.ContentKind{
	"image":      entities.KindImage,
	"images":     entities.KindImage,
	"imagens":    entities.KindImage,
	"audio":      entities.KindAudio,
	"audios":     entities.KindAudio,
	"video":      entities.KindVideo,
	"videos":     entities.KindVideo,
	"document":   entities.KindDocument,
	"documents":  entities.KindDocument,
	"documentos": entities.KindDocument,
	"stickers":   entities.KindSticker,
}

// declaredKinds normalizes the message types gateways and the console send.
var declaredKinds = map[string]entities.ContentKind{
	"image":                      entities.KindImage,
	"imagemessage":               entities.KindImage,
	"audio":                      entities.KindAudio,
	"audiomessage":               entities.KindAudio,
	"ptt":                        entities.KindAudio,
	"voice":                      entities.KindAudio,
	"video":                      entities.KindVideo,
	"videomessage":               entities.KindVideo,
	"document":                   entities.KindDocument,
	"documentmessage":            entities.KindDocument,
	"documentwithcaptionmessage": entities.KindDocument,
	"sticker":                    entities.KindSticker,
	"stickermessage":             entities.KindSticker,
	"file":                       entities.KindFile,
}

var textDeclared = map[string]bool{
	"":                    true,
	"text":                true,
	"conversation":        true,
	"extendedtextmessage": true,
}

// Classification is the classifier's verdict for one body.
type Classification struct {
	Kind            entities.ContentKind `json:"kind"`
	MimeType        string               `json:"mime_type,omitempty"`
	Extension       string               `json:"extension,omitempty"`
	NormalizedBody  string               `json:"normalized_body"`
	TargetTableHint string               `json:"target_table_hint,omitempty"`
}

// ContentClassifier decides the media kind of message bodies.
type ContentClassifier struct {
	storagePrefix string
	tables        *TableDirectory
}

// NewContentClassifier creates a classifier. storagePrefix is the public URL
// prefix of the object-storage namespace; tables may be nil.
func NewContentClassifier(storagePrefix string, tables *TableDirectory) *ContentClassifier {
	return &ContentClassifier{
		storagePrefix: strings.TrimSpace(storagePrefix),
		tables:        tables,
	}
}

// Classify inspects body (and the declared type, when there is one).
func (c *ContentClassifier) Classify(body, declaredType string) Classification {
	result := Classification{Kind: entities.KindText, NormalizedBody: body}

	// 1. A declared media type wins
	if kind, ok := NormalizeDeclaredKind(declaredType); ok && kind != entities.KindText {
		result.Kind = kind
		if mime, _, isData := ParseDataURI(body); isData {
			result.MimeType = mime
			result.Extension = ExtensionForMIME(mime)
		} else if f, found := formatForURL(body); found {
			result.MimeType = f.Mime
			result.Extension = f.Ext
		}
		return result
	}

	if ContainsPlaceholder(body) {
		result.Kind = entities.KindFile
		return result
	}

	// 2. Inline binary
	if mime, _, ok := ParseDataURI(body); ok {
		result.Kind = KindForMIME(mime)
		result.MimeType = mime
		result.Extension = ExtensionForMIME(mime)
		return result
	}

	// 3. External reference
	if kind, f, ok := c.classifyURL(body); ok {
		result.Kind = kind
		result.MimeType = f.Mime
		result.Extension = f.Ext
		return result
	}

	return result
}

// ClassifyForChannel classifies body and fills TargetTableHint for media.
func (c *ContentClassifier) ClassifyForChannel(channelID, body, declaredType string) Classification {
	result := c.Classify(body, declaredType)
	if result.Kind.IsMedia() && c.tables != nil {
		if table, ok := c.tables.TableFor(channelID); ok {
			result.TargetTableHint = table
		}
	}
	return result
}

// IsStorageURL reports whether raw points into the object-storage namespace.
func (c *ContentClassifier) IsStorageURL(raw string) bool {
	return c.storagePrefix != "" && strings.HasPrefix(raw, c.storagePrefix)
}

func (c *ContentClassifier) classifyURL(body string) (entities.ContentKind, mediaFormat, bool) {
	if strings.ContainsAny(body, " \n\t") {
		return "", mediaFormat{}, false
	}
	u, err := url.Parse(body)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", mediaFormat{}, false
	}
	if f, ok := formatForURL(body); ok {
		return f.Kind, f, true
	}
	if !c.IsStorageURL(body) {
		return "", mediaFormat{}, false
	}
	for _, segment := range strings.Split(strings.ToLower(u.Path), "/") {
		if kind, ok := storageFolders[segment]; ok {
			return kind, mediaFormat{}, true
		}
	}
	return entities.KindFile, mediaFormat{}, true
}

func formatForURL(raw string) (mediaFormat, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return mediaFormat{}, false
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "" {
		return mediaFormat{}, false
	}
	for _, f := range mediaFormats {
		if f.Ext == ext {
			return f, true
		}
	}
	return mediaFormat{}, false
}

// NormalizeDeclaredKind maps a declared message type onto a ContentKind.
// ok is false when the declared value is empty.
func NormalizeDeclaredKind(declared string) (entities.ContentKind, bool) {
	key := strings.ToLower(strings.TrimSpace(declared))
	if key == "" {
		return "", false
	}
	if textDeclared[key] {
		return entities.KindText, true
	}
	if kind, ok := declaredKinds[key]; ok {
		return kind, true
	}
	return entities.KindFile, true
}

// ParseDataURI splits a `data:<mime>;base64,<payload>` body.
func ParseDataURI(body string) (mime, payload string, ok bool) {
	if !strings.HasPrefix(body, "data:") {
		return "", "", false
	}
	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		return "", "", false
	}
	header := body[len("data:"):comma]
	parts := strings.Split(header, ";")
	if strings.TrimSpace(parts[len(parts)-1]) != "base64" {
		return "", "", false
	}
	mime = strings.ToLower(strings.TrimSpace(parts[0]))
	return mime, body[comma+1:], true
}

// KindForMIME derives a kind from a MIME category.
func KindForMIME(mime string) entities.ContentKind {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, c := range mimeCategories {
		if strings.HasPrefix(mime, c.prefix) {
			return c.kind
		}
	}
	return entities.KindFile
}

// ExtensionForMIME returns the file extension (no dot) used when sending a
// payload of the given MIME type.
func ExtensionForMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	for _, f := range knownFormats {
		if f.Mime == mime {
			return f.Ext
		}
	}
	slash := strings.IndexByte(mime, '/')
	if slash < 0 {
		return "bin"
	}
	sub := mime[slash+1:]
	if i := strings.IndexAny(sub, "+."); i >= 0 {
		sub = sub[:i]
	}
	var sb strings.Builder
	for _, r := range sub {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return "bin"
	}
	return sb.String()
}

// MIMEForExtension is the inverse lookup, defaulting to octet-stream.
func MIMEForExtension(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, f := range knownFormats {
		if f.Ext == ext {
			return f.Mime
		}
	}
	return "application/octet-stream"
}

// ContainsPlaceholder reports whether body is the legacy media placeholder.
func ContainsPlaceholder(body string) bool {
	return strings.Contains(strings.ToLower(body), MediaPlaceholder)
}

// SubstitutePlaceholder swaps the legacy placeholder for the sibling media
// payload. Bodies without the placeholder are returned unchanged.
func SubstitutePlaceholder(body, media string) string {
	if media == "" || !ContainsPlaceholder(body) {
		return body
	}
	return media
}
