package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Attachment struct {
	ID           uuid.UUID `json:"id"`
	MessageID    uuid.UUID `json:"message_id"`
	Filename     string    `json:"filename"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	StorageKey   string    `json:"-"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	ThumbnailKey *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`

	// Заполняются при чтении, если настроено хранилище
	URL          string  `json:"url,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
}

func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.ContentType, "image/")
}

// AttachmentInput: вложение, уже загруженное клиентом в хранилище.
type AttachmentInput struct {
	StorageKey   string  `json:"s3_key" binding:"required"`
	Filename     string  `json:"filename" binding:"required"`
	ContentType  string  `json:"content_type"`
	Size         int64   `json:"size"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	ThumbnailKey *string `json:"thumbnail_s3_key,omitempty"`
}

const (
	MaxAttachmentSize        int64 = 100 * 1024 * 1024
	MaxAttachmentsPerMessage       = 10
)

var allowedAttachmentTypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"image/webp":         {},
	"image/svg+xml":      {},
	"image/bmp":          {},
	"image/tiff":         {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.ms-excel":                                                  {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.ms-powerpoint":                                             {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.oasis.opendocument.text":                                   {},
	"application/vnd.oasis.opendocument.spreadsheet":                            {},
	"application/vnd.oasis.opendocument.presentation":                           {},
	"application/rtf":              {},
	"text/plain":                   {},
	"text/csv":                     {},
	"text/markdown":                {},
	"text/html":                    {},
	"text/xml":                     {},
	"application/json":             {},
	"application/zip":              {},
	"application/x-rar-compressed": {},
	"application/vnd.rar":          {},
	"application/x-7z-compressed":  {},
	"application/gzip":             {},
	"application/x-tar":            {},
	"audio/mpeg":                   {},
	"audio/wav":                    {},
	"audio/ogg":                    {},
	"audio/mp4":                    {},
	"video/mp4":                    {},
	"video/webm":                   {},
	"video/ogg":                    {},
	"video/quicktime":              {},
}

// IsAllowedAttachmentType: пустой тип допускается (браузер не смог его определить).
func IsAllowedAttachmentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	_, ok := allowedAttachmentTypes[contentType]
	return ok
}

func IsValidAttachmentSize(size int64) bool {
	return size > 0 && size <= MaxAttachmentSize
}
