// Package attachments stores blobs referenced by media messages.
package attachments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"

	"chatline/internal/domain/shared/errkind"
	domainuser "chatline/internal/domain/user"
)

const DefaultMaxSize int64 = 25 << 20

var (
	ErrUnavailable = errors.New("attachments: object storage is not configured")
	ErrEmpty       = errkind.New(errkind.ErrValidation, "attachments: file is empty")
	ErrTooLarge    = errkind.New(errkind.ErrValidation, "attachments: file is too large")
	ErrFileName    = errkind.New(errkind.ErrValidation, "attachments: file name is required")
)

type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (publicURL string, err error)
}

// Attachment describes a stored blob in the shape a media message expects.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	FileName string `json:"file_name"`
}

type UploadParams struct {
	Owner       domainuser.ID
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Service struct {
	Uploader Uploader
	MaxSize  int64
	NewID    func() string
	Logger   *slog.Logger
}

// Upload stores the blob under attachments/<owner>/<random id><ext>.
func (s *Service) Upload(ctx context.Context, params UploadParams) (Attachment, error) {
	if s == nil || s.Uploader == nil {
		return Attachment{}, ErrUnavailable
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(params.FileName), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return Attachment{}, ErrFileName
	}
	if params.Size == 0 || params.Body == nil {
		return Attachment{}, ErrEmpty
	}
	if params.Size > s.maxSize() {
		return Attachment{}, ErrTooLarge
	}
	ext := strings.ToLower(path.Ext(name))
	contentType := strings.TrimSpace(params.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := "attachments/" + string(params.Owner) + "/" + s.newID() + ext
	url, err := s.Uploader.Upload(ctx, key, params.Body, params.Size, contentType)
	if err != nil {
		return Attachment{}, err
	}
	s.logger().Info("attachment uploaded", "user_id", string(params.Owner), "key", key, "size", params.Size)
	return Attachment{URL: url, MimeType: contentType, Size: params.Size, FileName: name}, nil
}

func (s *Service) maxSize() int64 {
	if s.MaxSize > 0 {
		return s.MaxSize
	}
	return DefaultMaxSize
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
