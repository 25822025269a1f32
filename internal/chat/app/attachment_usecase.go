package app

import (
	"context"
	"io"
	"path"
	"strings"

	"chat_stream_service/internal/chat/domain"
	"chat_stream_service/internal/chat/repository"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// AttachmentUseCase image uploads for messages
type AttachmentUseCase struct {
	repo     repository.AttachmentRepository
	maxBytes int64
}

// NewAttachmentUseCase create AttachmentUseCase, maxBytes <= 0 means no limit
func NewAttachmentUseCase(repo repository.AttachmentRepository, maxBytes int64) *AttachmentUseCase {
	return &AttachmentUseCase{repo: repo, maxBytes: maxBytes}
}

// Upload store an image under <conversation>/<uuid><ext> and return its url
func (uc *AttachmentUseCase) Upload(ctx context.Context, conversationID, filename, contentType string, size int64, body io.Reader) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", errors.Wrapf(domain.ErrUploadFailure, "content type %q is not an image", contentType)
	}
	if size <= 0 {
		return "", errors.Wrap(domain.ErrUploadFailure, "empty file")
	}
	if uc.maxBytes > 0 && size > uc.maxBytes {
		return "", errors.Wrapf(domain.ErrUploadFailure, "file is %d bytes, limit %d", size, uc.maxBytes)
	}

	objectName := conversationID + "/" + uuid.New().String() + strings.ToLower(path.Ext(filename))
	url, err := uc.repo.Put(ctx, objectName, body, size, contentType)
	if err != nil {
		return "", errors.Wrap(domain.ErrUploadFailure, err.Error())
	}
	return url, nil
}
