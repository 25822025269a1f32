package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chat_stream_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAttachmentUseCase_Upload(t *testing.T) {
	ctx := context.Background()
	repo := new(MockAttachmentRepository)
	uc := NewAttachmentUseCase(repo, 1024)

	repo.On("Put", ctx, mock.MatchedBy(func(name string) bool {
		return strings.HasPrefix(name, "c1/") && strings.HasSuffix(name, ".png")
	}), mock.Anything, int64(4), "image/png").Return("http://minio/chat/c1/x.png", nil)

	url, err := uc.Upload(ctx, "c1", "Cat.PNG", "image/png", 4, strings.NewReader("data"))

	require.NoError(t, err)
	assert.Equal(t, "http://minio/chat/c1/x.png", url)
	repo.AssertExpectations(t)
}

func TestAttachmentUseCase_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int64
	}{
		{name: "not an image", contentType: "application/pdf", size: 10},
		{name: "too large", contentType: "image/jpeg", size: 2048},
		{name: "empty", contentType: "image/jpeg", size: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockAttachmentRepository)
			uc := NewAttachmentUseCase(repo, 1024)

			_, err := uc.Upload(context.Background(), "c1", "f", tt.contentType, tt.size, strings.NewReader(""))

			assert.ErrorIs(t, err, domain.ErrUploadFailure)
			repo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAttachmentUseCase_StorageFailure(t *testing.T) {
	repo := new(MockAttachmentRepository)
	uc := NewAttachmentUseCase(repo, 0)
	repo.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("bucket gone"))

	_, err := uc.Upload(context.Background(), "c1", "a.gif", "image/gif", 3, strings.NewReader("gif"))

	assert.ErrorIs(t, err, domain.ErrUploadFailure)
}
