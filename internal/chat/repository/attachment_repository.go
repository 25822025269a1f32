package repository

import (
	"context"
	"io"
	"strings"

	"chat_stream_service/pkg/database"

	"github.com/pkg/errors"
)

// AttachmentRepository definition image storage, returns the public url of the object
type AttachmentRepository interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
}

type minioAttachmentRepository struct {
	client    *database.MinIOClient
	publicURL string
}

// NewMinIOAttachmentRepository create an AttachmentRepository on a minio bucket
func NewMinIOAttachmentRepository(client *database.MinIOClient, publicURL string) AttachmentRepository {
	return &minioAttachmentRepository{
		client:    client,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (r *minioAttachmentRepository) Put(ctx context.Context, objectName string, body io.Reader, size int64, contentType string) (string, error) {
	if err := r.client.PutObject(ctx, objectName, body, size, contentType); err != nil {
		return "", errors.Wrap(err, "put object")
	}
	return ObjectURL(r.publicURL, r.client.BucketName, objectName), nil
}

// ObjectURL public url of an object, base is e.g. http://localhost:9000
func ObjectURL(base, bucket, objectName string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + objectName
}
