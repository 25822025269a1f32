package domain

import "github.com/pkg/errors"

var (
	// ErrStoreUnavailable fetch or mutate against the message store failed
	ErrStoreUnavailable = errors.New("message store unavailable")
	// ErrOutOfOrderData a page violates ascending id order
	ErrOutOfOrderData = errors.New("out of order data")
	// ErrDuplicateEntry absorbed by upsert, never surfaced to callers
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrEventParse malformed live payload
	ErrEventParse = errors.New("event parse failure")
	// ErrUploadFailure attachment store rejected the upload
	ErrUploadFailure = errors.New("upload failure")

	// ErrMessageNotFound message id unknown to the store
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotMessageOwner only the sender may edit or delete
	ErrNotMessageOwner = errors.New("only the message sender can perform this action")
	// ErrInvalidReaction reaction must be exactly one emoji
	ErrInvalidReaction = errors.New("the reaction is not valid, it must be a single emoji")
	// ErrEmptyMessage message needs content or an image
	ErrEmptyMessage = errors.New("message needs content or an image")
)
