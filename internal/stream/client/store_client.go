// Package client talks to the chat service: an HTTP message store over
// fasthttp and a websocket event bus.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"chat_stream_service/internal/chat/domain"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// DefaultRequestTimeout used when the context carries no deadline
const DefaultRequestTimeout = 10 * time.Second

// HTTPStore MessageStore backed by the chat service REST API
type HTTPStore struct {
	client  *fasthttp.Client
	baseURL string
	token   string
	timeout time.Duration
}

// NewHTTPStore create HTTPStore; a nil client gets a default one
func NewHTTPStore(baseURL, token string, client *fasthttp.Client) *HTTPStore {
	if client == nil {
		client = &fasthttp.Client{
			Name:                "chat-stream-client",
			ReadTimeout:         DefaultRequestTimeout,
			WriteTimeout:        DefaultRequestTimeout,
			MaxIdleConnDuration: time.Minute,
		}
	}
	return &HTTPStore{client: client, baseURL: baseURL, token: token, timeout: DefaultRequestTimeout}
}

// WithTimeout per request timeout when the context has no deadline
func (s *HTTPStore) WithTimeout(d time.Duration) *HTTPStore {
	if d > 0 {
		s.timeout = d
	}
	return s
}

type errorBody struct {
	Error string `json:"error"`
}

// statusError map a non-2xx response onto the domain errors
func statusError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == fasthttp.StatusNotFound:
		return errors.Wrap(domain.ErrMessageNotFound, msg)
	case status == fasthttp.StatusForbidden:
		return errors.Wrap(domain.ErrNotMessageOwner, msg)
	case status >= fasthttp.StatusInternalServerError:
		return errors.Wrapf(domain.ErrStoreUnavailable, "status %d: %s", status, msg)
	case status == fasthttp.StatusBadRequest:
		// 400 carries the server's error text, recover the sentinel from it
		for _, sentinel := range []error{domain.ErrEmptyMessage, domain.ErrInvalidReaction, domain.ErrUploadFailure} {
			if strings.Contains(msg, sentinel.Error()) {
				return errors.Wrap(sentinel, msg)
			}
		}
		return errors.Errorf("status %d: %s", status, msg)
	default:
		return errors.Errorf("status %d: %s", status, msg)
	}
}

type request struct {
	method      string
	path        string
	query       map[string]string
	body        []byte
	contentType string
}

func (s *HTTPStore) do(ctx context.Context, r request, out any) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(domain.ErrStoreUnavailable, err.Error())
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + r.path)
	req.Header.SetMethod(r.method)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+s.token)
	for k, v := range r.query {
		req.URI().QueryArgs().Set(k, v)
	}
	if r.body != nil {
		req.Header.SetContentType(r.contentType)
		req.SetBody(r.body)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = s.client.DoDeadline(req, resp, deadline)
	} else {
		err = s.client.DoTimeout(req, resp, s.timeout)
	}
	if err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "%s %s: %v", r.method, r.path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return statusError(status, resp.Body())
	}
	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "decode %s: %v", r.path, err)
	}
	return nil
}

func (s *HTTPStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	return s.do(ctx, request{method: method, path: path, body: body, contentType: "application/json"}, out)
}

func messagesPath(conv string) string {
	return "/conversations/" + conv + "/messages"
}

type messagesResponse struct {
	Messages []domain.MessageEntry `json:"messages"`
}

func (s *HTTPStore) page(ctx context.Context, conv string, query map[string]string) ([]domain.MessageEntry, error) {
	var out messagesResponse
	if err := s.do(ctx, request{method: fasthttp.MethodGet, path: messagesPath(conv), query: query}, &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []domain.MessageEntry{}
	}
	return out.Messages, nil
}

func (s *HTTPStore) FetchInitialPage(ctx context.Context, conversationID string, limit int) ([]domain.MessageEntry, error) {
	return s.page(ctx, conversationID, map[string]string{"limit": strconv.Itoa(limit)})
}

func (s *HTTPStore) FetchOlderPage(ctx context.Context, conversationID string, beforeID domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	return s.page(ctx, conversationID, map[string]string{"limit": strconv.Itoa(limit), "before": beforeID.String()})
}

func (s *HTTPStore) FetchNewerPage(ctx context.Context, conversationID string, afterID domain.MessageID, limit int) ([]domain.MessageEntry, error) {
	return s.page(ctx, conversationID, map[string]string{"limit": strconv.Itoa(limit), "after": afterID.String()})
}

func (s *HTTPStore) FetchByIDs(ctx context.Context, conversationID string, ids []domain.MessageID) ([]domain.MessageEntry, error) {
	var out messagesResponse
	in := map[string]any{"ids": ids}
	if err := s.doJSON(ctx, fasthttp.MethodPost, messagesPath(conversationID)+"/lookup", in, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (s *HTTPStore) SendMessage(ctx context.Context, req domain.SendRequest) (*domain.MessageEntry, error) {
	in := map[string]any{
		"content":         req.Content,
		"image_url":       req.ImageURL,
		"parent_id":       req.ParentID,
		"sender_username": req.SenderUsername,
		"sender_avatar":   req.SenderAvatar,
	}
	var out domain.MessageEntry
	if err := s.doJSON(ctx, fasthttp.MethodPost, messagesPath(req.ConversationID), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) EditMessage(ctx context.Context, id domain.MessageID, content string) (*domain.MessageEntry, error) {
	var out domain.MessageEntry
	if err := s.doJSON(ctx, fasthttp.MethodPatch, "/messages/"+id.String(), map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *HTTPStore) DeleteMessage(ctx context.Context, id domain.MessageID) error {
	return s.do(ctx, request{method: fasthttp.MethodDelete, path: "/messages/" + id.String()}, nil)
}

func reactionsPath(conv string, id domain.MessageID) string {
	return messagesPath(conv) + "/" + id.String() + "/reactions"
}

// AddReaction profileID comes from the token on the server
func (s *HTTPStore) AddReaction(ctx context.Context, conversationID string, messageID domain.MessageID, profileID, emoji string) error {
	return s.doJSON(ctx, fasthttp.MethodPost, reactionsPath(conversationID, messageID), map[string]string{"emoji": emoji}, nil)
}

func (s *HTTPStore) RemoveReaction(ctx context.Context, conversationID string, messageID domain.MessageID, profileID, emoji string) error {
	return s.do(ctx, request{
		method: fasthttp.MethodDelete,
		path:   reactionsPath(conversationID, messageID),
		query:  map[string]string{"emoji": emoji},
	}, nil)
}

func (s *HTTPStore) MarkRead(ctx context.Context, conversationID, profileID string) error {
	return s.do(ctx, request{method: fasthttp.MethodPost, path: "/conversations/" + conversationID + "/read"}, nil)
}

// UploadAttachment multipart upload, the part's content type is sniffed from body
func (s *HTTPStore) UploadAttachment(ctx context.Context, conversationID, filename string, body []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", http.DetectContentType(body))
	part, err := w.CreatePart(h)
	if err != nil {
		return "", errors.Wrap(domain.ErrUploadFailure, err.Error())
	}
	if _, err := part.Write(body); err != nil {
		return "", errors.Wrap(domain.ErrUploadFailure, err.Error())
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(domain.ErrUploadFailure, err.Error())
	}

	var out struct {
		URL string `json:"url"`
	}
	err = s.do(ctx, request{
		method:      fasthttp.MethodPost,
		path:        "/conversations/" + conversationID + "/attachments",
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, &out)
	if err != nil {
		return "", errors.Wrap(domain.ErrUploadFailure, err.Error())
	}
	return out.URL, nil
}
