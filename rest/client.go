// Package rest talks to the marketplace REST collaborators the messaging
// subsystem depends on: the conversation list, paginated message history
// and the storage endpoints for attachment and voice uploads. Every
// request carries the session's bearer credential.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"

	"github.com/gigbridge/chatkit/auth"
	"github.com/gigbridge/chatkit/wire"
)

type Client struct {
	base string
	sess auth.Session
	http *http.Client

	// retryMaxElapsed bounds the backoff window for idempotent pulls.
	retryMaxElapsed time.Duration
}

func NewClient(baseURL string, sess auth.Session, timeout, retryMaxElapsed time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:            baseURL,
		sess:            sess,
		http:            &http.Client{Timeout: timeout},
		retryMaxElapsed: retryMaxElapsed,
	}
}

// Conversations implements store.History.
func (c *Client) Conversations(ctx context.Context) ([]*wire.Conversation, error) {
	var out []*wire.Conversation
	if err := c.getJSON(ctx, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages implements store.History.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]*wire.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out []*wire.Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.getJSON(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type uploadResp struct {
	URL string `json:"url"`
}

// UploadAttachment posts one file to the storage collaborator, scoped to
// the conversation, and returns the content URL. Not retried: an upload
// runs to completion or failure.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, fileName string, data []byte) (string, error) {
	path := fmt.Sprintf("/conversations/%s/attachments", url.PathEscape(conversationID))
	return c.upload(ctx, path, fileName, data, nil)
}

// UploadVoice posts a captured voice recording and returns the content URL.
func (c *Client) UploadVoice(ctx context.Context, conversationID string, data []byte, duration time.Duration) (string, error) {
	path := fmt.Sprintf("/conversations/%s/voice", url.PathEscape(conversationID))
	fields := map[string]string{
		"duration": strconv.FormatFloat(duration.Seconds(), 'f', 3, 64),
	}
	return c.upload(ctx, path, "voice-message.webm", data, fields)
}

func (c *Client) upload(ctx context.Context, path, fileName string, data []byte, fields map[string]string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.sess.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp.Body)

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("upload %s: status %d", path, resp.StatusCode)
	}

	var out uploadResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("upload %s: decode response: %v", path, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload %s: empty content url", path)
	}
	return out.URL, nil
}

// getJSON runs an idempotent GET with exponential backoff on transient
// failures (network errors and 5xx).
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.sess.Token())

		resp, err := c.http.Do(req)
		if err != nil {
			glog.V(5).Infof("rest: GET %s: %v", u, err)
			return err
		}
		defer drain(resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("GET %s: status %d", path, resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("GET %s: decode: %v", path, err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.retryMaxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
