// Package webhook posts multipart alert messages to a chat webhook.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/care/sentry/internal/types"
)

// Attachment is one file part of a multipart message.
type Attachment struct {
	FileName    string
	ContentType string
	Reader      io.Reader
}

// Response is what the endpoint answered.
type Response struct {
	StatusCode int
	Body       string
}

// OK reports whether the endpoint accepted the message. Webhooks answer
// 200 with a body or 204 without one.
func (r Response) OK() bool {
	return r.StatusCode == 200 || r.StatusCode == 204
}

type Options struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// Client is the alert transport.
type Client struct {
	HTTP     *resty.Client
	endpoint string
}

func New(opts Options) *Client {
	r := resty.New()
	if opts.Timeout > 0 {
		r.SetTimeout(opts.Timeout)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "sentry"
	}
	r.SetHeader("User-Agent", ua)

	return &Client{
		HTTP:     r,
		endpoint: opts.Endpoint,
	}
}

// PostMultipart sends fields and files as one multipart/form-data request.
// Network failures are returned as TransportFailure; any HTTP answer,
// including error statuses, is returned as a Response for the caller to judge.
func (c *Client) PostMultipart(ctx context.Context, fields map[string]string, files map[string]Attachment) (Response, error) {
	if c.endpoint == "" {
		return Response{}, types.TransportError("webhook.post", errors.New("no endpoint configured"))
	}

	req := c.HTTP.R().
		SetContext(ctx).
		SetMultipartFormData(fields)
	for param, a := range files {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		req.SetMultipartField(param, a.FileName, ct, a.Reader)
	}

	resp, err := req.Post(c.endpoint)
	if err != nil {
		return Response{}, types.TransportError("webhook.post", fmt.Errorf("post: %w", err))
	}

	return Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.String(),
	}, nil
}
