// Package channels holds the outbound message collaborators: email/SMS
// delivery and chat posting.
package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rendis/caseflow/pkg/schema"
)

// Sender delivers email and SMS messages. Implementations must honor ctx
// cancellation so the caller can bound each send.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, html, text string) error
	SendSMS(ctx context.Context, to, body string) error
}

// Poster posts chat messages either to an incoming webhook or through a
// bot token to a channel.
type Poster interface {
	PostWebhook(ctx context.Context, webhookURL, text string) error
	PostChannel(ctx context.Context, accessToken, channel, text string) error
}

const maxErrorBody = 4 * 1024

// classify turns a transport failure into a channel-class EngineError.
// Deadline overruns become TIMEOUT_ERROR.
func classify(ctx context.Context, channel string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return schema.NewErrorf(schema.ErrCodeTimeout, "%s: send timed out", channel).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeChannel, "%s: %v", channel, err).WithCause(err)
}

// statusError builds a CHANNEL_ERROR from a non-2xx response, keeping a
// bounded excerpt of the body.
func statusError(channel string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return schema.NewErrorf(schema.ErrCodeChannel, "%s: server returned %d", channel, resp.StatusCode).
		WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(body)})
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func newClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
}

func requireField(channel, name, value string) error {
	if value == "" {
		return schema.NewError(schema.ErrCodeChannel, fmt.Sprintf("%s: %s is required", channel, name))
	}
	return nil
}
