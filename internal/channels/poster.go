package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rendis/caseflow/pkg/schema"
)

// DefaultChatAPIBase is the Slack Web API root used for channel posts.
const DefaultChatAPIBase = "https://slack.com/api"

// HTTPPoster posts chat messages over HTTP: a {"text": ...} body to an
// incoming webhook, or a chat.postMessage call authenticated with a bot token.
type HTTPPoster struct {
	apiBase string
	client  *http.Client
}

// NewHTTPPoster creates an HTTPPoster. An empty apiBase uses
// DefaultChatAPIBase; client may be nil.
func NewHTTPPoster(apiBase string, client *http.Client) *HTTPPoster {
	if apiBase == "" {
		apiBase = DefaultChatAPIBase
	}
	return &HTTPPoster{
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  newClient(client),
	}
}

func (p *HTTPPoster) PostWebhook(ctx context.Context, webhookURL, text string) error {
	if err := requireField("chat", "webhook url", webhookURL); err != nil {
		return err
	}
	resp, err := p.postJSON(ctx, webhookURL, "", map[string]string{"text": text})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return statusError("chat", resp)
	}
	drain(resp)
	return nil
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (p *HTTPPoster) PostChannel(ctx context.Context, accessToken, channel, text string) error {
	if err := requireField("chat", "access token", accessToken); err != nil {
		return err
	}
	if err := requireField("chat", "channel", channel); err != nil {
		return err
	}

	resp, err := p.postJSON(ctx, p.apiBase+"/chat.postMessage", accessToken,
		map[string]string{"channel": channel, "text": text})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("chat", resp)
	}

	// The channel API reports application errors in a 200 body.
	var out postMessageResponse
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return classify(ctx, "chat", err)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return schema.NewErrorf(schema.ErrCodeChannel, "chat: unreadable channel API response").WithCause(err)
	}
	if !out.OK {
		return schema.NewErrorf(schema.ErrCodeChannel, "chat: channel API error %q", out.Error).
			WithDetails(map[string]any{"channel": channel})
	}
	return nil
}

func (p *HTTPPoster) postJSON(ctx context.Context, url, bearer string, payload any) (*http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, classify(ctx, "chat", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, classify(ctx, "chat", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classify(ctx, "chat", err)
	}
	return resp, nil
}

var _ Poster = (*HTTPPoster)(nil)
