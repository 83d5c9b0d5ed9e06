package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// RelaySender delivers email and SMS through an HTTP JSON relay that owns
// the provider credentials. Messages are POSTed to {baseURL}/email and
// {baseURL}/sms.
type RelaySender struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRelaySender creates a RelaySender. client may be nil.
func NewRelaySender(baseURL, token string, client *http.Client) *RelaySender {
	return &RelaySender{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  newClient(client),
	}
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *RelaySender) SendEmail(ctx context.Context, to, subject, html, text string) error {
	if err := requireField("email", "recipient", to); err != nil {
		return err
	}
	return s.post(ctx, "email", emailPayload{To: to, Subject: subject, HTML: html, Text: text})
}

func (s *RelaySender) SendSMS(ctx context.Context, to, body string) error {
	if err := requireField("sms", "recipient", to); err != nil {
		return err
	}
	return s.post(ctx, "sms", smsPayload{To: to, Body: body})
}

func (s *RelaySender) post(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return classify(ctx, channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+channel, bytes.NewReader(b))
	if err != nil {
		return classify(ctx, channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return classify(ctx, channel, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return statusError(channel, resp)
	}
	drain(resp)
	return nil
}

var _ Sender = (*RelaySender)(nil)
