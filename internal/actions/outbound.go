package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// SendEmailAction sends one email per resolved address through the Sender.
type SendEmailAction struct {
	deps *Deps
}

// NewSendEmailAction creates the send_email executor.
func NewSendEmailAction(deps *Deps) *SendEmailAction {
	return &SendEmailAction{deps: deps.withDefaults()}
}

func (a *SendEmailAction) Kind() schema.ActionKind { return schema.ActionSendEmail }

func (a *SendEmailAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.SendEmailConfig](in)
	if err != nil {
		return nil, err
	}
	tree := in.Event.Tree()
	subject := expressions.Interpolate(cfg.Subject, tree)
	body := expressions.Interpolate(cfg.Body, tree)
	html := expressions.Interpolate(cfg.HTML, tree)

	return fanOut(ctx, a.deps, in, "email", cfg.RecipientType, cfg.To, userEmail,
		func(ctx context.Context, to string) error {
			return a.deps.Sender.SendEmail(ctx, to, subject, html, body)
		})
}

// SendSMSAction sends one text message per resolved phone number.
type SendSMSAction struct {
	deps *Deps
}

// NewSendSMSAction creates the send_sms executor.
func NewSendSMSAction(deps *Deps) *SendSMSAction {
	return &SendSMSAction{deps: deps.withDefaults()}
}

func (a *SendSMSAction) Kind() schema.ActionKind { return schema.ActionSendSMS }

func (a *SendSMSAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.SendSMSConfig](in)
	if err != nil {
		return nil, err
	}
	message := expressions.Interpolate(cfg.Message, in.Event.Tree())

	return fanOut(ctx, a.deps, in, "sms", cfg.RecipientType, cfg.To, userPhone,
		func(ctx context.Context, to string) error {
			return a.deps.Sender.SendSMS(ctx, to, message)
		})
}

// fanOut resolves contacts and calls send once per contact, each bounded by
// the channel timeout. Individual failures do not stop the remaining sends;
// if any failed, a channel error summarizing them is returned at the end.
func fanOut(
	ctx context.Context,
	deps *Deps,
	in Input,
	channel, selector string,
	literal []string,
	field func(*store.User) string,
	send func(ctx context.Context, to string) error,
) (*Output, error) {
	logger := logging.LogWith(ctx, deps.Logger).With("channel", channel)

	users, err := resolveRecipients(ctx, deps.Store, selector, in.Event)
	if err != nil {
		return nil, err
	}

	tree := in.Event.Tree()
	addresses := make([]string, 0, len(literal))
	for _, raw := range literal {
		addr := strings.TrimSpace(expressions.Interpolate(raw, tree))
		if addr == "" || strings.Contains(addr, "{{") {
			logger.Warn("unresolved literal recipient", "to", raw)
			continue
		}
		addresses = append(addresses, addr)
	}

	contacts, missing := contactList(users, addresses, field)
	for _, id := range missing {
		logger.Warn("recipient has no contact details", "user_id", id)
	}

	out := &Output{Skipped: len(missing)}
	if len(contacts) == 0 {
		logger.Warn("no recipients", "recipient_type", selector)
		out.Detail = "no recipients"
		return out, nil
	}

	var failed []string
	var firstErr error
	for _, to := range contacts {
		sendCtx, cancel := context.WithTimeout(ctx, deps.ChannelTimeout)
		err := send(sendCtx, to)
		cancel()
		deps.Metrics.ChannelSend(channel, err)

		if err != nil {
			logger.Error("send failed", "to", to, "error", err)
			failed = append(failed, to)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out.Affected++
	}

	if len(failed) > 0 {
		code := schema.ErrCodeChannel
		if schema.ErrorCode(firstErr) == schema.ErrCodeTimeout && len(failed) == len(contacts) {
			code = schema.ErrCodeTimeout
		}
		return out, schema.NewErrorf(code, "%s: %d of %d sends failed: %s",
			channel, len(failed), len(contacts), firstErr.Error()).
			WithStep(in.stepID()).
			WithCause(firstErr).
			WithDetails(map[string]any{"failed": failed, "sent": out.Affected})
	}
	out.Detail = fmt.Sprintf("%d %s sent", out.Affected, channel)
	return out, nil
}
