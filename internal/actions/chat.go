package actions

import (
	"context"

	"github.com/rendis/caseflow/internal/expressions"
	"github.com/rendis/caseflow/internal/logging"
	"github.com/rendis/caseflow/pkg/schema"
)

// SendChatMessageAction posts to a firm's configured chat integration.
type SendChatMessageAction struct {
	deps *Deps
}

// NewSendChatMessageAction creates the send_chat_message executor.
func NewSendChatMessageAction(deps *Deps) *SendChatMessageAction {
	return &SendChatMessageAction{deps: deps.withDefaults()}
}

func (a *SendChatMessageAction) Kind() schema.ActionKind { return schema.ActionSendChatMessage }

func (a *SendChatMessageAction) Execute(ctx context.Context, in Input) (*Output, error) {
	cfg, err := configFor[schema.ChatMessageConfig](in)
	if err != nil {
		return nil, err
	}
	logger := logging.LogWith(ctx, a.deps.Logger).With("provider", cfg.Provider)

	ci, err := a.deps.Store.GetChatIntegration(ctx, in.Event.FirmID, cfg.Provider)
	if schema.IsNotFound(err) {
		logger.Warn("send_chat_message: no enabled integration")
		return &Output{Detail: "no integration"}, nil
	}
	if err != nil {
		return nil, storeFailure(err, "get chat integration")
	}

	text := expressions.Interpolate(cfg.Message, in.Event.Tree())
	channel := cfg.Channel
	if channel == "" {
		channel = ci.ChannelID
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.deps.ChannelTimeout)
	defer cancel()

	switch {
	case ci.WebhookURL != "":
		err = a.deps.Poster.PostWebhook(sendCtx, ci.WebhookURL, text)
	case ci.AccessToken != "" && channel != "":
		err = a.deps.Poster.PostChannel(sendCtx, ci.AccessToken, channel, text)
	default:
		logger.Warn("send_chat_message: integration has no webhook or channel")
		return &Output{Detail: "integration incomplete"}, nil
	}
	a.deps.Metrics.ChannelSend("chat_"+cfg.Provider, err)
	if err != nil {
		return nil, channelFailure(err, in.stepID(), "post "+cfg.Provider+" message")
	}
	return &Output{Affected: 1, Detail: "posted to " + cfg.Provider}, nil
}
