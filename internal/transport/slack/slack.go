// Package slack adapts a Slack workspace to the bridge over Socket Mode.
// Message events from allowed user IDs become inbound input; turn responses
// and notifications post back to the channel the operator last wrote in.
package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/quillback/parley/internal/bridge"
	"github.com/quillback/parley/internal/config"
	"github.com/quillback/parley/internal/errors"
	"github.com/quillback/parley/internal/logging"
)

// Handler receives parsed inbound input. *bridge.Bridge satisfies it.
type Handler interface {
	Dispatch(in bridge.Inbound)
}

// Transport is a Socket Mode Slack adapter. It implements bridge.Sink for
// the outbound direction; Run drives the inbound direction.
type Transport struct {
	cfg     config.SlackConfig
	client  *slackapi.Client
	socket  *socketmode.Client
	logger  *logging.Logger
	allowed map[string]struct{}

	// botUserID is resolved once in Run before the event loop starts.
	botUserID string

	mu      sync.Mutex
	replyTo string
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New validates cfg and builds the Slack clients. It does not connect;
// Run does.
func New(cfg config.SlackConfig, opts ...Option) (*Transport, error) {
	if cfg.BotToken == "" {
		return nil, errors.NewValidationError("slack bot token is required").
			WithField("transport.slack.bot_token")
	}
	if cfg.AppToken == "" {
		return nil, errors.NewValidationError("slack app token is required for socket mode").
			WithField("transport.slack.app_token")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, errors.NewValidationError("slack app token must start with xapp-").
			WithField("transport.slack.app_token")
	}
	if len(cfg.AllowedUserIDs) == 0 {
		return nil, errors.NewValidationError("at least one allowed slack user ID is required").
			WithField("transport.slack.allowed_user_ids")
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = struct{}{}
	}

	client := slackapi.New(
		cfg.BotToken,
		slackapi.OptionDebug(cfg.Debug),
		slackapi.OptionAppLevelToken(cfg.AppToken),
	)

	t := &Transport{
		cfg:     cfg,
		client:  client,
		socket:  socketmode.New(client, socketmode.OptionDebug(cfg.Debug)),
		logger:  logging.NopLogger(),
		allowed: allowed,
		replyTo: cfg.ChannelID,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithTransport("slack")
	return t, nil
}

// Run connects to Slack and consumes events until ctx is canceled. Blocks
// for the lifetime of the connection.
func (t *Transport) Run(ctx context.Context, h Handler) error {
	resp, err := t.client.AuthTestContext(ctx)
	if err != nil {
		// Self-message filtering falls back to the bot ID on the event.
		t.logger.Warn("slack auth test failed", "error", err)
	} else {
		t.botUserID = resp.UserID
		t.logger.Info("slack transport authenticated", "bot_user_id", resp.UserID)
	}

	go t.eventLoop(ctx, h)
	return t.socket.RunContext(ctx)
}

func (t *Transport) eventLoop(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-t.socket.Events:
			if !ok {
				return
			}
			t.handleEvent(evt, h)
		}
	}
}

func (t *Transport) handleEvent(evt socketmode.Event, h Handler) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		t.logger.Info("connecting to slack socket mode")

	case socketmode.EventTypeConnected:
		t.logger.Info("connected to slack socket mode")

	case socketmode.EventTypeConnectionError:
		t.logger.Error("slack connection error", "detail", fmt.Sprint(evt.Data))

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			t.handleMessage(msg, h)
		}

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleSlashCommand(cmd, h)
	}
}

// handleMessage filters a message event down to authorized operator input
// and dispatches it. Edits, bot traffic, and messages outside the
// configured channel (DMs excepted) are dropped.
func (t *Transport) handleMessage(ev *slackevents.MessageEvent, h Handler) {
	if ev.SubType != "" {
		return
	}
	if ev.BotID != "" || ev.User == "" || ev.User == t.botUserID {
		return
	}
	if _, ok := t.allowed[ev.User]; !ok {
		t.logger.Debug("ignoring message from unauthorized user", "user", ev.User)
		return
	}
	if t.cfg.ChannelID != "" && ev.Channel != t.cfg.ChannelID && ev.ChannelType != "im" {
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	t.setReplyTo(ev.Channel)
	h.Dispatch(bridge.ParseLine(ev.User, ev.Text))
}

// handleSlashCommand maps a registered Slack slash command onto the
// transport vocabulary: its text is taken as the command line without the
// leading slash, so "/parley status" behaves like typing "/status". Empty
// text defaults to a status report.
func (t *Transport) handleSlashCommand(cmd slackapi.SlashCommand, h Handler) {
	if _, ok := t.allowed[cmd.UserID]; !ok {
		t.logger.Debug("ignoring slash command from unauthorized user", "user", cmd.UserID)
		return
	}

	line := "/" + strings.TrimSpace(cmd.Text)
	if line == "/" {
		line = "/status"
	}

	t.setReplyTo(cmd.ChannelID)
	h.Dispatch(bridge.ParseLine(cmd.UserID, line))
}

// MaxMessageChars reports the configured outbound size cap.
func (t *Transport) MaxMessageChars() int { return t.cfg.MaxMessageChars }

// SendText posts one chunk of response text to the reply channel.
func (t *Transport) SendText(ctx context.Context, text string) error {
	return t.post(ctx, slackapi.MsgOptionText(text, false))
}

// Notify posts a status line, italicized to set it off from response text.
func (t *Transport) Notify(ctx context.Context, text string) error {
	return t.post(ctx, slackapi.MsgOptionText("_"+text+"_", false))
}

func (t *Transport) post(ctx context.Context, opt slackapi.MsgOption) error {
	channel := t.currentReplyTo()
	if channel == "" {
		// No channel configured and no inbound message yet.
		t.logger.Warn("dropping outbound message, no reply channel")
		return nil
	}
	if _, _, err := t.client.PostMessageContext(ctx, channel, opt); err != nil {
		return fmt.Errorf("post message to %s: %w", channel, err)
	}
	return nil
}

func (t *Transport) setReplyTo(channel string) {
	if channel == "" {
		return
	}
	t.mu.Lock()
	t.replyTo = channel
	t.mu.Unlock()
}

func (t *Transport) currentReplyTo() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replyTo
}
