// Package bot implements the Telegram transport: it feeds channel messages to
// the monitor, sends alerts and serves admin commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgwatch/internal/config"
	"tgwatch/internal/filter"
	"tgwatch/internal/model"
	"tgwatch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Handler consumes inbound channel messages and owns the live rulesets.
type Handler interface {
	HandleMessage(ctx context.Context, msg model.Message)
	Reload(ctx context.Context) error
	Check(channelID, text string) (filter.Verdict, bool)
}

// Bot is the Telegram bot that relays channel messages and sends alerts.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	cfg     *config.Config
	handler Handler
	log     *slog.Logger
}

// New creates a Bot. client carries the proxy configuration, if any.
func New(cfg *config.Config, store storage.Storage, client *http.Client, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(cfg.TelegramBotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("authorized", "username", api.Self.UserName)

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		log:   log,
	}, nil
}

// Run starts the long-polling loop, blocking until ctx is cancelled.
// Channel posts and group messages are passed to h.
func (b *Bot) Run(ctx context.Context, h Handler) {
	b.handler = h

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
			return
		}
		b.handleCallback(ctx, update.CallbackQuery)
	case update.ChannelPost != nil:
		b.dispatch(ctx, update.ChannelPost)
	case update.Message == nil:
		return
	case update.Message.Chat.IsPrivate():
		if !update.Message.IsCommand() {
			return
		}
		if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
			b.reply(update.Message.Chat.ID, "Access denied.")
			return
		}
		b.handleCommand(ctx, update.Message)
	default:
		b.dispatch(ctx, update.Message)
	}
}

// dispatch converts a channel or group message and hands it to the handler.
// Captions stand in for text on media posts.
func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	if b.handler == nil {
		return
	}
	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	var links []model.LinkAnnotation
	for _, e := range entities {
		if e.Type == "text_link" && e.URL != "" {
			links = append(links, model.LinkAnnotation{URL: e.URL})
		}
	}

	b.handler.HandleMessage(ctx, model.Message{
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		Text:      text,
		Links:     links,
	})
}

// SendAlert posts an HTML alert to the configured alert chat.
func (b *Bot) SendAlert(_ context.Context, text string) error {
	var msg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(b.cfg.AlertChatID, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(b.cfg.AlertChatID, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = false

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

// SendMessage sends a plain text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// ResolveChannel maps a stored channel reference to the identifier that
// inbound messages carry. Feed URLs are returned unchanged, numeric ids are
// normalized and usernames are looked up through the Bot API.
func (b *Bot) ResolveChannel(_ context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", model.ErrEmptyChannelID
	}
	if username, ok := telegramUsername(ref); ok {
		chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{
			ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: username},
		})
		if err != nil {
			return "", fmt.Errorf("get chat %s: %w", username, err)
		}
		return strconv.FormatInt(chat.ID, 10), nil
	}
	if IsFeedURL(ref) {
		return ref, nil
	}
	if id, ok := NormalizeChannelID(ref); ok {
		return id, nil
	}
	return "", fmt.Errorf("unrecognized channel reference %q", ref)
}

// NormalizeChannelID converts a numeric channel id to the Bot API form.
// Positive ids are channel ids without the "-100" prefix.
func NormalizeChannelID(ref string) (string, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref), 10, 64)
	if err != nil {
		return "", false
	}
	if id > 0 {
		return "-100" + strconv.FormatInt(id, 10), true
	}
	return strconv.FormatInt(id, 10), true
}

// IsFeedURL reports whether ref names an RSS feed rather than a chat.
func IsFeedURL(ref string) bool {
	if _, ok := telegramUsername(ref); ok {
		return false
	}
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// telegramUsername extracts "@name" from "@name", "t.me/name" or "https://t.me/name".
func telegramUsername(ref string) (string, bool) {
	s := ref
	for _, p := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, p)
	}
	if rest, ok := strings.CutPrefix(s, "t.me/"); ok {
		name, _, _ := strings.Cut(rest, "/")
		if name == "" {
			return "", false
		}
		return "@" + name, true
	}
	if strings.HasPrefix(ref, "@") && len(ref) > 1 {
		return ref, true
	}
	return "", false
}
