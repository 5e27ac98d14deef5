package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, idStr, ok := strings.Cut(data, ":")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdKeywords:
		b.handleKeywords(ctx, chatID, idStr)
	case cmdPause, cmdResume, "delete", "delete_confirm", cmdRmKw:
		if b.cfg.ChannelsFile != "" {
			b.reply(chatID, fmt.Sprintf("Channels are managed in %s.", b.cfg.ChannelsFile))
			return
		}
		b.handleMutationCallback(ctx, chatID, action, id)
	}
}

func (b *Bot) handleMutationCallback(ctx context.Context, chatID int64, action string, id int64) {
	idStr := strconv.FormatInt(id, 10)
	switch action {
	case cmdPause:
		b.handleSetEnabled(ctx, chatID, idStr, false)
	case cmdResume:
		b.handleSetEnabled(ctx, chatID, idStr, true)
	case "delete_confirm":
		ch, ok := b.channel(ctx, chatID, id)
		if !ok {
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Stop monitoring #%d %s? Its keywords are deleted too.", id, channelLabel(ch)))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, remove", fmt.Sprintf("delete:%d", id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send delete confirmation", "error", err)
		}
	case "delete":
		b.handleRemove(ctx, chatID, idStr)
	case cmdRmKw:
		b.handleRmKeyword(ctx, chatID, idStr)
	}
}
