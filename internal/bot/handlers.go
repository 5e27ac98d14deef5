package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgwatch/internal/filter"
	"tgwatch/internal/model"
	"tgwatch/internal/storage"
)

const (
	cmdKeywords = "keywords"
	cmdRmKw     = "rmkw"
	cmdPause    = "pause"
	cmdResume   = "resume"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "list":
		b.handleList(ctx, chatID)
	case "info":
		b.handleInfo(ctx, chatID, args)
	case cmdKeywords:
		b.handleKeywords(ctx, chatID, args)
	case "test":
		b.handleTest(ctx, chatID, args)
	case "reload":
		b.handleReload(ctx, chatID)
	case "add", "remove", cmdPause, cmdResume, "kw", cmdRmKw:
		if b.cfg.ChannelsFile != "" {
			b.reply(chatID, fmt.Sprintf("Channels are managed in %s. Edit the file instead; it is reloaded automatically.", b.cfg.ChannelsFile))
			return
		}
		b.handleMutation(ctx, chatID, cmd, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) handleMutation(ctx context.Context, chatID int64, cmd, args string) {
	switch cmd {
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "remove":
		b.handleRemove(ctx, chatID, args)
	case cmdPause:
		b.handleSetEnabled(ctx, chatID, args, false)
	case cmdResume:
		b.handleSetEnabled(ctx, chatID, args, true)
	case "kw":
		b.handleAddKeyword(ctx, chatID, args)
	case cmdRmKw:
		b.handleRmKeyword(ctx, chatID, args)
	}
}

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Channel keyword monitor.

Add this bot to the channels or groups you want to watch, then:
1. /add <channel> — register a channel (-100…, @username or an RSS feed URL)
2. /kw <id> <keyword> — add a keyword

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Channels:
/add <ref> [name] — monitor a channel or RSS feed
/list — show all channels
/info <id> — channel details
/remove <id> — stop monitoring a channel
/pause <id> — pause alerts
/resume <id> — resume alerts

Keywords:
/keywords <id> — list keywords of a channel
/kw <id> <keyword> — add a keyword
/rmkw <keyword_id> — remove a keyword
/test <id> <text> — dry-run the keywords against text
/reload — reload all rulesets

Keyword syntax:
word — whole-word match, case-insensitive
中文 — substring match for CJK text
/regex/ims — regular expression with optional flags
-keyword — exclusion, vetoes the alert`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	ref, name, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	if _, err := b.ResolveChannel(ctx, ref); err != nil {
		b.reply(chatID, fmt.Sprintf("Cannot resolve %s: %v", ref, err))
		return
	}

	ch := &model.Channel{Ref: ref, Name: name, IsEnabled: true}
	if err := b.store.CreateChannel(ctx, ch); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save channel: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Channel added.\n#%d %s\nNo keywords yet. Use /kw %d <keyword> to add one.",
		ch.ID, channelLabel(ch), ch.ID))
	b.reload(ctx, chatID)
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	channels, err := b.store.ListChannels(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	counts := make(map[int64]int)
	for _, ch := range channels {
		keywords, err := b.store.ListKeywords(ctx, ch.ID)
		if err != nil {
			continue
		}
		counts[ch.ID] = len(keywords)
	}

	b.reply(chatID, FormatChannelList(channels, counts))
}

func (b *Bot) handleInfo(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /info <id>")
		return
	}

	ch, ok := b.channel(ctx, chatID, id)
	if !ok {
		return
	}

	keywords, _ := b.store.ListKeywords(ctx, ch.ID)
	msg := tgbotapi.NewMessage(chatID, FormatChannelInfo(ch, keywords))
	msg.DisableWebPagePreview = true
	if b.cfg.ChannelsFile == "" {
		toggle := tgbotapi.NewInlineKeyboardButtonData("Pause", fmt.Sprintf("%s:%d", cmdPause, ch.ID))
		if !ch.IsEnabled {
			toggle = tgbotapi.NewInlineKeyboardButtonData("Resume", fmt.Sprintf("%s:%d", cmdResume, ch.ID))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Keywords", fmt.Sprintf("%s:%d", cmdKeywords, ch.ID)),
				toggle,
				tgbotapi.NewInlineKeyboardButtonData("Delete", fmt.Sprintf("delete_confirm:%d", ch.ID)),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send channel info", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /remove <id>")
		return
	}

	ch, ok := b.channel(ctx, chatID, id)
	if !ok {
		return
	}

	if err := b.store.DeleteChannel(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting channel: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d %s removed.", id, channelLabel(ch)))
	b.reload(ctx, chatID)
}

func (b *Bot) handleSetEnabled(ctx context.Context, chatID int64, args string, enabled bool) {
	usage, verb := "Usage: /pause <id>", "paused"
	if enabled {
		usage, verb = "Usage: /resume <id>", "resumed"
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}

	ch, ok := b.channel(ctx, chatID, id)
	if !ok {
		return
	}

	ch.IsEnabled = enabled
	if err := b.store.UpdateChannel(ctx, ch); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d %s %s.", id, channelLabel(ch), verb))
	b.reload(ctx, chatID)
}

func (b *Bot) handleKeywords(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /keywords <id>")
		return
	}

	ch, ok := b.channel(ctx, chatID, id)
	if !ok {
		return
	}

	keywords, _ := b.store.ListKeywords(ctx, ch.ID)
	b.reply(chatID, FormatKeywordList(ch, keywords))
}

func (b *Bot) handleAddKeyword(ctx context.Context, chatID int64, args string) {
	id, value, err := ParseIDAndRest(args, "/kw <id> <keyword>")
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	ch, ok := b.channel(ctx, chatID, id)
	if !ok {
		return
	}

	if err := filter.ValidateKeyword(value); err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid keyword: %v", err))
		return
	}

	kw := &model.Keyword{ChannelID: ch.ID, Value: value}
	if err := b.store.AddKeyword(ctx, kw); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	rule, _ := filter.Classify(value)
	b.reply(chatID, fmt.Sprintf("Keyword K%d added to #%d %s: %s (%s%s)",
		kw.ID, ch.ID, channelLabel(ch), value, exclusionPrefix(rule), rule.Kind))
	b.reload(ctx, chatID)
}

func (b *Bot) handleRmKeyword(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmkw <keyword_id>")
		return
	}

	kw, err := b.store.GetKeyword(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Keyword K%d not found.", id))
		return
	}

	if err := b.store.DeleteKeyword(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Keyword K%d %q removed from #%d.", id, kw.Value, kw.ChannelID))
	b.reload(ctx, chatID)
}

func (b *Bot) handleTest(ctx context.Context, chatID int64, args string) {
	id, text, err := ParseIDAndRest(args, "/test <id> <text>")
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	ch, ok := b.channel(ctx, chatID, id)
	if !ok {
		return
	}
	if b.handler == nil {
		b.reply(chatID, "Monitor is not running.")
		return
	}

	resolved, err := b.ResolveChannel(ctx, ch.Ref)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Cannot resolve %s: %v", ch.Ref, err))
		return
	}

	v, loaded := b.handler.Check(resolved, text)
	if !loaded {
		b.reply(chatID, fmt.Sprintf("#%d %s is not loaded (paused or unresolved).", ch.ID, channelLabel(ch)))
		return
	}
	b.reply(chatID, FormatVerdict(ch, v))
}

func (b *Bot) handleReload(ctx context.Context, chatID int64) {
	if b.reload(ctx, chatID) {
		b.reply(chatID, "Rulesets reloaded.")
	}
}

// reload rebuilds the live rulesets and reports failures to chatID.
func (b *Bot) reload(ctx context.Context, chatID int64) bool {
	if b.handler == nil {
		return false
	}
	if err := b.handler.Reload(ctx); err != nil {
		b.log.Error("reload rulesets", "error", err)
		b.reply(chatID, fmt.Sprintf("Reload failed: %v", err))
		return false
	}
	return true
}

// channel fetches a channel by ID and replies when it does not exist.
func (b *Bot) channel(ctx context.Context, chatID, id int64) (*model.Channel, bool) {
	ch, err := b.store.GetChannel(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Channel #%d not found.", id))
		return nil, false
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return nil, false
	}
	return ch, true
}

func exclusionPrefix(r filter.Rule) string {
	if r.Exclude {
		return "exclusion, "
	}
	return ""
}
