package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mucstudio/let-monitor/internal/engine"
	"github.com/mucstudio/let-monitor/internal/formatter"
	"github.com/mucstudio/let-monitor/internal/session"
	appmodels "github.com/mucstudio/let-monitor/pkg/models"
)

const helpText = `<b>LowEndTalk Monitor</b>

Relays new posts of forum users to this chat.

<b>Commands:</b>
/watch username [seconds] - start monitoring a user
/unwatch username - stop monitoring
/pause username - pause monitoring
/resume username - resume monitoring
/interval username seconds - change the check interval
/poll username - check right now
/list - monitored users
/status - monitor status
/account username password - use your own forum account
/account remove - go back to the shared account

Users can also be referenced by id, e.g. <code>/pause #3</code>.`

// reply is one message sent back for a command
type reply struct {
	text     string
	keyboard *models.InlineKeyboardMarkup
}

func textReply(format string, args ...any) []reply {
	return []reply{{text: fmt.Sprintf(format, args...)}}
}

// handleCommand dispatches every slash command
func (b *Bot) handleCommand(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	cmd, _ := parseCommand(msg.Text)
	if cmd == "account" {
		// The message carries a password
		if err := b.deleteMessage(ctx, msg.Chat.ID, msg.ID); err != nil {
			b.logger.Warn("failed to delete account message", "error", err)
		}
	}

	for _, r := range b.execute(ctx, msg.Chat.ID, msg.Text) {
		var err error
		if r.keyboard != nil {
			_, err = b.sendMessageWithKeyboard(ctx, msg.Chat.ID, r.text, r.keyboard)
		} else {
			_, err = b.sendMessage(ctx, msg.Chat.ID, r.text)
		}
		if err != nil {
			b.logger.Error("failed to send reply", "chat_id", msg.Chat.ID, "command", cmd, "error", err)
		}
	}
}

// execute runs a command for a chat and returns the replies
func (b *Bot) execute(ctx context.Context, chatID int64, text string) []reply {
	cmd, args := parseCommand(text)

	switch cmd {
	case "start", "help":
		return []reply{{text: helpText}}
	case "account":
		return b.cmdAccount(ctx, chatID, args)
	case "watch":
		return b.cmdWatch(ctx, chatID, args)
	case "unwatch":
		return b.cmdUnwatch(ctx, chatID, args)
	case "pause":
		return b.cmdToggle(ctx, chatID, args, false)
	case "resume":
		return b.cmdToggle(ctx, chatID, args, true)
	case "interval":
		return b.cmdInterval(ctx, chatID, args)
	case "poll":
		return b.cmdPoll(chatID, args)
	case "list":
		return b.cmdList(chatID)
	case "status":
		return []reply{{text: b.formatter.FormatStatus(b.controller.Status())}}
	default:
		b.logger.Debug("unknown command", "command", cmd)
		return textReply("Unknown command. See /help")
	}
}

// cmdAccount handles /account username password and /account remove
func (b *Bot) cmdAccount(ctx context.Context, chatID int64, args []string) []reply {
	if len(args) == 1 && args[0] == "remove" {
		if err := b.controller.RemoveAccount(ctx, chatID); err != nil {
			return b.errorReply("account", err)
		}
		return textReply("Forum account removed. Your monitored users use the shared account again.")
	}
	if len(args) != 2 {
		return textReply("Usage: <code>/account username password</code>")
	}

	if err := b.controller.SetAccount(ctx, chatID, args[0], args[1]); err != nil {
		return b.errorReply("account", err)
	}

	b.logger.Info("forum account set", "chat_id", chatID, "username", args[0])
	return textReply("Signed in to the forum as <b>%s</b>. Your monitored users now use this account.", formatter.EscapeHTML(args[0]))
}

// cmdWatch handles /watch username [seconds]
func (b *Bot) cmdWatch(ctx context.Context, chatID int64, args []string) []reply {
	if len(args) < 1 || len(args) > 2 {
		return textReply("Usage: <code>/watch username [seconds]</code>")
	}

	interval := 0
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return textReply("Interval must be a number of seconds")
		}
		interval = n
	}

	id, err := b.controller.AddTarget(ctx, chatID, args[0], interval)
	if err != nil {
		return b.errorReply("watch", err)
	}

	target, ok := b.controller.Target(id)
	if !ok {
		return textReply("Now monitoring <b>%s</b>", formatter.EscapeHTML(args[0]))
	}
	return []reply{{
		text:     "Now monitoring " + b.formatter.FormatTarget(&target) + "\nOnly posts made from now on will be sent.",
		keyboard: formatter.BuildTargetKeyboard(&target),
	}}
}

// cmdUnwatch handles /unwatch ref
func (b *Bot) cmdUnwatch(ctx context.Context, chatID int64, args []string) []reply {
	target, errReply := b.resolveArg(chatID, args, "unwatch")
	if errReply != nil {
		return errReply
	}

	if err := b.controller.RemoveTarget(ctx, target.ID); err != nil {
		return b.errorReply("unwatch", err)
	}
	return textReply("Stopped monitoring <b>%s</b>", formatter.EscapeHTML(target.ForumUsername))
}

// cmdToggle handles /pause and /resume
func (b *Bot) cmdToggle(ctx context.Context, chatID int64, args []string, enable bool) []reply {
	name := "pause"
	if enable {
		name = "resume"
	}
	target, errReply := b.resolveArg(chatID, args, name)
	if errReply != nil {
		return errReply
	}

	if err := b.setEnabled(ctx, target.ID, enable); err != nil {
		return b.errorReply(name, err)
	}
	if enable {
		return textReply("Resumed <b>%s</b>", formatter.EscapeHTML(target.ForumUsername))
	}
	return textReply("Paused <b>%s</b>", formatter.EscapeHTML(target.ForumUsername))
}

// cmdInterval handles /interval ref seconds
func (b *Bot) cmdInterval(ctx context.Context, chatID int64, args []string) []reply {
	if len(args) != 2 {
		return textReply("Usage: <code>/interval username seconds</code>")
	}
	seconds, err := strconv.Atoi(args[1])
	if err != nil {
		return textReply("Interval must be a number of seconds")
	}

	target, errReply := b.resolveArg(chatID, args[:1], "interval")
	if errReply != nil {
		return errReply
	}

	if err := b.controller.SetInterval(ctx, target.ID, seconds); err != nil {
		return b.errorReply("interval", err)
	}
	return textReply("<b>%s</b> is now checked every %s", formatter.EscapeHTML(target.ForumUsername), formatter.FormatDuration(time.Duration(seconds)*time.Second))
}

// cmdPoll handles /poll ref
func (b *Bot) cmdPoll(chatID int64, args []string) []reply {
	target, errReply := b.resolveArg(chatID, args, "poll")
	if errReply != nil {
		return errReply
	}

	if err := b.controller.PollNow(target.ID); err != nil {
		return b.errorReply("poll", err)
	}
	return textReply("Checking <b>%s</b> now", formatter.EscapeHTML(target.ForumUsername))
}

// cmdList handles /list: a header followed by one message per target
func (b *Bot) cmdList(chatID int64) []reply {
	targets := b.controller.Targets(chatID)
	replies := []reply{{text: b.formatter.FormatTargetList(targets)}}
	for _, t := range targets {
		replies = append(replies, reply{
			text:     b.formatter.FormatTarget(t),
			keyboard: formatter.BuildTargetKeyboard(t),
		})
	}
	return replies
}

// resolveArg finds the target named by a single command argument
func (b *Bot) resolveArg(chatID int64, args []string, cmd string) (appmodels.Target, []reply) {
	if len(args) != 1 {
		return appmodels.Target{}, textReply("Usage: <code>/%s username</code>", cmd)
	}

	target, ok := b.lookup(chatID, args[0])
	if !ok {
		return appmodels.Target{}, textReply("<b>%s</b> is not monitored in this chat", formatter.EscapeHTML(args[0]))
	}
	return target, nil
}

// lookup resolves "#id" or a username to a target visible from the chat
func (b *Bot) lookup(chatID int64, ref string) (appmodels.Target, bool) {
	if id, ok := parseTargetID(ref); ok {
		target, found := b.controller.Target(id)
		if !found || !b.canManage(chatID, &target) {
			return appmodels.Target{}, false
		}
		return target, true
	}
	return b.controller.FindTarget(chatID, ref)
}

// canManage reports whether a chat may operate on a target
func (b *Bot) canManage(chatID int64, target *appmodels.Target) bool {
	return target.OwnerChatID == chatID || b.isAdminChat(chatID)
}

func (b *Bot) setEnabled(ctx context.Context, id int64, enable bool) error {
	if enable {
		return b.controller.Resume(ctx, id)
	}
	return b.controller.Pause(ctx, id)
}

// errorReply renders an operation error for the user
func (b *Bot) errorReply(cmd string, err error) []reply {
	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		return textReply("⚠️ %s", formatter.EscapeHTML(cfgErr.Error()))
	}
	if session.IsAuthError(err) {
		return textReply("❌ Forum login failed: %s", formatter.EscapeHTML(err.Error()))
	}

	b.logger.Error("command failed", "command", cmd, "error", err)
	return textReply("❌ Something went wrong, please try again later")
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil || callback.Message.Message == nil {
		return
	}
	msg := callback.Message.Message

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	text, keyboard, answer := b.applyCallback(ctx, msg.Chat.ID, data)
	b.answerCallback(ctx, callback.ID, answer, false)
	if text == "" {
		return
	}
	if err := b.editMessage(ctx, msg.Chat.ID, msg.ID, text, keyboard); err != nil {
		b.logger.Warn("failed to update target message", "error", err)
	}
}

// applyCallback performs a button action and returns the new message text,
// its keyboard and the callback answer. An empty text leaves the message as is.
func (b *Bot) applyCallback(ctx context.Context, chatID int64, data appmodels.CallbackData) (string, *models.InlineKeyboardMarkup, string) {
	target, ok := b.controller.Target(data.TargetID)
	if !ok || !b.canManage(chatID, &target) {
		return "", nil, "Target not found"
	}

	var err error
	answer := ""
	switch data.Action {
	case appmodels.CallbackPause:
		err = b.controller.Pause(ctx, target.ID)
		answer = "Paused"
	case appmodels.CallbackResume:
		err = b.controller.Resume(ctx, target.ID)
		answer = "Resumed"
	case appmodels.CallbackPoll:
		err = b.controller.PollNow(target.ID)
		answer = "Checking now"
	case appmodels.CallbackRemove:
		if err := b.controller.RemoveTarget(ctx, target.ID); err != nil {
			return "", nil, errorAnswer(err)
		}
		return fmt.Sprintf("🗑 <s>%s</s> removed", formatter.EscapeHTML(target.ForumUsername)), nil, "Removed"
	default:
		return "", nil, "Unknown action"
	}
	if err != nil {
		return "", nil, errorAnswer(err)
	}

	updated, ok := b.controller.Target(target.ID)
	if !ok {
		return "", nil, answer
	}
	return b.formatter.FormatTarget(&updated), formatter.BuildTargetKeyboard(&updated), answer
}

func errorAnswer(err error) string {
	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Message
	}
	return "Error"
}

// parseCommand splits "/cmd@bot arg1 arg2" into "cmd" and its arguments
func parseCommand(text string) (string, []string) {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return "", nil
	}
	cmd := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), parts[1:]
}

// parseTargetID parses a "#id" reference
func parseTargetID(ref string) (int64, bool) {
	if !strings.HasPrefix(ref, "#") {
		return 0, false
	}
	id, err := strconv.ParseInt(ref[1:], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
