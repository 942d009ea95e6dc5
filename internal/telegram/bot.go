package telegram

import (
	"context"
	"log/slog"
	"slices"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mucstudio/let-monitor/internal/config"
	"github.com/mucstudio/let-monitor/internal/formatter"
	appmodels "github.com/mucstudio/let-monitor/pkg/models"
)

// Controller is the monitor surface the bot drives
type Controller interface {
	AddTarget(ctx context.Context, ownerChatID int64, forumUsername string, intervalSeconds int) (int64, error)
	RemoveTarget(ctx context.Context, id int64) error
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	SetInterval(ctx context.Context, id int64, seconds int) error
	SetAccount(ctx context.Context, chatID int64, username, password string) error
	RemoveAccount(ctx context.Context, chatID int64) error
	PollNow(id int64) error
	Target(id int64) (appmodels.Target, bool)
	FindTarget(ownerChatID int64, forumUsername string) (appmodels.Target, bool)
	Targets(ownerChatID int64) []*appmodels.Target
	Status() appmodels.Status
}

// Bot represents the Telegram bot
type Bot struct {
	bot        *bot.Bot
	controller Controller
	formatter  *formatter.TelegramFormatter
	logger     *slog.Logger
	config     *config.Config
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config    *config.Config
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
}

// NewBot creates a new Telegram bot. The controller is attached later with
// SetController because the engine needs the bot as its message sender.
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		formatter: deps.Formatter,
		logger:    deps.Logger.With("component", "telegram_bot"),
		config:    deps.Config,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithMiddlewares(b.accessMiddleware),
	}

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// SetController attaches the monitor the commands operate on
func (b *Bot) SetController(c Controller) {
	b.controller = c
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/", bot.MatchTypePrefix, b.handleCommand)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot")
	b.bot.Start(ctx)
}

// accessMiddleware drops updates from users outside ALLOWED_USERS
func (b *Bot) accessMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		var userID int64
		switch {
		case update.Message != nil && update.Message.From != nil:
			userID = update.Message.From.ID
		case update.CallbackQuery != nil:
			userID = update.CallbackQuery.From.ID
		default:
			return
		}

		if !b.config.IsUserAllowed(userID) {
			b.logger.Warn("update from user not allowed", "user_id", userID)
			if update.CallbackQuery != nil {
				b.answerCallback(ctx, update.CallbackQuery.ID, "Not allowed", false)
			}
			return
		}
		next(ctx, tgBot, update)
	}
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.logger.Debug("ignoring message", "chat_id", update.Message.Chat.ID)
}

func (b *Bot) isAdminChat(chatID int64) bool {
	return slices.Contains(b.config.AdminChatIDs, chatID)
}
