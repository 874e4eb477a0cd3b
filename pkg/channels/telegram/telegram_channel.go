package telegram

import (
	"fmt"
	"log/slog"
	"strconv"

	"foreman/pkg/api"
	"foreman/pkg/utils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramMessageLimit is the platform's maximum character count per bubble.
const telegramMessageLimit = 4096

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// TelegramChannel is a text-only implementation of api.Channel for the
// Telegram platform, using long polling for updates. Each Telegram chat maps
// to one conversation.
type TelegramChannel struct {
	config TelegramConfig
	bot    *tgbotapi.BotAPI
	stop   chan struct{}
}

func NewTelegramChannel(cfg TelegramConfig) (api.Channel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramChannel{
		config: cfg,
		bot:    bot,
		stop:   make(chan struct{}),
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-t.stop:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				t.handleMessage(ctx, update.Message)
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) handleMessage(ctx api.ChannelContext, m *tgbotapi.Message) {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	userID := strconv.FormatInt(m.From.ID, 10)

	ctx.OnMessage(t.ID(), &api.UnifiedMessage{
		Session: api.SessionContext{
			ChannelID: t.ID(),
			UserID:    userID,
			ChatID:    chatID,
			Username:  m.From.UserName,
		},
		Content:      m.Text,
		Conversation: chatID,
		Raw:          m,
		DebugID:      utils.GenerateID(),
	})
}

// Stop halts the update loop.
func (t *TelegramChannel) Stop() error {
	close(t.stop)
	t.bot.StopReceivingUpdates()
	return nil
}

// Send delivers a result to the chat, splitting text that exceeds the
// platform's message limit. An updated plan is delivered as a follow-up
// message so it stays distinct from the conversational reply.
func (t *TelegramChannel) Send(session api.SessionContext, result *api.ChatResult) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", session.ChatID, err)
	}

	if err := t.sendText(chatID, result.Text); err != nil {
		return err
	}
	if result.Plan != nil {
		return t.sendText(chatID, "Updated plan:\n"+*result.Plan)
	}
	return nil
}

func (t *TelegramChannel) sendText(chatID int64, text string) error {
	for _, chunk := range splitMessage(text, telegramMessageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most limit characters. The limit is
// in runes, not bytes: Telegram counts characters, and a byte cut could land
// mid-codepoint and mangle the chunk.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}
	if total <= limit {
		return []string{text}
	}

	var chunks []string
	for i := 0; i < total; i += limit {
		end := i + limit
		if end > total {
			end = total
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
