package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramQueue = 64

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// WarningsOnly forwards only events whose kind is a warning.
	WarningsOnly bool
	// Endpoint overrides the Bot API URL template.
	Endpoint string
	Client   *http.Client
}

// Telegram forwards audit events to a chat. Notify never blocks; events
// that do not fit in the queue are dropped and logged.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	warnOnly bool
	queue    chan Event
	log      *slog.Logger
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(cfg TelegramConfig, log *slog.Logger) (*Telegram, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: token and chat id are required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}
	log.Info("telegram notifier connected", "bot", bot.Self.UserName)
	return &Telegram{
		bot:      bot,
		chatID:   cfg.ChatID,
		warnOnly: cfg.WarningsOnly,
		queue:    make(chan Event, telegramQueue),
		log:      log,
	}, nil
}

func (t *Telegram) Notify(e Event) {
	if t.warnOnly && !e.Kind.Warning() {
		return
	}
	select {
	case t.queue <- e:
	default:
		t.log.Warn("telegram queue full, dropping event", "kind", e.Kind, "item_id", e.ItemID)
	}
}

// Run delivers queued events until ctx is done.
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-t.queue:
			if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, formatEvent(e))); err != nil {
				t.log.Error("telegram send failed", "kind", e.Kind, "err", err)
			}
		}
	}
}

func formatEvent(e Event) string {
	var b strings.Builder
	if e.Kind.Warning() {
		b.WriteString("⚠️ ")
	}
	b.WriteString(string(e.Kind))
	if e.ItemID != 0 {
		fmt.Fprintf(&b, " #%d", e.ItemID)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " [%s]", e.Status)
	}
	if e.Message != "" {
		b.WriteString("\n")
		b.WriteString(strings.ToValidUTF8(e.Message, "?"))
	}
	return b.String()
}
