package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"atcwatch/pkg/logx"
)

// Telegram sends notifications to a chat via the Bot API. The destination
// is the chat ID for the delivery's shift.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(token string, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	// Send-only: Start is never called, so the bot polls no updates.
	b, err := tele.NewBot(tele.Settings{Token: token, Synchronous: true})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, p Payload) error {
	_ = ctx // telebot manages its own request timeout
	chatID, err := strconv.ParseInt(strings.TrimSpace(p.Destination), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram destination %q is not a chat id: %w", p.Destination, err)
	}

	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteString("\n")
	for _, line := range p.Lines {
		b.WriteString("\n")
		b.WriteString(line)
	}

	_, err = t.bot.Send(tele.ChatID(chatID), b.String(), &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
