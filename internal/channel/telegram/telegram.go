// Package telegram delivers reminder notifications to Telegram chats.
// It is send-only: the engine owns reminder intake, this channel just
// maps owner ids to chat ids and pushes messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "eckod/pkg/logx"
)

type Config struct {
	Token string
	// Owners maps engine owner ids to Telegram chat ids.
	Owners map[string]int64
}

// sender is the slice of *tele.Bot the channel uses. Tests swap in a fake.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Channel struct {
	log    logx.Logger
	bot    sender
	owners map[string]int64
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return newWithSender(cfg, b, log), nil
}

func newWithSender(cfg Config, bot sender, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	owners := make(map[string]int64, len(cfg.Owners))
	for owner, chatID := range cfg.Owners {
		owners[owner] = chatID
	}
	return &Channel{log: log, bot: bot, owners: owners}
}

func (c *Channel) Name() string { return "telegram" }

// Deliver sends the notification to the chat mapped to ownerID. An owner
// without a mapping is a configuration gap, not a transient failure, so it
// is reported once and not retried.
func (c *Channel) Deliver(ctx context.Context, ownerID, title, message string, meta map[string]string) error {
	chatID, ok := c.owners[ownerID]
	if !ok {
		c.log.Debug("no telegram chat mapped for owner", logx.String("owner", ownerID))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := message
	if title != "" {
		text = title + "\n" + message
	}
	_, err := c.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
