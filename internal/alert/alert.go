// Package alert delivers critical operator events.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"swarmbot-go/internal/util"
)

// Event is one critical condition.
type Event struct {
	Strategy string
	Kind     string
	Message  string
	Err      error
	At       time.Time
}

// String renders the event as a single operator-facing line.
func (e Event) String() string {
	s := fmt.Sprintf("[%s] strategy %s: %s", e.Kind, e.Strategy, e.Message)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Alerter receives critical events.
type Alerter interface {
	Critical(ctx context.Context, ev Event) error
}

// Log writes events as error lines.
type Log struct {
	log zerolog.Logger
}

// NewLog returns an alerter that writes events as error log lines.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: util.Component(log, "alert")}
}

// Critical logs ev at error level.
func (l *Log) Critical(ctx context.Context, ev Event) error {
	l.log.Error().Err(ev.Err).Str("strategy", ev.Strategy).Str("kind", ev.Kind).Time("at", ev.At).Msg(ev.Message)
	return nil
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram messages a chat through a bot.
type Telegram struct {
	bot    sender
	chatID int64
}

// NewTelegram authenticates the bot token against the Telegram API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram alerts need a bot token and chat id")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Critical sends ev to the configured chat.
func (t *Telegram) Critical(ctx context.Context, ev Event) error {
	msg := tgbotapi.NewMessage(t.chatID, ev.String())
	_, err := t.bot.Send(msg)
	return err
}

// Multi fans events out to every alerter and joins their errors.
type Multi []Alerter

// Critical delivers ev to every alerter and joins their errors.
func (m Multi) Critical(ctx context.Context, ev Event) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Critical(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
