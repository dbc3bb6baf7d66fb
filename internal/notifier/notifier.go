package notifier

import (
	"context"
	"fmt"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"token-buy-alerts/internal/alerting"
)

// Notifier delivers rendered alerts to a destination.
type Notifier interface {
	Emit(ctx context.Context, msg alerting.Message) error
	Announce(ctx context.Context, chatID int64, text string) error
}

// Options tune delivery behaviour.
type Options struct {
	Attempts  int
	BaseDelay time.Duration
	NoVideo   bool
}

// Telegram sends alerts through the Bot API. Video alerts degrade to a
// plain text message when the video upload is rejected.
type Telegram struct {
	bot    *tg.Bot
	opts   Options
	logger zerolog.Logger
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram wraps an existing bot client.
func NewTelegram(bot *tg.Bot, opts Options, logger zerolog.Logger) *Telegram {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 2 * time.Second
	}
	return &Telegram{
		bot:    bot,
		opts:   opts,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// SetNoVideo toggles text-only delivery at runtime.
func (t *Telegram) SetNoVideo(v bool) {
	t.opts.NoVideo = v
}

// Emit delivers one alert. With a video URL present the video is sent
// with the alert body as caption; on failure the body is sent alone so
// an alert is never silently lost to a media error.
func (t *Telegram) Emit(ctx context.Context, msg alerting.Message) error {
	if msg.VideoURL != "" && !t.opts.NoVideo {
		err := t.retry(ctx, func(ctx context.Context) error {
			_, err := t.bot.SendVideo(ctx, &tg.SendVideoParams{
				ChatID:    msg.ChatID,
				Video:     &models.InputFileString{Data: msg.VideoURL},
				Caption:   msg.Body,
				ParseMode: models.ParseModeMarkdown,
			})
			return err
		})
		if err == nil {
			return nil
		}
		t.logger.Warn().Err(err).Str("hash", msg.Hash).Msg("video send failed, falling back to text")
	}

	return t.retry(ctx, func(ctx context.Context) error {
		_, err := t.bot.SendMessage(ctx, &tg.SendMessageParams{
			ChatID:    msg.ChatID,
			Text:      msg.Body,
			ParseMode: models.ParseModeMarkdown,
		})
		return err
	})
}

// Announce sends a plain status line to a chat, without retry decoration
// beyond the standard attempts.
func (t *Telegram) Announce(ctx context.Context, chatID int64, text string) error {
	return t.retry(ctx, func(ctx context.Context) error {
		_, err := t.bot.SendMessage(ctx, &tg.SendMessageParams{
			ChatID: chatID,
			Text:   text,
		})
		return err
	})
}

func (t *Telegram) retry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	delay := t.opts.BaseDelay
	for attempt := 1; attempt <= t.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < t.opts.Attempts {
			t.logger.Debug().Err(lastErr).Int("attempt", attempt).Msg("send failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}
	return fmt.Errorf("send after %d attempts: %w", t.opts.Attempts, lastErr)
}
