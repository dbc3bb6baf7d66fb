package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-buy-alerts/internal/monitor"
)

// Controller exposes the operations the chat commands drive.
type Controller interface {
	StartTracking(ctx context.Context) error
	StopTracking()
	Status() monitor.Snapshot
	SimulateBuy(ctx context.Context, usd decimal.Decimal) error
	SetNoVideo(enabled bool)
}

// Handler translates admin chat commands into controller calls. Updates
// from any other chat are ignored.
type Handler struct {
	bot     *tg.Bot
	adminID int64
	ctrl    Controller
	logger  zerolog.Logger
}

// New constructs the command handler.
func New(bot *tg.Bot, ctrl Controller, adminID int64, logger zerolog.Logger) *Handler {
	return &Handler{
		bot:     bot,
		adminID: adminID,
		ctrl:    ctrl,
		logger:  logger.With().Str("component", "telegram").Logger(),
	}
}

// Register attaches the command dispatcher to the bot. The caller picks
// the transport afterwards, long polling or webhook.
func (h *Handler) Register() {
	h.bot.RegisterHandler(tg.HandlerTypeMessageText, "", tg.MatchTypePrefix, func(c context.Context, b *tg.Bot, u *models.Update) {
		if u.Message == nil {
			return
		}
		if u.Message.Chat.ID != h.adminID {
			h.rejectUnauthorized(c, u.Message)
			return
		}
		h.handleCommand(c, u.Message)
	})
}

// rejectUnauthorized answers privileged commands from the wrong chat with
// a visible refusal. Anything else from a stranger stays unanswered.
func (h *Handler) rejectUnauthorized(ctx context.Context, m *models.Message) {
	switch cmd, _ := splitCommand(m.Text); cmd {
	case "/track", "/stop", "/test", "/nov":
		h.logger.Warn().Int64("chat_id", m.Chat.ID).Str("command", cmd).Msg("unauthorized command")
		h.sendHTML(ctx, m.Chat.ID, "🚫 Unauthorized")
	}
}

// splitCommand isolates the command token from its arguments, dropping a
// trailing @botname from the token only so arguments keep any '@' intact.
func splitCommand(text string) (cmd, args string) {
	raw := strings.TrimSpace(text)
	cmd = raw
	if idx := strings.IndexAny(raw, " \t"); idx != -1 {
		cmd, args = raw[:idx], strings.TrimSpace(raw[idx+1:])
	}
	if at := strings.IndexRune(cmd, '@'); at != -1 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), args
}

func (h *Handler) handleCommand(ctx context.Context, m *models.Message) {
	lower, args := splitCommand(m.Text)

	switch {
	case lower == "/start" || lower == "/help":
		h.replyHelp(ctx, m.Chat.ID)

	case lower == "/track":
		if err := h.ctrl.StartTracking(ctx); err != nil {
			h.sendHTML(ctx, m.Chat.ID, fmt.Sprintf("track failed: <code>%v</code>", err))
			return
		}
		h.sendHTML(ctx, m.Chat.ID, "🟢 <b>Buy tracking started.</b>")

	case lower == "/stop":
		h.ctrl.StopTracking()
		h.sendHTML(ctx, m.Chat.ID, "🔴 <b>Buy tracking stopped.</b>")

	case lower == "/status":
		h.sendHTML(ctx, m.Chat.ID, h.renderStatus(false))

	case lower == "/debug":
		h.sendHTML(ctx, m.Chat.ID, h.renderStatus(true))

	case lower == "/test":
		usd := decimal.NewFromInt(150)
		if args != "" {
			parsed, err := decimal.NewFromString(args)
			if err != nil || !parsed.IsPositive() {
				h.sendHTML(ctx, m.Chat.ID, "usage: <code>/test [usd_amount]</code>")
				return
			}
			usd = parsed
		}
		if err := h.ctrl.SimulateBuy(ctx, usd); err != nil {
			h.sendHTML(ctx, m.Chat.ID, fmt.Sprintf("test failed: <code>%v</code>", err))
			return
		}

	case lower == "/nov":
		switch strings.ToLower(args) {
		case "on", "":
			h.ctrl.SetNoVideo(true)
			h.sendHTML(ctx, m.Chat.ID, "📵 video alerts disabled")
		case "off":
			h.ctrl.SetNoVideo(false)
			h.sendHTML(ctx, m.Chat.ID, "🎥 video alerts enabled")
		default:
			h.sendHTML(ctx, m.Chat.ID, "usage: <code>/noV on|off</code>")
		}

	default:
		h.sendHTML(ctx, m.Chat.ID, "unknown command. try <code>/help</code>")
	}
}

func (h *Handler) renderStatus(debug bool) string {
	snap := h.ctrl.Status()

	var b strings.Builder
	b.WriteString("📊 <b>Status</b>\n")
	fmt.Fprintf(&b, "- State: <code>%s</code>\n", snap.State)
	if snap.State == monitor.StateRunning {
		fmt.Fprintf(&b, "- Since: <code>%s</code>\n", snap.Since.Format(time.RFC3339))
	}
	if !snap.LastCycle.IsZero() {
		fmt.Fprintf(&b, "- Last cycle: <code>%s</code>\n", snap.LastCycle.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Cycles: <code>%d</code>\n", snap.Cycles)
	fmt.Fprintf(&b, "- Alerts sent: <code>%d</code>\n", snap.AlertsSent)
	fmt.Fprintf(&b, "- Known hashes: <code>%d</code>", snap.LedgerSize)

	if debug {
		b.WriteString("\n\n🔧 <b>Recent errors</b>\n")
		if len(snap.RecentErrors) == 0 {
			b.WriteString("- none")
		}
		for i, e := range snap.RecentErrors {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- <code>" + escapeHTML(e) + "</code>")
		}
	}

	return b.String()
}

func (h *Handler) replyHelp(ctx context.Context, chatID int64) {
	help := strings.TrimSpace(`
🛠 <b>buywatcher</b>

<b>Commands:</b>
- <code>/track</code> - Start buy tracking
- <code>/stop</code> - Stop buy tracking
- <code>/status</code> - Show tracking state
- <code>/debug</code> - Status plus recent errors
- <code>/test [usd]</code> - Send a simulated buy alert
- <code>/noV on|off</code> - Toggle video alerts
`)
	h.sendHTML(ctx, chatID, help)
}

func (h *Handler) sendHTML(ctx context.Context, chatID int64, html string) {
	disable := true
	_, err := h.bot.SendMessage(ctx, &tg.SendMessageParams{
		ChatID:    chatID,
		Text:      html,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disable,
		},
	})
	if err != nil {
		h.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func escapeHTML(s string) string {
	replacer := strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}
