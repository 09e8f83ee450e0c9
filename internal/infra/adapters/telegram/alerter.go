package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/config"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
	"github.com/operio-dev/1nproject/internal/infra/i18n"
)

var (
	_ adapter.OperatorAlerter = (*TelegramAlerter)(nil)
	_ adapter.OperatorAlerter = (*LogAlerter)(nil)
)

// sender is the part of tgbotapi.BotAPI the alerter needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter pages the admin chats about payments that need a manual refund.
type TelegramAlerter struct {
	bot     sender
	chatIDs []int64
	tr      *i18n.Translator
	log     *zerolog.Logger
}

func NewTelegramAlerter(cfg config.AlertsConfig, tr *i18n.Translator, logger *zerolog.Logger) (*TelegramAlerter, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram token empty")
	}
	if len(cfg.AdminChatIDs) == 0 {
		return nil, errors.New("no admin chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegramAlerter(bot, cfg.AdminChatIDs, tr, logger), nil
}

func newTelegramAlerter(bot sender, chatIDs []int64, tr *i18n.Translator, logger *zerolog.Logger) *TelegramAlerter {
	l := logger.With().Str("component", "telegram_alerter").Logger()
	return &TelegramAlerter{bot: bot, chatIDs: chatIDs, tr: tr, log: &l}
}

// Escalate succeeds if at least one admin chat received the alert.
func (a *TelegramAlerter) Escalate(ctx context.Context, alert model.CompensationAlert) error {
	logAlert(a.log, alert)
	text := FormatAlert(a.tr, alert)

	var errs []error
	delivered := 0
	for _, id := range a.chatIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			a.log.Warn().Err(err).Int64("chat_id", id).Msg("send alert")
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("alert not delivered: %w", errors.Join(errs...))
	}
	return nil
}

// LogAlerter is used when Telegram is not configured: the log line is the alert.
type LogAlerter struct {
	log *zerolog.Logger
}

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	l := logger.With().Str("component", "log_alerter").Logger()
	return &LogAlerter{log: &l}
}

func (a *LogAlerter) Escalate(ctx context.Context, alert model.CompensationAlert) error {
	logAlert(a.log, alert)
	return nil
}

func logAlert(log *zerolog.Logger, alert model.CompensationAlert) {
	log.Error().
		Str("event_id", alert.EventID).
		Str("anomaly", alert.Anomaly).
		Int("number", alert.Number).
		Str("claimant_id", alert.ClaimantID).
		Str("subscription_ref", alert.SubscriptionRef).
		Str("payment_ref", alert.PaymentRef).
		Str("cause", alert.Err).
		Msg("MANUAL REFUND REQUIRED")
}

// FormatAlert renders the operator message in the translator's language.
func FormatAlert(tr *i18n.Translator, alert model.CompensationAlert) string {
	var b strings.Builder
	line := func(key string, args ...interface{}) {
		b.WriteString(tr.T(key, args...))
		b.WriteByte('\n')
	}
	line("alert_title")
	b.WriteByte('\n')
	anomaly := alert.Anomaly
	if desc := tr.T("anomaly_" + alert.Anomaly); desc != "anomaly_"+alert.Anomaly {
		anomaly += " (" + desc + ")"
	}
	line("alert_anomaly", anomaly)
	line("alert_number", alert.Number)
	if alert.ClaimantID != "" {
		line("alert_claimant", alert.ClaimantID)
	}
	if alert.Contact != "" {
		line("alert_contact", alert.Contact)
	}
	line("alert_subscription", alert.SubscriptionRef)
	line("alert_payment", alert.PaymentRef)
	line("alert_event", alert.EventID)
	if alert.Err != "" {
		b.WriteByte('\n')
		b.WriteString(tr.T("alert_error", alert.Err))
	}
	return b.String()
}
