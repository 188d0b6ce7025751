package services

import (
	"fmt"
	"html"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"enom_tracker/models"
)

// Notifier получатель событий жизненного цикла.
// Вызывается после фиксации транзакции и не влияет на ее результат.
type Notifier interface {
	TicketAssigned(ticket *models.Ticket, assignee *models.User)
	PlanReviewed(plan *models.DailyPlan, owner *models.User, reason string)
	AlarmsIngested(result *IngestResult, category models.AlarmCategory, uploader string)
}

// MessageSender отправка текстового сообщения в чат
type MessageSender interface {
	Send(chatID int64, text string) error
}

// TelegramSender отправляет сообщения через Telegram Bot API
type TelegramSender struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramSender авторизует бота по токену
func NewTelegramSender(token string, logger *zap.Logger) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram бота: %w", err)
	}
	bot.Debug = false
	logger.Info("✅ telegram bot authorized", zap.String("bot", bot.Self.UserName))
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("ошибка отправки сообщения: %w", err)
	}
	return nil
}

// NotificationService формирует уведомления и отправляет их в фоне
type NotificationService struct {
	sender         MessageSender
	dispatchChatID int64 // общий чат диспетчеров
	logger         *zap.Logger
	wg             sync.WaitGroup
}

// NewNotificationService создает сервис уведомлений; sender может быть nil
func NewNotificationService(sender MessageSender, dispatchChatID int64, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, dispatchChatID: dispatchChatID, logger: logger}
}

// TicketAssigned уведомляет инженера о назначении тикета
func (n *NotificationService) TicketAssigned(ticket *models.Ticket, assignee *models.User) {
	if assignee == nil || assignee.TelegramID == "" {
		return
	}
	text := fmt.Sprintf("🛠 <b>%s</b> назначен на вас\nКатегория: %s\n%s",
		html.EscapeString(ticket.TicketNumber), ticket.Category, html.EscapeString(ticket.Description))
	n.sendToUser(assignee, text)
}

// PlanReviewed уведомляет инженера о решении по плану
func (n *NotificationService) PlanReviewed(plan *models.DailyPlan, owner *models.User, reason string) {
	if owner == nil || owner.TelegramID == "" {
		return
	}
	text := fmt.Sprintf("📋 План на %s: <b>%s</b>", plan.PlanDate.Format("2006-01-02"), plan.Status)
	if reason != "" {
		text += "\nПричина: " + html.EscapeString(reason)
	}
	n.sendToUser(owner, text)
}

// AlarmsIngested сообщает диспетчерам об итогах загрузки аварий
func (n *NotificationService) AlarmsIngested(result *IngestResult, category models.AlarmCategory, uploader string) {
	if n.dispatchChatID == 0 || result == nil {
		return
	}
	text := fmt.Sprintf("🚨 Загружено аварий %s: %d (пропущено %d), загрузил %s",
		category, result.Processed, result.Skipped, html.EscapeString(uploader))
	n.send(n.dispatchChatID, text)
}

// Wait дожидается завершения фоновых отправок
func (n *NotificationService) Wait() {
	n.wg.Wait()
}

func (n *NotificationService) sendToUser(user *models.User, text string) {
	var chatID int64
	if _, err := fmt.Sscan(user.TelegramID, &chatID); err != nil {
		n.logger.Warn("invalid telegram chat id", zap.String("username", user.Username), zap.String("telegram_id", user.TelegramID))
		return
	}
	n.send(chatID, text)
}

func (n *NotificationService) send(chatID int64, text string) {
	if n.sender == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.sender.Send(chatID, text); err != nil {
			n.logger.Warn("notification not delivered", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}()
}
