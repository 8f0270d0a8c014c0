package telegram

import (
	"fmt"
	"time"

	"github.com/user/notifybot/internal/queue"
)

// MessageBuilder formats notification messages for Telegram delivery.
type MessageBuilder struct{}

// NewMessageBuilder creates a new message builder.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// BuildDeadlineCreated formats a new-deadline notification.
func (b *MessageBuilder) BuildDeadlineCreated(p *queue.DeadlinePayload) string {
	return fmt.Sprintf("🆕 *New deadline*\n%s", b.deadlineLine(p))
}

// BuildDeadlineReminder formats an upcoming-deadline reminder.
func (b *MessageBuilder) BuildDeadlineReminder(p *queue.DeadlinePayload) string {
	return fmt.Sprintf("⏰ *Deadline approaching*\n%s", b.deadlineLine(p))
}

// BuildScoresUpdated formats a scores-changed notification.
func (b *MessageBuilder) BuildScoresUpdated(p *queue.ScoresPayload) string {
	return fmt.Sprintf("📊 *Scores updated*\n%s: %.3g", p.Subject, p.Total)
}

// BuildBroadcast formats an announcement sent to every subscribed chat.
func (b *MessageBuilder) BuildBroadcast(p *queue.BroadcastPayload) string {
	return fmt.Sprintf("📣 %s", p.Text)
}

func (b *MessageBuilder) deadlineLine(p *queue.DeadlinePayload) string {
	when := p.DueAt.Format("02.01.2006 15:04")
	if p.AllDay {
		when = p.DueAt.Format("02.01.2006")
	}
	line := fmt.Sprintf("• %s — ", when)
	if p.Kind != "" {
		line += fmt.Sprintf("[%s] ", p.Kind)
	}
	if p.Subject != "" {
		line += p.Subject + ": "
	}
	return line + p.Title
}

// Command reply texts. Token and link failures map to clear, user-correctable
// prompts; a foreign-chat conflict never reveals the other account.
const (
	msgStart = "Hi! I deliver notifications from the site.\n" +
		"Commands:\n" +
		"• /link <code> — link this chat to your site account\n" +
		"• /notify on|off — toggle notifications\n" +
		"• /status — show link status\n" +
		"• /help — this help\n\n" +
		"Request a link code on the site, then send it here."

	msgLinkUsage = "Usage: /link <code>\nRequest a code on the site first."

	msgLinked = "Done! This chat is now linked to your account ✅"

	msgTokenInvalid = "That code is not valid. Request a new link code on the site and try again."

	msgTokenExpired = "That code has expired. Request a new link code on the site and try again."

	msgTokenUsed = "That code was already used. Request a new link code on the site and try again."

	msgChatConflict = "This chat is already linked to a different account. " +
		"Unlink it there first, or use another chat."

	msgNotLinked = "This chat is not linked yet. Use /link <code> to link it."

	msgNotifyUsage = "Usage: /notify on|off"

	msgNotifyOn  = "Notifications are ON 🔔"
	msgNotifyOff = "Notifications are OFF 🔕"

	msgInternalError = "Something went wrong, please try again later."
)

func msgStatus(chatLinked bool, notifyEnabled bool, since time.Time) string {
	if !chatLinked {
		return msgNotLinked
	}
	state := "off 🔕"
	if notifyEnabled {
		state = "on 🔔"
	}
	return fmt.Sprintf("Linked since %s\nNotifications: %s",
		since.Format("02.01.2006"), state)
}
