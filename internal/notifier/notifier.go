// Package notifier delivers claimed queue events to Telegram chats.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/notifybot/internal/queue"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/internal/telegram"
	"github.com/user/notifybot/pkg/logger"
)

// sender is the slice of the bot API the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier is the delivery collaborator handed to queue workers. It resolves
// the target chat through the link store, honors notify_enabled, and sends
// the formatted message.
type Notifier struct {
	bot        sender
	links      *storage.LinkStore
	msgBuilder *telegram.MessageBuilder
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bot sender, links *storage.LinkStore) *Notifier {
	return &Notifier{
		bot:        bot,
		links:      links,
		msgBuilder: telegram.NewMessageBuilder(),
	}
}

// Deliver sends one event. A returned error makes the worker leave the claim
// to lapse and retry later; an unroutable event (no link, notifications off)
// is dropped successfully since there is nothing to deliver.
func (n *Notifier) Deliver(ctx context.Context, event storage.QueueEvent) error {
	if event.Type == queue.EventBroadcast {
		return n.deliverBroadcast(ctx, event)
	}

	userID, message, err := n.buildMessage(event)
	if err != nil {
		// Malformed rows cannot succeed on retry; drop them with a log
		// instead of wedging the queue.
		logger.Error().
			Err(err).
			Int64("event_id", event.ID).
			Str("type", event.Type).
			Msg("Undeliverable event payload, dropping")
		return nil
	}

	link, err := n.links.GetLinkByUserID(ctx, userID)
	if errors.Is(err, storage.ErrLinkNotFound) {
		logger.Debug().Int64("user_id", userID).Int64("event_id", event.ID).Msg("User has no linked chat, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve link: %w", err)
	}
	if !link.NotifyEnabled {
		logger.Debug().Int64("user_id", userID).Int64("event_id", event.ID).Msg("Notifications disabled, skipping")
		return nil
	}

	return n.send(link.ChatID, message)
}

// deliverBroadcast fans one event out to every chat with notifications
// enabled. Per-chat send failures are logged and skipped so one broken chat
// does not starve the rest; the event still acks.
func (n *Notifier) deliverBroadcast(ctx context.Context, event storage.QueueEvent) error {
	var p queue.BroadcastPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		logger.Error().Err(err).Int64("event_id", event.ID).Msg("Undeliverable broadcast payload, dropping")
		return nil
	}

	links, err := n.links.ListNotifiable(ctx)
	if err != nil {
		return fmt.Errorf("failed to list broadcast targets: %w", err)
	}

	message := n.msgBuilder.BuildBroadcast(&p)
	for _, link := range links {
		if err := n.send(link.ChatID, message); err != nil {
			logger.Error().
				Err(err).
				Int64("chat_id", link.ChatID).
				Int64("event_id", event.ID).
				Msg("Failed to send broadcast to chat")
		}
	}
	return nil
}

// buildMessage parses the payload and returns the target user and text.
func (n *Notifier) buildMessage(event storage.QueueEvent) (int64, string, error) {
	switch event.Type {
	case queue.EventDeadlineCreated:
		var p queue.DeadlinePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", err
		}
		return p.UserID, n.msgBuilder.BuildDeadlineCreated(&p), nil
	case queue.EventDeadlineReminder:
		var p queue.DeadlinePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", err
		}
		return p.UserID, n.msgBuilder.BuildDeadlineReminder(&p), nil
	case queue.EventScoresUpdated:
		var p queue.ScoresPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return 0, "", err
		}
		return p.UserID, n.msgBuilder.BuildScoresUpdated(&p), nil
	default:
		return 0, "", fmt.Errorf("unknown event type %q", event.Type)
	}
}

// send delivers a message to a chat.
func (n *Notifier) send(chatID int64, message string) error {
	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	_, err := n.bot.Send(msg)
	return err
}
