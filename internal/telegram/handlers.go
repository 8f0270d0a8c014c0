package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/pkg/logger"
)

// sender is the slice of the bot API the handlers need. *tgbotapi.BotAPI
// satisfies it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Verifier consumes link tokens. Implemented by linking.Service.
type Verifier interface {
	Verify(ctx context.Context, token string, chatID int64) (int64, error)
}

// Handlers manages command handling for the bot.
type Handlers struct {
	api      sender
	verifier Verifier
	links    *storage.LinkStore
}

// NewHandlers creates a new handlers instance.
func NewHandlers(api sender, verifier Verifier, links *storage.LinkStore) *Handlers {
	return &Handlers{
		api:      api,
		verifier: verifier,
		links:    links,
	}
}

// HandleCommand routes commands to appropriate handlers.
func (h *Handlers) HandleCommand(msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	logger.Debug().
		Str("command", command).
		Int64("chat_id", msg.Chat.ID).
		Msg("Received command")

	switch command {
	case "start":
		// Deep links (t.me/bot?start=<token>) deliver the token as the
		// command argument.
		if args != "" {
			h.handleLink(msg.Chat.ID, args)
			return
		}
		h.sendReply(msg.Chat.ID, msgStart)
	case "help":
		h.sendReply(msg.Chat.ID, msgStart)
	case "link":
		if args == "" {
			h.sendReply(msg.Chat.ID, msgLinkUsage)
			return
		}
		h.handleLink(msg.Chat.ID, args)
	case "notify":
		h.handleNotify(msg.Chat.ID, args)
	case "status":
		h.handleStatus(msg.Chat.ID)
	default:
		h.sendReply(msg.Chat.ID, msgStart)
	}
}

// handleLink verifies a token for this chat and reports the outcome in
// user-correctable terms.
func (h *Handlers) handleLink(chatID int64, token string) {
	ctx, cancel := h.opCtx()
	defer cancel()

	userID, err := h.verifier.Verify(ctx, token, chatID)
	switch {
	case err == nil:
		logger.Info().Int64("user_id", userID).Int64("chat_id", chatID).Msg("Link verified via bot")
		h.sendReply(chatID, msgLinked)
	case errors.Is(err, storage.ErrTokenNotFound):
		h.sendReply(chatID, msgTokenInvalid)
	case errors.Is(err, storage.ErrTokenExpired):
		h.sendReply(chatID, msgTokenExpired)
	case errors.Is(err, storage.ErrTokenAlreadyUsed):
		h.sendReply(chatID, msgTokenUsed)
	case errors.Is(err, storage.ErrChatAlreadyLinked):
		h.sendReply(chatID, msgChatConflict)
	default:
		logger.Error().Err(err).Int64("chat_id", chatID).Msg("Verification failed")
		h.sendReply(chatID, msgInternalError)
	}
}

// handleNotify toggles notification delivery for a linked chat.
func (h *Handlers) handleNotify(chatID int64, args string) {
	var enabled bool
	switch strings.ToLower(args) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		h.sendReply(chatID, msgNotifyUsage)
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	err := h.links.SetNotifyEnabled(ctx, chatID, enabled)
	switch {
	case errors.Is(err, storage.ErrLinkNotFound):
		h.sendReply(chatID, msgNotLinked)
	case err != nil:
		logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to toggle notifications")
		h.sendReply(chatID, msgInternalError)
	case enabled:
		h.sendReply(chatID, msgNotifyOn)
	default:
		h.sendReply(chatID, msgNotifyOff)
	}
}

// handleStatus reports whether the chat is linked and the notify flag.
func (h *Handlers) handleStatus(chatID int64) {
	ctx, cancel := h.opCtx()
	defer cancel()

	link, err := h.links.GetLinkByChatID(ctx, chatID)
	switch {
	case errors.Is(err, storage.ErrLinkNotFound):
		h.sendReply(chatID, msgStatus(false, false, time.Time{}))
	case err != nil:
		logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to load link status")
		h.sendReply(chatID, msgInternalError)
	default:
		h.sendReply(chatID, msgStatus(true, link.NotifyEnabled, link.CreatedAt))
	}
}

// sendReply sends a plain reply to a chat.
func (h *Handlers) sendReply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := h.api.Send(msg); err != nil {
		logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send reply")
	}
}

func (h *Handlers) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
