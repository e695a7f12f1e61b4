package chat

import (
	"context"
	"errors"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/metrics"
	"github.com/durvesh-thorat/RETRIVA/models"
	"github.com/durvesh-thorat/RETRIVA/moderation"
	"github.com/durvesh-thorat/RETRIVA/ws"
)

var (
	// ErrNotParticipant is returned when a user touches a chat they do not
	// belong to.
	ErrNotParticipant = errors.New("user is not a participant of this chat")

	// ErrBlocked is returned on sends from the blocked side of a chat. The
	// blocker can still write.
	ErrBlocked = errors.New("chat is blocked")

	// ErrEmptyMessage is returned when a send carries neither text nor an
	// attachment.
	ErrEmptyMessage = errors.New("message needs text or an attachment")

	// ErrRejected is returned when moderation declines the message text.
	ErrRejected = errors.New("message rejected by moderation")

	// ErrCannotBlock is returned when blocking anything but a direct chat.
	ErrCannotBlock = errors.New("only direct chats can be blocked")

	// ErrSelfChat is returned when a user opens a direct chat with
	// themselves.
	ErrSelfChat = errors.New("cannot open a chat with yourself")
)

// last_message column width, in characters
const maxSummaryLen = 1000

// Service coordinates chat reads, sends, blocking and live delivery.
type Service struct {
	db       *database.Database
	hub      *ws.Hub
	screener *moderation.Screener
}

// NewService creates the chat service.
func NewService(db *database.Database, hub *ws.Hub, screener *moderation.Screener) *Service {
	return &Service{db: db, hub: hub, screener: screener}
}

// StartDirectChat returns the direct chat between the two users, creating it
// on first contact.
func (s *Service) StartDirectChat(userID, otherID string) (*models.Chat, error) {
	if userID == otherID {
		return nil, ErrSelfChat
	}
	if _, err := s.db.GetUserByID(otherID); err != nil {
		return nil, err
	}
	return s.db.GetOrCreateDirectChat(uuid.NewString(), userID, otherID)
}

// ListChats returns the user's chats, most recently active first.
func (s *Service) ListChats(userID string) ([]*models.Chat, error) {
	return s.db.ListChatsForUser(userID)
}

// OpenChat returns the chat with its full merged transcript and runs read
// reconciliation for the viewer, so the returned counters are already
// settled.
func (s *Service) OpenChat(chatID, viewerID string) (*models.Chat, error) {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}

	s.Reconcile(chatID, viewerID)

	// re-read so the summary reflects the reconciled state
	chat, err = s.db.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	legacy, err := s.db.LegacyMessages(chatID)
	if err != nil {
		return nil, err
	}
	stream, err := s.db.StreamMessages(chatID)
	if err != nil {
		return nil, err
	}
	chat.Messages = MergeMessages(legacy, stream)
	return chat, nil
}

// SendMessage appends a message to the chat stream and updates the chat
// summary. The two writes are independent: a summary failure after a
// successful append leaves the message delivered, and reconciliation plus the
// next send square the counters. Neither write is rolled back.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID string, req models.SendMessageRequest) (*models.ChatMessage, error) {
	if req.Text == "" && req.Attachment == nil {
		return nil, ErrEmptyMessage
	}

	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	if chat.IsBlocked && chat.BlockedBy != senderID {
		return nil, ErrBlocked
	}

	sender, err := s.db.GetUserByID(senderID)
	if err != nil {
		return nil, err
	}

	if verdict := s.screener.Screen(ctx, req.Text); verdict.Flagged {
		log.Warnf("message from %s in chat %s rejected: %s", senderID, chatID, verdict.Reason)
		return nil, ErrRejected
	}

	msg := &models.ChatMessage{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: sender.DisplayName,
		Text:       req.Text,
		Attachment: req.Attachment,
		Timestamp:  time.Now().UTC(),
		Status:     models.MessageStatusSent,
	}

	if err := s.db.AppendMessage(msg); err != nil {
		return nil, err
	}
	if err := s.db.UpdateChatSummary(chatID, summaryText(msg), senderID, msg.Timestamp); err != nil {
		return nil, err
	}

	metrics.ChatMessagesTotal.Inc()
	s.hub.Broadcast(chatID, ws.Event{Type: "chat_message", Data: msg})

	// participants with the chat open see the message immediately; settle
	// their read state now instead of waiting for the next open
	for _, viewerID := range s.hub.Viewers(chatID) {
		if viewerID != senderID {
			s.Reconcile(chatID, viewerID)
		}
	}
	return msg, nil
}

// Reconcile runs read reconciliation for one viewer. Failures are logged and
// left for the next trigger.
func (s *Service) Reconcile(chatID, viewerID string) {
	marked, reset, err := s.db.MarkChatRead(chatID, viewerID)
	if err != nil {
		metrics.ChatReconciliationsTotal.WithLabelValues("error").Inc()
		log.Warnf("read reconciliation failed for chat %s, viewer %s: %v", chatID, viewerID, err)
		return
	}
	if marked == 0 && !reset {
		metrics.ChatReconciliationsTotal.WithLabelValues("noop").Inc()
		return
	}
	metrics.ChatReconciliationsTotal.WithLabelValues("applied").Inc()
	s.hub.Broadcast(chatID, ws.Event{Type: "chat_read", Data: map[string]string{
		"chat_id":   chatID,
		"reader_id": viewerID,
	}})
}

// MarkRead clears the viewer's unread state without fetching history.
func (s *Service) MarkRead(chatID, viewerID string) error {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(viewerID) {
		return ErrNotParticipant
	}
	s.Reconcile(chatID, viewerID)
	return nil
}

// Block marks the chat blocked by one participant. Only direct chats can be
// blocked.
func (s *Service) Block(chatID, byUserID string) error {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(byUserID) {
		return ErrNotParticipant
	}
	if chat.Type != models.ChatTypeDirect {
		return ErrCannotBlock
	}
	return s.db.SetChatBlocked(chatID, byUserID)
}

// Unblock lifts a block. The storage layer enforces that only the blocker can
// lift it.
func (s *Service) Unblock(chatID, byUserID string) error {
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(byUserID) {
		return ErrNotParticipant
	}
	return s.db.UnblockChat(chatID, byUserID)
}

func summaryText(msg *models.ChatMessage) string {
	text := msg.Text
	if text == "" && msg.Attachment != nil {
		text = "[" + msg.Attachment.Type + "]"
	}
	runes := []rune(text)
	if len(runes) > maxSummaryLen {
		return string(runes[:maxSummaryLen-3]) + "..."
	}
	return text
}
