package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/durvesh-thorat/RETRIVA/models"
)

const chatColumns = `id, type, participant_a, participant_b, unread_count,
	last_sender_id, last_message, last_message_time, is_blocked, blocked_by, created_at`

// globalPairKey is the pair_key of the single campus-wide room.
const globalPairKey = "global"

// pairKey orders two participant ids so exactly one DIRECT chat row can exist
// per pair.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// GetOrCreateDirectChat returns the direct chat between two users, creating it
// on first contact. id is only used when a new row is inserted.
func (d *Database) GetOrCreateDirectChat(id, userA, userB string) (*models.Chat, error) {
	key := pairKey(userA, userB)
	chat, err := d.getChatByPairKey(key)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up chat: %w", err)
	}

	first, second := userA, userB
	if second < first {
		first, second = second, first
	}
	_, err = d.db.Exec(
		"INSERT INTO chats (id, type, participant_a, participant_b, pair_key, messages_json) VALUES (?, 'DIRECT', ?, ?, ?, '[]')",
		id, first, second, key)
	if err != nil {
		// lost a create race; the row that won is the chat
		if chat, selErr := d.getChatByPairKey(key); selErr == nil {
			return chat, nil
		}
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return d.GetChat(id)
}

// EnsureGlobalChat creates the campus-wide room if it does not exist yet and
// returns its id.
func (d *Database) EnsureGlobalChat(id string) (string, error) {
	chat, err := d.getChatByPairKey(globalPairKey)
	if err == nil {
		return chat.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up global chat: %w", err)
	}

	_, err = d.db.Exec(
		"INSERT INTO chats (id, type, participant_a, participant_b, pair_key, messages_json) VALUES (?, 'GLOBAL', '', '', ?, '[]')",
		id, globalPairKey)
	if err != nil {
		if chat, selErr := d.getChatByPairKey(globalPairKey); selErr == nil {
			return chat.ID, nil
		}
		return "", fmt.Errorf("failed to create global chat: %w", err)
	}
	return id, nil
}

// GetChat fetches one chat summary. Messages are not loaded here; callers
// merge LegacyMessages and StreamMessages when they need the transcript.
func (d *Database) GetChat(id string) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = ?`
	chat, err := scanChat(d.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch chat %s: %w", id, err)
	}
	return chat, nil
}

// ListChatsForUser returns the user's direct chats plus the global room,
// most recently active first.
func (d *Database) ListChatsForUser(userID string) ([]*models.Chat, error) {
	query := `SELECT ` + chatColumns + `
	FROM chats
	WHERE participant_a = ? OR participant_b = ? OR type = 'GLOBAL'
	ORDER BY COALESCE(last_message_time, created_at) DESC`

	rows, err := d.db.Query(query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats for %s: %w", userID, err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

// LegacyMessages returns the frozen embedded message list older chats carry.
// New messages only ever land in chat_messages; this column is read for the
// merge and never written again.
func (d *Database) LegacyMessages(chatID string) ([]models.ChatMessage, error) {
	var raw sql.NullString
	err := d.db.QueryRow("SELECT messages_json FROM chats WHERE id = ?", chatID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch legacy messages: %w", err)
	}
	if raw.String == "" || raw.String == "[]" {
		return nil, nil
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal([]byte(raw.String), &messages); err != nil {
		// unreadable history reads as empty rather than failing the merge
		log.Warnf("chat %s has corrupt legacy messages, treating as empty: %v", chatID, err)
		return nil, nil
	}
	return messages, nil
}

// AppendMessage inserts one message into the append-only stream.
func (d *Database) AppendMessage(msg *models.ChatMessage) error {
	var attachmentType, attachmentURL string
	if msg.Attachment != nil {
		attachmentType = msg.Attachment.Type
		attachmentURL = msg.Attachment.URL
	}
	_, err := d.db.Exec(`
	INSERT INTO chat_messages (id, chat_id, sender_id, sender_name, text, attachment_type, attachment_url, timestamp, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.SenderName, msg.Text,
		attachmentType, attachmentURL, msg.Timestamp, msg.Status)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// StreamMessages returns the append-only stream for a chat in ascending
// timestamp order.
func (d *Database) StreamMessages(chatID string) ([]models.ChatMessage, error) {
	query := `
	SELECT id, chat_id, sender_id, sender_name, text, attachment_type, attachment_url, timestamp, status
	FROM chat_messages
	WHERE chat_id = ?
	ORDER BY timestamp ASC, id ASC`

	rows, err := d.db.Query(query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var text, attachmentType, attachmentURL sql.NullString
		err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName,
			&text, &attachmentType, &attachmentURL, &m.Timestamp, &m.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Text = text.String
		if attachmentType.String != "" {
			m.Attachment = &models.Attachment{Type: attachmentType.String, URL: attachmentURL.String}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// UpdateChatSummary records the latest message on the chat row and bumps the
// unread counter. The counter is optimistic; read reconciliation corrects it.
func (d *Database) UpdateChatSummary(chatID, lastMessage, senderID string, sentAt time.Time) error {
	query := `
	UPDATE chats
	SET last_message = ?, last_message_time = ?, last_sender_id = ?, unread_count = unread_count + 1
	WHERE id = ?`

	result, err := d.db.Exec(query, lastMessage, sentAt, senderID, chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat summary: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check summary update: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkChatRead runs read reconciliation for one viewer in a single
// transaction. Every stream message from the other side still SENT becomes
// READ, and a stale unread counter is forced back to zero when the viewer is
// not the last sender. Returns how many messages were marked and whether the
// counter was reset.
func (d *Database) MarkChatRead(chatID, viewerID string) (int64, bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin reconciliation: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"UPDATE chat_messages SET status = 'READ' WHERE chat_id = ? AND sender_id != ? AND status = 'SENT'",
		chatID, viewerID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to mark messages read: %w", err)
	}
	marked, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to count marked messages: %w", err)
	}

	var unreadCount int
	var lastSenderID string
	err = tx.QueryRow("SELECT unread_count, last_sender_id FROM chats WHERE id = ? FOR UPDATE", chatID).
		Scan(&unreadCount, &lastSenderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("failed to read chat counters: %w", err)
	}

	// The counter reset is deliberately independent of how many messages the
	// first statement touched. A counter can go stale without any SENT rows
	// left to flip, and viewing the chat must still clear the badge.
	unreadReset := false
	if unreadCount > 0 && lastSenderID != viewerID {
		if _, err := tx.Exec("UPDATE chats SET unread_count = 0 WHERE id = ?", chatID); err != nil {
			return 0, false, fmt.Errorf("failed to reset unread count: %w", err)
		}
		unreadReset = true
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit reconciliation: %w", err)
	}
	return marked, unreadReset, nil
}

// SetChatBlocked marks the chat blocked by one participant.
func (d *Database) SetChatBlocked(chatID, byUserID string) error {
	_, err := d.db.Exec("UPDATE chats SET is_blocked = TRUE, blocked_by = ? WHERE id = ?", byUserID, chatID)
	if err != nil {
		return fmt.Errorf("failed to block chat %s: %w", chatID, err)
	}
	return nil
}

// UnblockChat lifts a block. Only the participant who placed the block can
// lift it, which the blocked_by filter enforces.
func (d *Database) UnblockChat(chatID, byUserID string) error {
	result, err := d.db.Exec(
		"UPDATE chats SET is_blocked = FALSE, blocked_by = '' WHERE id = ? AND blocked_by = ?",
		chatID, byUserID)
	if err != nil {
		return fmt.Errorf("failed to unblock chat %s: %w", chatID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check unblock result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("chat %s is not blocked by %s", chatID, byUserID)
	}
	return nil
}

func (d *Database) getChatByPairKey(key string) (*models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE pair_key = ?`
	return scanChat(d.db.QueryRow(query, key))
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var c models.Chat
	var participantA, participantB string
	var lastSenderID, lastMessage, blockedBy sql.NullString
	var lastMessageTime sql.NullTime
	err := row.Scan(&c.ID, &c.Type, &participantA, &participantB, &c.UnreadCount,
		&lastSenderID, &lastMessage, &lastMessageTime, &c.IsBlocked, &blockedBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if participantA != "" || participantB != "" {
		c.Participants = []string{participantA, participantB}
	}
	c.LastSenderID = lastSenderID.String
	c.LastMessage = lastMessage.String
	c.BlockedBy = blockedBy.String
	if lastMessageTime.Valid {
		c.LastMessageTime = lastMessageTime.Time
	}
	return &c, nil
}
