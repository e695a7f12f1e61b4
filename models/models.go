package models

import "time"

// ReportType tells whether the reporter lost the item or found it.
type ReportType string

const (
	ReportTypeLost  ReportType = "LOST"
	ReportTypeFound ReportType = "FOUND"
)

// ReportStatus is the lifecycle state of a report. OPEN reports participate
// in matching; RESOLVED is terminal.
type ReportStatus string

const (
	ReportStatusOpen     ReportStatus = "OPEN"
	ReportStatusResolved ReportStatus = "RESOLVED"
)

// Item categories. CategoryOther opts out of strict category narrowing in
// candidate search.
const (
	CategoryElectronics = "Electronics"
	CategoryAccessories = "Accessories"
	CategoryDocuments   = "Documents"
	CategoryClothing    = "Clothing"
	CategoryKeys        = "Keys"
	CategoryBags        = "Bags"
	CategoryBooks       = "Books"
	CategoryOther       = "Other"
)

var allCategories = []string{
	CategoryElectronics,
	CategoryAccessories,
	CategoryDocuments,
	CategoryClothing,
	CategoryKeys,
	CategoryBags,
	CategoryBooks,
	CategoryOther,
}

// Categories returns the known item categories in display order.
func Categories() []string {
	out := make([]string, len(allCategories))
	copy(out, allCategories)
	return out
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c string) bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ItemReport is a lost or found item report. Type and Category are fixed at
// creation; Status moves OPEN -> RESOLVED and never back. Location, DateText
// and TimeText are free text as entered by the reporter.
type ItemReport struct {
	ID          string       `json:"id"`
	ReporterID  string       `json:"reporter_id"`
	Type        ReportType   `json:"type"`
	Status      ReportStatus `json:"status"`
	Category    string       `json:"category"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	Location    string       `json:"location"`
	DateText    string       `json:"date_text"`
	TimeText    string       `json:"time_text"`
	ImageURLs   []string     `json:"image_urls"`
	IsFlagged   bool         `json:"is_flagged,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// PrimaryImageURL returns the first image URL, or "" when the report has no
// images.
func (r *ItemReport) PrimaryImageURL() string {
	if len(r.ImageURLs) == 0 {
		return ""
	}
	return r.ImageURLs[0]
}

// MatchCandidate is one scored candidate from a find-candidates run. Never
// persisted with the report; may live in the match cache.
type MatchCandidate struct {
	ID         string `json:"id"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason,omitempty"`
}

// ComparisonResult is the outcome of comparing two item reports. Confidence
// is always within [0,100].
type ComparisonResult struct {
	Confidence   int      `json:"confidence"`
	Explanation  string   `json:"explanation"`
	Similarities []string `json:"similarities"`
	Differences  []string `json:"differences"`
}

// ExtractedAttributes is the structured description pulled from an item
// photo. Empty fields are the accepted degraded mode when extraction fails.
type ExtractedAttributes struct {
	Title                  string   `json:"title"`
	Category               string   `json:"category"`
	Tags                   []string `json:"tags"`
	Color                  string   `json:"color"`
	Brand                  string   `json:"brand"`
	Condition              string   `json:"condition"`
	DistinguishingFeatures string   `json:"distinguishing_features"`
}

// ChatType distinguishes two-party chats from the campus-wide room.
type ChatType string

const (
	ChatTypeDirect ChatType = "DIRECT"
	ChatTypeGlobal ChatType = "GLOBAL"
)

// MessageStatus is the per-message read state. SENT -> READ, one way.
type MessageStatus string

const (
	MessageStatusSent MessageStatus = "SENT"
	MessageStatusRead MessageStatus = "READ"
)

// Attachment types carried by chat messages.
const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// Chat is a conversation between matched users. Messages holds the legacy
// embedded list; new messages append to the chat_messages stream and both
// sources are merged on read. UnreadCount is incremented optimistically on
// send and corrected by read reconciliation.
type Chat struct {
	ID              string        `json:"id"`
	Type            ChatType      `json:"type"`
	Participants    []string      `json:"participants"`
	Messages        []ChatMessage `json:"messages,omitempty"`
	UnreadCount     int           `json:"unread_count"`
	LastSenderID    string        `json:"last_sender_id"`
	LastMessage     string        `json:"last_message"`
	LastMessageTime time.Time     `json:"last_message_time"`
	IsBlocked       bool          `json:"is_blocked"`
	BlockedBy       string        `json:"blocked_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// OtherParticipant returns the participant that is not userID. Empty when
// userID is not a participant or the chat is not direct.
func (c *Chat) OtherParticipant(userID string) string {
	if c.Type != ChatTypeDirect {
		return ""
	}
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	if c.Type == ChatTypeGlobal {
		return true
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Attachment is an optional file or image carried by a message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ChatMessage is a single chat message. ID may be empty on legacy embedded
// entries; message identity then falls back to the timestamp.
type ChatMessage struct {
	ID         string        `json:"id,omitempty"`
	ChatID     string        `json:"chat_id,omitempty"`
	SenderID   string        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Text       string        `json:"text,omitempty"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status"`
}

// User is a registered account.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateUserRequest is the registration payload.
type CreateUserRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required"`
}

// LoginRequest is the credential payload.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest trades a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse carries an issued token pair.
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// CreateReportRequest is the new-report payload. AI-extracted attributes are
// applied client-side to prefill these fields before submission.
type CreateReportRequest struct {
	Type        ReportType `json:"type" binding:"required"`
	Category    string     `json:"category" binding:"required"`
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags"`
	Location    string     `json:"location"`
	DateText    string     `json:"date_text"`
	TimeText    string     `json:"time_text"`
	ImageURLs   []string   `json:"image_urls"`
}

// ExtractAttributesRequest carries a base64-encoded item photo.
type ExtractAttributesRequest struct {
	Image string `json:"image" binding:"required"`
}

// CompareItemsRequest names the two reports to compare.
type CompareItemsRequest struct {
	ItemA string `json:"item_a" binding:"required"`
	ItemB string `json:"item_b" binding:"required"`
}

// CreateChatRequest opens (or returns) the direct chat with another user.
type CreateChatRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

// SendMessageRequest is the send-message payload. Either Text or Attachment
// must be present.
type SendMessageRequest struct {
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment"`
}

// MatchAlert is pushed to a reporter when the analyze worker finds candidate
// matches for a fresh report.
type MatchAlert struct {
	ReportID   string           `json:"report_id"`
	Candidates []MatchCandidate `json:"candidates"`
}

// ReportCreatedEvent is published to the report exchange when a new report is
// stored.
type ReportCreatedEvent struct {
	ReportID   string    `json:"report_id"`
	ReporterID string    `json:"reporter_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is the uniform informational payload.
type MessageResponse struct {
	Message string `json:"message"`
}
