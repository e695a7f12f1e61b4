package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/durvesh-thorat/RETRIVA/auth"
	"github.com/durvesh-thorat/RETRIVA/chat"
	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/middleware"
	"github.com/durvesh-thorat/RETRIVA/models"
	"github.com/durvesh-thorat/RETRIVA/ws"
)

// ChatHandler serves the chat REST surface and the WebSocket upgrades.
type ChatHandler struct {
	chats    *chat.Service
	db       *database.Database
	hub      *ws.Hub
	tokens   *auth.Service
	upgrader websocket.Upgrader
}

func NewChatHandler(chats *chat.Service, db *database.Database, hub *ws.Hub, tokens *auth.Service) *ChatHandler {
	return &ChatHandler{
		chats:  chats,
		db:     db,
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// App clients connect from origins we do not control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ListChats returns the user's chat list, global room included, most recent
// activity first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.ListChats(middleware.UserID(c))
	if err != nil {
		log.Errorf("Failed to list chats: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "count": len(chats)})
}

// CreateChat starts (or returns the existing) direct chat with another user.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	chatRoom, err := h.chats.StartDirectChat(middleware.UserID(c), req.ParticipantID)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chatRoom)
}

// GetChat opens a chat: merged history plus the summary, with the viewer's
// unread state reconciled first.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatRoom, err := h.chats.OpenChat(c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatRoom)
}

// GetMessages returns only the merged message history.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	chatRoom, err := h.chats.OpenChat(c.Param("id"), middleware.UserID(c))
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": chatRoom.Messages, "count": len(chatRoom.Messages)})
}

// SendMessage posts a message to a chat.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), c.Param("id"), middleware.UserID(c), req)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead clears the viewer's unread badge without refetching history.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	if err := h.chats.MarkRead(c.Param("id"), middleware.UserID(c)); err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Chat marked read"})
}

// Block stops the other participant from sending.
func (h *ChatHandler) Block(c *gin.Context) {
	if err := h.chats.Block(c.Param("id"), middleware.UserID(c)); err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Chat blocked"})
}

// Unblock lifts a block placed by the caller.
func (h *ChatHandler) Unblock(c *gin.Context) {
	if err := h.chats.Unblock(c.Param("id"), middleware.UserID(c)); err != nil {
		h.respondChatError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Chat unblocked"})
}

// ListenChat upgrades to a WebSocket that streams chat_message and chat_read
// events for one room.
func (h *ChatHandler) ListenChat(c *gin.Context) {
	userID, ok := h.wsUser(c)
	if !ok {
		return
	}

	chatID := c.Param("id")
	chatRoom, err := h.db.GetChat(chatID)
	if err != nil {
		h.respondChatError(c, err)
		return
	}
	if !chatRoom.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Not a participant of this chat"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	h.hub.Register(conn, chatID, userID)
}

// ListenAlerts upgrades to a WebSocket that streams match_alert events for
// the authenticated user.
func (h *ChatHandler) ListenAlerts(c *gin.Context) {
	userID, ok := h.wsUser(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	h.hub.Register(conn, ws.UserRoom(userID), userID)
}

// wsUser authenticates a WebSocket request. Browsers cannot set an
// Authorization header on a WebSocket dial, so the token may ride in a query
// parameter instead.
func (h *ChatHandler) wsUser(c *gin.Context) (string, bool) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}

	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid or missing token"})
		return "", false
	}
	return userID, true
}

func (h *ChatHandler) respondChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
	case errors.Is(err, chat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Not a participant of this chat"})
	case errors.Is(err, chat.ErrBlocked):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Chat is blocked"})
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Message needs text or an attachment"})
	case errors.Is(err, chat.ErrRejected):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "Message rejected by moderation"})
	case errors.Is(err, chat.ErrCannotBlock):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "This chat cannot be blocked"})
	case errors.Is(err, chat.ErrSelfChat):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Cannot start a chat with yourself"})
	default:
		log.Errorf("Chat operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Chat operation failed"})
	}
}
