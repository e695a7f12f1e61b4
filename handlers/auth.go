package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/durvesh-thorat/RETRIVA/auth"
	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/middleware"
	"github.com/durvesh-thorat/RETRIVA/models"
)

// AuthHandler serves registration, login and token refresh.
type AuthHandler struct {
	db          *database.Database
	tokens      *auth.Service
	tokenExpiry time.Duration
}

func NewAuthHandler(db *database.Database, tokens *auth.Service, tokenExpiry time.Duration) *AuthHandler {
	return &AuthHandler{db: db, tokens: tokens, tokenExpiry: tokenExpiry}
}

// Register creates an account and hands back a token pair so the client can
// skip a separate login round trip.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("Invalid register request: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Errorf("Failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create user"})
		return
	}

	user := &models.User{
		ID:          uuid.NewString(),
		Email:       req.Email,
		DisplayName: req.DisplayName,
	}
	if err := h.db.CreateUser(user, hash); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Email already registered"})
			return
		}
		log.Errorf("Failed to create user: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create user"})
		return
	}

	h.respondWithTokens(c, http.StatusCreated, user.ID)
}

// Login verifies credentials and issues a token pair. A missing account and a
// wrong password produce the same response.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Errorf("Invalid login request: %v", err)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	user, hash, err := h.db.GetUserByEmail(req.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password"})
			return
		}
		log.Errorf("Failed to look up user: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Login failed"})
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password"})
		return
	}

	h.respondWithTokens(c, http.StatusOK, user.ID)
}

// Refresh trades a valid refresh token for a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request format"})
		return
	}

	userID, err := h.tokens.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid refresh token"})
		return
	}
	// The account may have been deleted since the token was minted.
	if _, err := h.db.GetUserByID(userID); err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid refresh token"})
		return
	}

	h.respondWithTokens(c, http.StatusOK, userID)
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.db.GetUserByID(middleware.UserID(c))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "User not found"})
			return
		}
		log.Errorf("Failed to fetch user: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to fetch user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) respondWithTokens(c *gin.Context, status int, userID string) {
	access, refresh, err := h.tokens.GenerateTokenPair(userID)
	if err != nil {
		log.Errorf("Failed to generate tokens: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate tokens"})
		return
	}

	c.JSON(status, models.TokenResponse{
		Token:        access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokenExpiry.Seconds()),
	})
}
