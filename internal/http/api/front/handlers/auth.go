package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/security"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AuthHandler issues JWTs and API keys.
type AuthHandler struct {
	store  *store.Store
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(st *store.Store, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{store: st, jwtCfg: jwtCfg}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, errFind := h.store.GetUserByUsername(c.Request.Context(), username)
	if errFind != nil {
		if !errors.Is(errFind, store.ErrUserNotFound) {
			log.WithError(errFind).Error("login: load user")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !security.CheckPassword(user.Password, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if user.Disabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "user disabled"})
		return
	}

	token, errToken := security.GenerateToken(h.jwtCfg.Secret, user.ID, user.Username, user.IsAdmin, h.jwtCfg.Expiry)
	if errToken != nil {
		log.WithError(errToken).Error("login: sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.jwtCfg.Expiry.Seconds()),
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKey issues a new API key for the caller. The key is only shown once.
func (h *AuthHandler) CreateAPIKey(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req createAPIKeyRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&req); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	key, errGen := security.GenerateAPIKey()
	if errGen != nil {
		log.WithError(errGen).Error("api key: generate")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate api key failed"})
		return
	}
	row, errCreate := h.store.CreateAPIKey(c.Request.Context(), userID, req.Name, key)
	if errCreate != nil {
		writeStoreError(c, errCreate, "create api key failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         row.ID,
		"name":       row.Name,
		"key":        row.APIKey,
		"created_at": row.CreatedAt,
	})
}

// ListAPIKeys returns the caller's keys with the secret masked.
func (h *AuthHandler) ListAPIKeys(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	rows, errList := h.store.ListAPIKeys(c.Request.Context(), userID)
	if errList != nil {
		writeStoreError(c, errList, "list api keys failed")
		return
	}
	now := time.Now()
	keys := make([]gin.H, 0, len(rows))
	for i := range rows {
		keys = append(keys, apiKeyView(&rows[i], now))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

// RevokeAPIKey deactivates one of the caller's keys.
func (h *AuthHandler) RevokeAPIKey(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	keyID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || keyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid api key id"})
		return
	}
	row, errRevoke := h.store.RevokeAPIKey(c.Request.Context(), userID, keyID)
	if errRevoke != nil {
		writeStoreError(c, errRevoke, "revoke api key failed")
		return
	}
	log.WithFields(log.Fields{"user_id": userID, "api_key_id": row.ID}).Info("api key revoked")
	c.JSON(http.StatusOK, apiKeyView(&row, time.Now()))
}

func apiKeyView(row *models.APIKey, now time.Time) gin.H {
	return gin.H{
		"id":           row.ID,
		"name":         row.Name,
		"key":          util.HideSecret(row.APIKey),
		"active":       row.Usable(now),
		"expires_at":   row.ExpiresAt,
		"revoked_at":   row.RevokedAt,
		"last_used_at": row.LastUsedAt,
		"created_at":   row.CreatedAt,
	}
}
