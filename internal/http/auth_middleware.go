package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/security"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Context keys set by the auth middleware.
const (
	ContextUserID   = "userID"
	ContextUsername = "username"
	ContextIsAdmin  = "isAdmin"
)

// UserLookup resolves authenticated principals to users.
type UserLookup interface {
	GetUser(ctx context.Context, id uint64) (models.User, error)
	AuthenticateAPIKey(ctx context.Context, key string) (models.User, error)
}

// UserAuthMiddleware accepts a user JWT in the Authorization header. With allowAPIKey set
// it also accepts an API key, either as the bearer token or in X-API-Key.
func UserAuthMiddleware(users UserLookup, jwtSecret string, allowAPIKey bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if allowAPIKey && token == "" {
			token = strings.TrimSpace(c.GetHeader("X-API-Key"))
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		var (
			user    models.User
			errAuth error
		)
		if allowAPIKey && security.LooksLikeAPIKey(token) {
			user, errAuth = users.AuthenticateAPIKey(c.Request.Context(), token)
			if errAuth != nil {
				log.WithField("api_key", util.HideSecret(token)).Debug("api key rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
		} else {
			claims, errJWT := security.ParseToken(jwtSecret, token)
			if errJWT != nil {
				msg := "invalid token"
				if errors.Is(errJWT, security.ErrExpiredToken) {
					msg = "token expired"
				}
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
				return
			}
			user, errAuth = users.GetUser(c.Request.Context(), claims.UserID)
			if errAuth != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
		}
		if user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUsername, user.Username)
		c.Set(ContextIsAdmin, user.IsAdmin)
		c.Next()
	}
}

// AdminAuthMiddleware requires a JWT carrying the admin claim of a user that is still an admin.
func AdminAuthMiddleware(users UserLookup, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		claims, errJWT := security.ParseAdminToken(jwtSecret, token)
		if errJWT != nil {
			if errors.Is(errJWT, security.ErrNotAdmin) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, errFind := users.GetUser(c.Request.Context(), claims.UserID)
		if errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !user.IsAdmin || user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextUsername, user.Username)
		c.Set(ContextIsAdmin, true)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

// GetUserID extracts the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) uint64 {
	val, exists := c.Get(ContextUserID)
	if !exists {
		return 0
	}
	id, _ := val.(uint64)
	return id
}
