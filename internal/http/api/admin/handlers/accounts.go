package handlers

import (
	"errors"
	"net/http"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AccountHandler lets administrators switch any credential on or off.
type AccountHandler struct {
	store *store.Store
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(st *store.Store) *AccountHandler {
	return &AccountHandler{store: st}
}

type accountStatusRequest struct {
	Status *int `json:"status"`
}

// UpdateStatus sets a credential to enabled (1) or disabled by admin (0), regardless of owner.
func (h *AccountHandler) UpdateStatus(c *gin.Context) {
	var req accountStatusRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil || req.Status == nil || (*req.Status != 0 && *req.Status != 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 0 or 1"})
		return
	}
	cookieID := c.Param("cookie_id")
	cred, errUpdate := h.store.SetCredentialStatus(c.Request.Context(), 0, cookieID, *req.Status == 1)
	if errUpdate != nil {
		if errors.Is(errUpdate, store.ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
			return
		}
		log.WithError(errUpdate).WithField("cookie_id", cookieID).Error("admin: update credential status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update credential status failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cookie_id": cred.CookieID,
		"user_id":   cred.UserID,
		"is_shared": cred.IsShared,
		"status":    cred.Status,
	})
}
