package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AccountHandler serves the caller's credentials ("accounts").
type AccountHandler struct {
	store  *store.Store
	poller *quota.Poller
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(st *store.Store, poller *quota.Poller) *AccountHandler {
	return &AccountHandler{store: st, poller: poller}
}

type createAccountRequest struct {
	Name     string          `json:"name"`
	IsShared *int            `json:"is_shared"`
	Models   []string        `json:"models"`
	Metadata json.RawMessage `json:"metadata"`
}

// List returns the caller's credentials.
func (h *AccountHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	rows, errList := h.store.ListCredentials(c.Request.Context(), userID)
	if errList != nil {
		writeStoreError(c, errList, "list accounts failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, serializeCredential(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// Create registers a credential obtained through an OAuth grant.
func (h *AccountHandler) Create(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req createAccountRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	shared := false
	if req.IsShared != nil {
		if *req.IsShared != 0 && *req.IsShared != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_shared must be 0 or 1"})
			return
		}
		shared = *req.IsShared == 1
	}
	cred, errCreate := h.store.CreateCredential(c.Request.Context(), store.CreateCredentialInput{
		UserID:   userID,
		Name:     req.Name,
		IsShared: shared,
		Models:   req.Models,
		Metadata: req.Metadata,
	})
	if errCreate != nil {
		writeStoreError(c, errCreate, "create account failed")
		return
	}
	c.JSON(http.StatusCreated, serializeCredential(&cred))
}

// Get returns one of the caller's credentials.
func (h *AccountHandler) Get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	cred, errFind := h.store.GetCredential(c.Request.Context(), userID, c.Param("cookie_id"))
	if errFind != nil {
		writeStoreError(c, errFind, "get account failed")
		return
	}
	c.JSON(http.StatusOK, serializeCredential(&cred))
}

// Delete removes one of the caller's credentials.
func (h *AccountHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if errDelete := h.store.DeleteCredential(c.Request.Context(), userID, c.Param("cookie_id")); errDelete != nil {
		writeStoreError(c, errDelete, "delete account failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// UpdateStatus enables or disables one of the caller's credentials.
func (h *AccountHandler) UpdateStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body statusBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	enabled, valid := body.enabled()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 0 or 1"})
		return
	}
	cred, errUpdate := h.store.SetCredentialStatus(c.Request.Context(), userID, c.Param("cookie_id"), enabled)
	if errUpdate != nil {
		writeStoreError(c, errUpdate, "update account status failed")
		return
	}
	c.JSON(http.StatusOK, serializeCredential(&cred))
}

// UpdateModelStatus enables or disables one model on one of the caller's credentials.
func (h *AccountHandler) UpdateModelStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var body statusBody
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	enabled, valid := body.enabled()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be 0 or 1"})
		return
	}
	row, errUpdate := h.store.SetModelQuotaStatus(c.Request.Context(), userID, c.Param("cookie_id"), c.Param("model_name"), enabled)
	if errUpdate != nil {
		writeStoreError(c, errUpdate, "update model status failed")
		return
	}
	c.JSON(http.StatusOK, serializeQuota(&row))
}

// Quotas lists the per-model quota rows of one credential.
func (h *AccountHandler) Quotas(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	rows, errList := h.store.ListCredentialQuotas(c.Request.Context(), userID, c.Param("cookie_id"))
	if errList != nil {
		writeStoreError(c, errList, "list quotas failed")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, serializeQuota(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"quotas": out})
}

// RefreshQuotas re-reads the live quota of every model of one credential.
func (h *AccountHandler) RefreshQuotas(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	if h.poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota refresher unavailable"})
		return
	}
	cookieID := strings.TrimSpace(c.Param("cookie_id"))
	if _, errOwn := h.store.GetCredential(c.Request.Context(), userID, cookieID); errOwn != nil {
		writeStoreError(c, errOwn, "refresh quotas failed")
		return
	}
	rows, errRefresh := h.poller.RefreshByCookieID(c.Request.Context(), cookieID)
	if errors.Is(errRefresh, quota.ErrNoRefreshTargets) {
		c.JSON(http.StatusConflict, gin.H{"error": "credential has no refreshable models"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, serializeQuota(&rows[i]))
	}
	resp := gin.H{"quotas": out}
	if errRefresh != nil {
		log.WithError(errRefresh).WithField("cookie_id", cookieID).Warn("manual quota refresh partially failed")
		resp["error"] = errRefresh.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func serializeCredential(cred *models.Credential) gin.H {
	quotas := make([]gin.H, 0, len(cred.Quotas))
	for i := range cred.Quotas {
		quotas = append(quotas, serializeQuota(&cred.Quotas[i]))
	}
	isShared := 0
	if cred.IsShared {
		isShared = 1
	}
	status := 0
	if cred.Enabled() {
		status = 1
	}
	return gin.H{
		"cookie_id":    cred.CookieID,
		"name":         cred.Name,
		"is_shared":    isShared,
		"status":       status,
		"quotas":       quotas,
		"last_used_at": cred.LastUsedAt,
		"created_at":   cred.CreatedAt,
		"updated_at":   cred.UpdatedAt,
	}
}

func serializeQuota(row *models.CredentialQuota) gin.H {
	return gin.H{
		"model_name":      row.ModelName,
		"quota":           row.Quota,
		"status":          row.Status,
		"reset_time":      row.ResetAt,
		"last_fetched_at": row.LastFetchedAt,
		"updated_at":      row.UpdatedAt,
	}
}
