package handlers

import (
	"net/http"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
)

// PreferenceHandler reads and updates the caller's selection preference.
type PreferenceHandler struct {
	store *store.Store
}

// NewPreferenceHandler constructs a PreferenceHandler.
func NewPreferenceHandler(st *store.Store) *PreferenceHandler {
	return &PreferenceHandler{store: st}
}

type updatePreferenceRequest struct {
	PreferShared     *int  `json:"prefer_shared"`
	UseOnlyDedicated *bool `json:"use_only_dedicated"`
}

// Get returns the caller's preference.
func (h *PreferenceHandler) Get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	user, errFind := h.store.GetUser(c.Request.Context(), userID)
	if errFind != nil {
		writeStoreError(c, errFind, "load preference failed")
		return
	}
	c.JSON(http.StatusOK, serializePreference(&user))
}

// Update changes the caller's preference. Omitted fields are left alone.
func (h *PreferenceHandler) Update(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req updatePreferenceRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	user, errUpdate := h.store.UpdatePreference(c.Request.Context(), userID, store.PreferenceUpdate{
		PreferShared:     req.PreferShared,
		UseOnlyDedicated: req.UseOnlyDedicated,
	})
	if errUpdate != nil {
		writeStoreError(c, errUpdate, "update preference failed")
		return
	}
	c.JSON(http.StatusOK, serializePreference(&user))
}

func serializePreference(user *models.User) gin.H {
	return gin.H{
		"prefer_shared":      user.PreferShared,
		"use_only_dedicated": user.UseOnlyDedicated,
	}
}
