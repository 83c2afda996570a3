package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	internalsettings "github.com/WonderhoyTeam/AntiHub-Backend/internal/settings"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxSettingBody = 4 << 10

// SettingsHandler reads and writes runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// List returns the current settings snapshot and the accepted keys.
func (h *SettingsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":   internalsettings.Snapshot(),
		"keys":       internalsettings.KnownKeys,
		"updated_at": internalsettings.DBConfigUpdatedAt(),
	})
}

// Update stores the raw JSON body as the value of one setting.
func (h *SettingsHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxSettingBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if errUpsert := internalsettings.Upsert(c.Request.Context(), h.db, key, json.RawMessage(body)); errUpsert != nil {
		if errors.Is(errUpsert, internalsettings.ErrInvalidSetting) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errUpsert.Error()})
			return
		}
		log.WithError(errUpsert).Error("admin: update setting failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update setting failed"})
		return
	}
	value, _ := internalsettings.DBConfigValue(key)
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}
