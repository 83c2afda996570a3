package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/logging"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/store"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ChatHandler serves the OpenAI-compatible chat surface.
type ChatHandler struct {
	engine *quota.Engine
	store  *store.Store
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(engine *quota.Engine, st *store.Store) *ChatHandler {
	return &ChatHandler{engine: engine, store: st}
}

// Completions routes one chat completion through select then execute.
func (h *ChatHandler) Completions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req quota.ChatRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	req.Model = strings.TrimSpace(req.Model)
	if req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}
	req.RequestID = logging.GetRequestID(c)

	session, errChat := h.engine.Chat(c.Request.Context(), userID, req)
	if errChat != nil {
		writeRoutingError(c, req.Model, errChat)
		return
	}

	if !req.Stream {
		resp, errCollect := quota.Collect(session)
		if errCollect != nil {
			log.WithError(errCollect).WithField("request_id", req.RequestID).Warn("chat: provider stream failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "provider_call_failed", "model": req.Model})
			return
		}
		if resp.ID == "" {
			resp.ID = "chatcmpl-" + req.RequestID
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	h.relay(c, session, req)
}

// relay writes the session as server-sent events. The session settles when it is closed,
// including when the client goes away mid-stream.
func (h *ChatHandler) relay(c *gin.Context, session *quota.Session, req quota.ChatRequest) {
	defer func() { _ = session.Close() }()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	created := time.Now().Unix()
	for {
		chunk, errNext := session.Next()
		if errors.Is(errNext, io.EOF) {
			break
		}
		if errNext != nil {
			if c.Request.Context().Err() == nil {
				log.WithError(errNext).WithField("request_id", req.RequestID).Warn("chat: stream interrupted")
				writeEvent(c, gin.H{"error": gin.H{"message": "upstream stream interrupted", "type": "provider_call_failed"}})
			}
			return
		}
		if chunk.Object == "" {
			chunk.Object = "chat.completion.chunk"
		}
		payload, errMarshal := json.Marshal(struct {
			quota.Chunk
			Created int64 `json:"created"`
		}{Chunk: chunk, Created: created})
		if errMarshal != nil {
			log.WithError(errMarshal).Error("chat: encode chunk")
			return
		}
		if !writeRaw(c, payload) {
			return
		}
	}
	writeRaw(c, []byte("[DONE]"))
}

func writeEvent(c *gin.Context, v any) {
	payload, errMarshal := json.Marshal(v)
	if errMarshal != nil {
		return
	}
	writeRaw(c, payload)
}

func writeRaw(c *gin.Context, data []byte) bool {
	if _, errWrite := c.Writer.Write([]byte("data: ")); errWrite != nil {
		return false
	}
	if _, errWrite := c.Writer.Write(data); errWrite != nil {
		return false
	}
	if _, errWrite := c.Writer.Write([]byte("\n\n")); errWrite != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// Models lists the models the caller can currently route to.
func (h *ChatHandler) Models(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	names, errList := h.store.ListModels(c.Request.Context(), userID, true)
	if errList != nil {
		writeStoreError(c, errList, "list models failed")
		return
	}
	available, errAvailable := h.engine.Selector().Available(c.Request.Context(), userID, names)
	if errAvailable != nil {
		writeStoreError(c, errAvailable, "list models failed")
		return
	}
	data := make([]gin.H, 0, len(available))
	for _, name := range available {
		data = append(data, gin.H{"id": name, "object": "model", "owned_by": "antihub"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
