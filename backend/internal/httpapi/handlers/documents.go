package handlers

import (
	"github.com/gin-gonic/gin"

	"collabEngine/backend/internal/logger"
	"collabEngine/backend/internal/ws"
)

// DocumentEvents 是 dashboard 流的入口：文档的增删改查在别的服务里做，
// 那边完成落库后回调这里，事件才会出现在 /ws/documents 的订阅者面前。
type DocumentEvents struct {
	hub *ws.Hub
}

func NewDocumentEvents(hub *ws.Hub) *DocumentEvents {
	return &DocumentEvents{hub: hub}
}

type createdEvent struct {
	DocID string `json:"docId" binding:"required"`
	Title string `json:"title"`
}

type sharedEvent struct {
	DocID string `json:"docId" binding:"required"`
	Title string `json:"title"`
	// 被分享者；除了全局流，还会定向推一条到这个用户的个人流
	TargetUserID uint64 `json:"targetUserId"`
}

func (h *DocumentEvents) Created(c *gin.Context) {
	var ev createdEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(400, gin.H{"error": "invalid event payload"})
		return
	}
	h.hub.NotifyCreated(ev.DocID, ev.Title)
	logger.Infof("dashboard event: document_created doc=%s", ev.DocID)
	c.JSON(200, gin.H{"message": "ok"})
}

func (h *DocumentEvents) Shared(c *gin.Context) {
	var ev sharedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(400, gin.H{"error": "invalid event payload"})
		return
	}
	h.hub.NotifyShared(ev.DocID, ev.Title)
	if ev.TargetUserID != 0 {
		h.hub.NotifyUserDashboard(ev.TargetUserID, ws.DashboardEvent{
			Type:       "document_shared",
			DocumentID: ev.DocID,
			Title:      ev.Title,
		})
	}
	logger.Infof("dashboard event: document_shared doc=%s target=%d", ev.DocID, ev.TargetUserID)
	c.JSON(200, gin.H{"message": "ok"})
}
