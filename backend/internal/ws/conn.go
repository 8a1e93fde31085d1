package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/logger"
)

const (
	presenceTTL = 600 * time.Second
	editTimeout = 2 * time.Second
)

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	docID    string
	userID   uint64
	username string
	// goroutine 间的出站队列；writeLoop 消费
	send chan OutboundMessage
	svc  collab.Service
	sem  *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, docID string, userID uint64, username string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		docID:    docID,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
		svc:      svc,
		sem:      sem,
	}
}

// enqueue 非阻塞入队；消费不过来就丢（best-effort 扇出，不做持久队列）
func (c *Conn) enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

// readLoop 不负责关闭 send：连接此刻还挂在 hub 里，hub 的扇出随时可能
// 入队。摘除和关队列的顺序由 Manager 统一控制。
func (c *Conn) readLoop(ctx context.Context) {
	for {
		var env clientEnvelope
		if err := c.ws.ReadJSON(&env); err != nil {
			// 连接断开（或半包），退出读循环；在途编辑继续跑完
			return
		}

		msg, err := decodeInbound(env)
		if err != nil {
			// 畸形消息：丢弃并记录，连接保持打开
			logger.Warnf("drop malformed message (user=%d, doc=%s, type=%q)", c.userID, c.docID, env.Type)
			continue
		}

		switch m := msg.(type) {
		case EditMessage:
			c.handleEdit(ctx, m)
		case CursorMessage:
			c.handleCursor(ctx, m)
		case LockMessage:
			c.hub.BroadcastLock(c.docID, c.username, m.Locked, m.Section)
		case HeartbeatMessage:
			c.handleHeartbeat(ctx)
		case LoadMessage:
			c.handleLoad(ctx)
		}
	}
}

func (c *Conn) handleEdit(ctx context.Context, m EditMessage) {
	editCtx, cancel := context.WithTimeout(ctx, editTimeout)
	defer cancel()

	if err := c.sem.Acquire(editCtx); err != nil {
		c.enqueue(ServerMessage{Type: "error", Content: err.Error()})
		return
	}
	defer c.sem.Release()

	applied, err := c.svc.Submit(editCtx, c.docID, c.userID, c.username, collab.EditRequest{
		Op:            m.Operation,
		Position:      m.Position,
		Content:       m.Content,
		Length:        m.Length,
		ClientVersion: m.Version,
		RefTimestamp:  m.RefTimestamp,
	})
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			// 文档和房间可能并发拆除了：可恢复，不广播，不打断管道
			logger.Infof("edit on missing document doc=%s user=%d", c.docID, c.userID)
			return
		}
		// 单个编辑的失败只影响它自己：丢弃 + 告知提交方
		logger.Errorf("edit dropped doc=%s user=%d: %v", c.docID, c.userID, err)
		c.enqueue(ServerMessage{Type: "error", Content: err.Error()})
		return
	}

	c.hub.BroadcastEdit(applied)
}

func (c *Conn) handleCursor(ctx context.Context, m CursorMessage) {
	// 光标顺手落 presence cache（best-effort），再广播给其他人
	if b, err := json.Marshal(map[string]int{"position": m.Position}); err == nil {
		if err := c.hub.presence.SetCursor(ctx, c.docID, c.userID, b, presenceTTL); err != nil {
			logger.Warnf("set cursor cache failed: %v", err)
		}
	}
	c.hub.BroadcastCursor(c.docID, c.userID, c.username, m.Position)
}

func (c *Conn) handleHeartbeat(ctx context.Context) {
	if err := c.hub.presence.AddMember(ctx, c.docID, c.userID, c.username, presenceTTL); err != nil {
		logger.Warnf("refresh presence failed: %v", err)
	}
	c.enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})
}

func (c *Conn) handleLoad(ctx context.Context) {
	content, version, err := c.svc.LoadDocumentContent(ctx, c.docID)
	if err != nil {
		logger.Warnf("load document content failed doc=%s: %v", c.docID, err)
		c.enqueue(ServerMessage{Type: "error", Content: "LOAD_FAILED"})
		return
	}
	c.enqueue(ServerMessage{Type: "loadDocumentContent", DocID: c.docID, Content: content, Revision: version})
}

func (c *Conn) writeLoop() {
	// 持续消费出站队列直到 readLoop 关闭它
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
