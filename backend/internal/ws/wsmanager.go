package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/logger"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h      *Hub
	svc    collab.Service
	access collab.AccessChecker
	sem    *collab.SemaphoreControl
}

func NewManager(h *Hub, svc collab.Service, access collab.AccessChecker, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, svc: svc, access: access, sem: sem}
}

// DocumentConnect 处理 /ws/document/:documentID。
// 入房前先做访问检查（owner 或 collaborator），不通过直接拒绝。
func (m *Manager) DocumentConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	docID := c.Param("documentID")
	if docID == "" {
		c.String(http.StatusBadRequest, "missing documentID")
		return
	}

	ok, err := m.access.HasAccess(c.Request.Context(), docID, userID)
	if err != nil {
		logger.Errorf("access check failed doc=%s user=%d: %v", docID, userID, err)
		c.String(http.StatusBadGateway, "access check failed")
		return
	}
	if !ok {
		c.String(http.StatusForbidden, collab.ErrAccessDenied.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	wsConn := NewConn(conn, m.h, docID, userID, username, m.svc, m.sem)

	// 先起写循环，保证后续入队的消息能被发出去
	go wsConn.writeLoop()

	m.h.Join(docID, wsConn)
	if err := m.h.presence.AddMember(ctx, docID, userID, username, presenceTTL); err != nil {
		logger.Warnf("presence add member failed: %v", err)
	}
	// user_joined 发给整个房间（包括刚加入的自己）
	m.h.BroadcastPresence(docID, "user_joined", userID, username)
	// 再把当前在线名单（带最近光标）发给新成员，方便前端直接渲染
	if members, err := m.h.presence.GetAliveMembersWithNames(ctx, docID); err != nil {
		logger.Warnf("load presence roster failed doc=%s: %v", docID, err)
	} else if len(members) > 0 {
		roster := PresenceRoster{Type: "presence", Members: make([]RosterEntry, 0, len(members))}
		for _, mem := range members {
			entry := RosterEntry{UserID: mem.UserID, Username: mem.Username}
			if b, err := m.h.presence.GetCursor(ctx, docID, mem.UserID); err == nil && len(b) > 0 {
				entry.Cursor = b
			}
			roster.Members = append(roster.Members, entry)
		}
		wsConn.enqueue(roster)
	}

	// 读循环阻塞到连接关闭
	wsConn.readLoop(ctx)

	// 拆除顺序：先广播（此时还在房间里，剩下的成员都能收到 user_left），
	// 再从房间摘除，最后才关闭发送队列。扇出全程持有 hub 读锁，
	// Leave 拿到写锁返回之后就不会再有人往这条连接入队了。
	m.h.BroadcastPresence(docID, "user_left", userID, username)
	m.h.Leave(docID, wsConn)
	close(wsConn.send)
	// 清理用独立 ctx：请求的 ctx 在断开时已经取消了
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.h.presence.RemoveMember(cleanupCtx, docID, userID); err != nil {
		logger.Warnf("presence remove member failed: %v", err)
	}
}

// DashboardConnect 处理 /ws/documents：加入全局流 + 个人流，
// 只接收 document_created / document_shared 推送，入站消息全部忽略。
func (m *Manager) DashboardConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, "", userID, username, m.svc, m.sem)
	go wsConn.writeLoop()

	m.h.JoinDashboard(wsConn)

	// 只探测连接关闭
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	// 先退订、再关队列：并发的 dashboard 推送不能撞上已关闭的通道
	m.h.LeaveDashboard(wsConn)
	close(wsConn.send)
}
