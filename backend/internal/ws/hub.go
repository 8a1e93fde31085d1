package ws

import (
	"sync"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
)

// Hub 是进程内的发布/订阅层：按 docID 维护房间，外加 dashboard 的
// 全局流和每用户流。跨进程共享的在线状态在 presence（Redis）里。
type Hub struct {
	presence cache.PresenceCache

	mu sync.RWMutex
	// docID -> set of connections
	// 房间里存的是连接而不是 userID：一个用户可以开多个标签页，广播要逐连接发
	rooms map[string]map[*Conn]struct{}
	// dashboard 全局流 + 每用户个人流
	global     map[*Conn]struct{}
	dashboards map[uint64]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{
		presence:   p,
		rooms:      make(map[string]map[*Conn]struct{}),
		global:     make(map[*Conn]struct{}),
		dashboards: make(map[uint64]map[*Conn]struct{}),
	}
}

// Join 将连接加入指定文档房间；首个成员加入时建房
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 幂等：不在房间里也不报错；最后一个成员离开时拆房
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

func (h *Hub) JoinDashboard(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.global[c] = struct{}{}
	if h.dashboards[c.userID] == nil {
		h.dashboards[c.userID] = make(map[*Conn]struct{})
	}
	h.dashboards[c.userID][c] = struct{}{}
}

func (h *Hub) LeaveDashboard(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.global, c)
	if conns, ok := h.dashboards[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.dashboards, c.userID)
		}
	}
}

// BroadcastEdit 把已应用编辑推给房间内除作者以外的所有连接。
// 作者本地已经有结果，回发会导致重复应用。
func (h *Hub) BroadcastEdit(ev collab.AppliedEdit) {
	msg := EditBroadcast{
		Type:      "edit",
		User:      ev.Author,
		Operation: string(ev.Op),
		Position:  ev.Position,
		Content:   ev.Content,
		Timestamp: float64(ev.AppliedAt.UnixNano()) / 1e9,
		Version:   ev.Version,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[ev.DocID] {
		if c.userID == ev.AuthorID {
			continue
		}
		c.enqueue(msg)
	}
}

// BroadcastCursor 同样跳过作者（光标回显没有意义）
func (h *Hub) BroadcastCursor(docID string, authorID uint64, author string, position int) {
	msg := CursorBroadcast{Type: "cursor", User: author, Position: position}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		if c.userID == authorID {
			continue
		}
		c.enqueue(msg)
	}
}

// BroadcastLock 发给所有成员，包括发起方
func (h *Hub) BroadcastLock(docID string, author string, locked bool, section string) {
	msg := LockBroadcast{Type: "lock", User: author, Locked: locked, Section: section}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		c.enqueue(msg)
	}
}

// BroadcastPresence：user_joined / user_left 发给整个房间（含当事人）
func (h *Hub) BroadcastPresence(docID string, kind string, userID uint64, username string) {
	msg := PresenceBroadcast{Type: kind, User: username, UserID: userID}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		c.enqueue(msg)
	}
}

// NotifyCreated / NotifyShared 由外部 CRUD 层调用，推到 dashboard 全局流。
// 尽力送达，不保证跨流有序。
func (h *Hub) NotifyCreated(docID string, title string) {
	h.notifyGlobal(DashboardEvent{Type: "document_created", DocumentID: docID, Title: title})
}

func (h *Hub) NotifyShared(docID string, title string) {
	h.notifyGlobal(DashboardEvent{Type: "document_shared", DocumentID: docID, Title: title})
}

func (h *Hub) notifyGlobal(msg DashboardEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.global {
		c.enqueue(msg)
	}
}

// NotifyUserDashboard 定向推一个用户的个人流（per-user dashboard key）
func (h *Hub) NotifyUserDashboard(userID uint64, msg OutboundMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.dashboards[userID] {
		c.enqueue(msg)
	}
}
