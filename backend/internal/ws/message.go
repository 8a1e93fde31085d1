package ws

import (
	"encoding/json"
	"errors"
	"time"

	"collabEngine/backend/internal/collab"
)

var errMalformedMessage = errors.New("malformed message")

// 入站只有一个 JSON 信封，"type" 决定变体。
// 解码成封闭的消息集合后再分发，缺字段/未知类型在这里就拦下。
type clientEnvelope struct {
	Type      string  `json:"type"`
	Operation string  `json:"operation,omitempty"`
	Position  int     `json:"position"`
	Content   string  `json:"content,omitempty"`
	Length    int     `json:"length,omitempty"`
	Version   uint64  `json:"version,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"` // 客户端参考时间点（Unix 秒）
	Locked    bool    `json:"locked,omitempty"`
	Section   string  `json:"section,omitempty"`
}

// 入站消息的封闭集合
type InboundMessage interface{ inbound() }

type EditMessage struct {
	Operation    collab.Operation
	Position     int
	Content      string
	Length       int
	Version      uint64
	RefTimestamp time.Time
}

type CursorMessage struct {
	Position int
}

type LockMessage struct {
	Locked  bool
	Section string
}

// 心跳：续期 presence TTL
type HeartbeatMessage struct{}

// 握手/追平：拉取当前内容和版本
type LoadMessage struct{}

func (EditMessage) inbound()      {}
func (CursorMessage) inbound()    {}
func (LockMessage) inbound()      {}
func (HeartbeatMessage) inbound() {}
func (LoadMessage) inbound()      {}

func decodeInbound(env clientEnvelope) (InboundMessage, error) {
	switch env.Type {
	case "edit":
		op := collab.Operation(env.Operation)
		if !op.Valid() || env.Position < 0 {
			return nil, errMalformedMessage
		}
		var ref time.Time
		if env.Timestamp > 0 {
			ref = time.Unix(0, int64(env.Timestamp*float64(time.Second)))
		}
		return EditMessage{
			Operation:    op,
			Position:     env.Position,
			Content:      env.Content,
			Length:       env.Length,
			Version:      env.Version,
			RefTimestamp: ref,
		}, nil
	case "cursor":
		if env.Position < 0 {
			return nil, errMalformedMessage
		}
		return CursorMessage{Position: env.Position}, nil
	case "lock":
		return LockMessage{Locked: env.Locked, Section: env.Section}, nil
	case "heartbeat":
		return HeartbeatMessage{}, nil
	case "load":
		return LoadMessage{}, nil
	}
	return nil, errMalformedMessage
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string { return m.Type }

func (m PresenceRoster) MessageType() string { return m.Type }

func (m EditBroadcast) MessageType() string { return m.Type }

func (m CursorBroadcast) MessageType() string { return m.Type }

func (m LockBroadcast) MessageType() string { return m.Type }

func (m PresenceBroadcast) MessageType() string { return m.Type }

func (m DashboardEvent) MessageType() string { return m.Type }

// 通用应答（error / feedback / loadDocumentContent 等）
type ServerMessage struct {
	Type     string `json:"type"`
	DocID    string `json:"docId,omitempty"`
	Revision uint64 `json:"revision,omitempty"`
	Content  string `json:"content,omitempty"`
}

// 已应用编辑的房间广播（不回发给作者本人）
type EditBroadcast struct {
	Type      string  `json:"type"` // 固定 "edit"
	User      string  `json:"user"`
	Operation string  `json:"operation"`
	Position  int     `json:"position"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
	Version   uint64  `json:"version"` // 服务端应用后的最新版本
}

type CursorBroadcast struct {
	Type     string `json:"type"` // 固定 "cursor"
	User     string `json:"user"`
	Position int    `json:"position"`
}

// 锁通知没有 origin exclusion：作者也要看到自己的锁生效
type LockBroadcast struct {
	Type    string `json:"type"` // 固定 "lock"
	User    string `json:"user"`
	Locked  bool   `json:"locked"`
	Section string `json:"section"`
}

// 入房时发给新成员的在线名单（含各成员最近的光标，若有）
type RosterEntry struct {
	UserID   uint64          `json:"user_id"`
	Username string          `json:"username"`
	Cursor   json.RawMessage `json:"cursor,omitempty"`
}

type PresenceRoster struct {
	Type    string        `json:"type"` // 固定 "presence"
	Members []RosterEntry `json:"members"`
}

type PresenceBroadcast struct {
	Type   string `json:"type"` // "user_joined" / "user_left"
	User   string `json:"user"`
	UserID uint64 `json:"user_id"`
}

// dashboard 流事件（document_created / document_shared）
type DashboardEvent struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}
