package collab

import (
	"time"
)

// DocEditEvent 是推给 Kafka 的“已应用编辑”审计事件，按 docId 分区。
type DocEditEvent struct {
	EventType     string    `json:"eventType"` // 固定 "EDIT_APPLIED"
	DocID         string    `json:"docId"`
	EditID        uint64    `json:"editId"`
	Version       uint64    `json:"version"`
	AuthorID      uint64    `json:"authorId"`
	Operation     string    `json:"operation"`
	Position      int       `json:"position"`
	Content       string    `json:"content,omitempty"`
	Length        int       `json:"length,omitempty"`
	ClientVersion uint64    `json:"clientVersion,omitempty"`
	AppliedAt     time.Time `json:"appliedAt"`
}
