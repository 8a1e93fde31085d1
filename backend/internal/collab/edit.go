package collab

import (
	"context"
	"errors"
	"time"
)

// 编辑操作类型（固定集合，handler 里做穷举匹配）
type Operation string

const (
	OpInsert  Operation = "insert"
	OpDelete  Operation = "delete"
	OpReplace Operation = "replace"
)

func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpDelete, OpReplace:
		return true
	}
	return false
}

var (
	ErrAccessDenied     = errors.New("ACCESS_DENIED")
	ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")
	ErrInvalidOperation = errors.New("INVALID_OPERATION")
)

// EditRecord 是编辑日志的一行（append-only，冲突消解的事实来源）。
// Timestamp 取服务端收到请求的时刻，ListAppliedEdits 按它升序返回。
type EditRecord struct {
	ID            uint64
	DocID         string
	AuthorID      uint64
	Op            Operation
	Position      int
	Content       string // delete 时为空
	Length        int    // delete/replace 作用的字符数，缺省 1
	ClientVersion uint64 // 客户端提交时以为的文档版本
	Timestamp     time.Time
	Applied       bool
}

// EditRequest 是客户端提交的一次编辑（已通过 ws 层解码校验）。
type EditRequest struct {
	Op            Operation
	Position      int
	Content       string
	Length        int
	ClientVersion uint64
	// 客户端的参考时间点；零值表示缺省，消解时会对齐所有已应用编辑
	RefTimestamp time.Time
}

// AppliedEdit 是应用成功后用于广播的事件。
type AppliedEdit struct {
	DocID     string
	AuthorID  uint64
	Author    string
	Op        Operation
	Position  int // 消解后的位置
	Content   string
	Length    int
	Version   uint64 // 应用后的最新版本
	AppliedAt time.Time
}

// DocumentStore 由外部存储协作方实现（见 store 包）。
type DocumentStore interface {
	// 文档不存在时返回 0，不报错
	GetVersion(ctx context.Context, docID string) (uint64, error)
	GetContent(ctx context.Context, docID string) (string, error)
	// 单次写入同时落 content 和 version；文档不存在返回 false
	ApplyMutation(ctx context.Context, docID string, newContent string, newVersion uint64) (bool, error)
}

// EditStore 是编辑日志的窄接口。
// 记录先以 applied=false 落库，编辑真正折进内容后再 MarkApplied：
// 这样消解时扫到的只会是“确实已生效”的编辑，不包含自己。
type EditStore interface {
	AppendEdit(ctx context.Context, rec EditRecord) (uint64, error)
	MarkApplied(ctx context.Context, editID uint64) error
	// applied=true 的记录，按服务端接收时间升序
	ListAppliedEdits(ctx context.Context, docID string) ([]EditRecord, error)
}

// AccessChecker 用于入房鉴权：owner 或 collaborator 才放行。
type AccessChecker interface {
	HasAccess(ctx context.Context, docID string, userID uint64) (bool, error)
}
