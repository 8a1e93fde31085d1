package collab

import (
	"context"
	"sync"
	"time"

	"collabEngine/backend/internal/logger"
)

// 协作引擎接口
type Service interface {
	// Submit 走完整的编辑管道：记日志 → 冲突消解 → 应用 → 返回广播事件。
	// 同一文档内严格串行；不同文档完全并行。
	Submit(ctx context.Context, docID string, authorID uint64, author string, req EditRequest) (AppliedEdit, error)

	CurrentVersion(ctx context.Context, docID string) (uint64, error)

	// 握手/追平用：返回当前内容和版本
	LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error)
}

// 每个文档一把锁，就是一个串行化域。跨文档不共享任何锁。
type roomState struct {
	mu sync.Mutex
}

// Engine 是存储后端版的协作引擎：版本与内容都在 DocumentStore 里，
// 引擎只持有各文档的串行化状态。
type Engine struct {
	mu    sync.RWMutex
	rooms map[string]*roomState

	docs     DocumentStore
	edits    EditStore
	resolver *Resolver
	mutator  *Mutator

	// 可选：已应用编辑的审计事件流
	dispatcher *KafkaDispatcher
}

func NewEngine(docs DocumentStore, edits EditStore, dispatcher *KafkaDispatcher) *Engine {
	return &Engine{
		rooms:      make(map[string]*roomState),
		docs:       docs,
		edits:      edits,
		resolver:   NewResolver(docs, edits),
		mutator:    NewMutator(docs),
		dispatcher: dispatcher,
	}
}

// 获取或创建指定文档的串行化状态（double-checked）
func (e *Engine) getOrCreateRoom(docID string) *roomState {
	e.mu.RLock()
	rs := e.rooms[docID]
	e.mu.RUnlock()
	if rs != nil {
		return rs
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs = e.rooms[docID]; rs == nil {
		rs = &roomState{}
		e.rooms[docID] = rs
	}
	return rs
}

// Submit 实现编辑管道。持有房间锁期间完成 append/resolve/mutate，
// 保证第二个编辑的消解一定能看到第一个编辑的版本推进。
func (e *Engine) Submit(ctx context.Context, docID string, authorID uint64, author string, req EditRequest) (AppliedEdit, error) {
	if !req.Op.Valid() {
		return AppliedEdit{}, ErrInvalidOperation
	}
	length := req.Length
	if length <= 0 {
		length = 1
	}

	rs := e.getOrCreateRoom(docID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := time.Now()
	rec := EditRecord{
		DocID:         docID,
		AuthorID:      authorID,
		Op:            req.Op,
		Position:      req.Position,
		Content:       req.Content,
		Length:        length,
		ClientVersion: req.ClientVersion,
		Timestamp:     now,
	}
	editID, err := e.edits.AppendEdit(ctx, rec)
	if err != nil {
		// 存储抖动：丢弃该编辑，不影响房间后续编辑
		return AppliedEdit{}, err
	}

	position := req.Position
	current, err := e.docs.GetVersion(ctx, docID)
	if err != nil {
		return AppliedEdit{}, err
	}
	if req.ClientVersion > 0 && req.ClientVersion < current {
		position, err = e.resolver.Resolve(ctx, docID, req.ClientVersion, req.RefTimestamp, req.Position)
		if err != nil {
			return AppliedEdit{}, err
		}
	}

	newVersion, err := e.mutator.Apply(ctx, docID, req.Op, position, req.Content, length)
	if err != nil {
		return AppliedEdit{}, err
	}

	// 版本推进成功后才把日志标成 applied，保证 applied=true 的记录都真实生效过。
	// 内容已经落库，日志必须跟上，否则后续消解会漏算这条编辑；
	// 原 ctx 可能已临期，重试用独立的短超时
	if err := e.edits.MarkApplied(ctx, editID); err != nil {
		retryCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = e.edits.MarkApplied(retryCtx, editID)
		cancel()
		if err != nil {
			logger.Errorf("mark applied failed doc=%s edit=%d: %v", docID, editID, err)
		}
	}

	applied := AppliedEdit{
		DocID:     docID,
		AuthorID:  authorID,
		Author:    author,
		Op:        req.Op,
		Position:  position,
		Content:   req.Content,
		Length:    length,
		Version:   newVersion,
		AppliedAt: now,
	}

	if e.dispatcher != nil {
		evt := DocEditEvent{
			EventType:     "EDIT_APPLIED",
			DocID:         docID,
			EditID:        editID,
			Version:       newVersion,
			AuthorID:      authorID,
			Operation:     string(req.Op),
			Position:      position,
			Content:       req.Content,
			Length:        length,
			ClientVersion: req.ClientVersion,
			AppliedAt:     now,
		}
		// 入队即可，发送失败由 dispatcher 自己重试/降级
		if err := e.dispatcher.Enqueue(ctx, evt); err != nil {
			logger.Warnf("audit event dropped doc=%s edit=%d: %v", docID, editID, err)
		}
	}

	return applied, nil
}

func (e *Engine) CurrentVersion(ctx context.Context, docID string) (uint64, error) {
	return e.docs.GetVersion(ctx, docID)
}

func (e *Engine) LoadDocumentContent(ctx context.Context, docID string) (string, uint64, error) {
	version, err := e.docs.GetVersion(ctx, docID)
	if err != nil {
		return "", 0, err
	}
	if version == 0 {
		return "", 0, ErrDocumentNotFound
	}
	content, err := e.docs.GetContent(ctx, docID)
	if err != nil {
		return "", 0, err
	}
	return content, version, nil
}
