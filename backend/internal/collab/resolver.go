package collab

import (
	"context"
	"time"
)

// Resolver 负责把基于旧版本构造的编辑对齐到当前文档状态：
// 扫描参考时间点之后已应用的编辑，逐条平移 position。
type Resolver struct {
	docs  DocumentStore
	edits EditStore
}

func NewResolver(docs DocumentStore, edits EditStore) *Resolver {
	return &Resolver{docs: docs, edits: edits}
}

// Resolve 返回调整后的 position，其余字段不变。
// - clientVersion 缺省（0）或不落后于当前版本：原样返回
// - 文档不存在：视为空调整，原样返回（不报错，避免打断广播链路）
// - 存储读取失败：向上返回，由调用方丢弃该编辑
func (r *Resolver) Resolve(ctx context.Context, docID string, clientVersion uint64, refTime time.Time, position int) (int, error) {
	current, err := r.docs.GetVersion(ctx, docID)
	if err != nil {
		return position, err
	}
	if current == 0 {
		// 文档可能随房间一起被拆掉了
		return position, nil
	}
	if clientVersion == 0 || clientVersion >= current {
		return position, nil
	}

	applied, err := r.edits.ListAppliedEdits(ctx, docID)
	if err != nil {
		return position, err
	}

	// 用逐步更新的工作位置做比较（而不是原始位置）
	for _, p := range applied {
		if !p.Timestamp.After(refTime) {
			continue
		}
		switch p.Op {
		case OpInsert:
			if p.Position <= position {
				position += len([]rune(p.Content))
			}
		case OpDelete:
			if p.Position < position {
				// 固定按 1 个单位回退，不按实际删除长度。
				// 这是原算法的已知近似，保持一致，不在这里“修好”。
				position -= 1
			}
		case OpReplace:
			// replace 不做位置平移（同上，保持原行为）
		}
	}
	return position, nil
}
