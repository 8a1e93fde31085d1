package collab

import (
	"context"
)

// Mutator 把消解后的编辑落到文档内容上，并把版本号 +1。
// content 和 version 由 ApplyMutation 一次写入。
type Mutator struct {
	docs DocumentStore
}

func NewMutator(docs DocumentStore) *Mutator {
	return &Mutator{docs: docs}
}

// Apply 返回应用后的最新版本。
// 文档不存在时静默跳过（返回 0 版本 + ErrDocumentNotFound，调用方按可恢复处理）：
// 房间可能和在途编辑并发拆除，这不算管道级错误。
func (m *Mutator) Apply(ctx context.Context, docID string, op Operation, position int, content string, length int) (uint64, error) {
	if length <= 0 {
		length = 1
	}

	current, err := m.docs.GetVersion(ctx, docID)
	if err != nil {
		return 0, err
	}
	if current == 0 {
		return 0, ErrDocumentNotFound
	}

	text, err := m.docs.GetContent(ctx, docID)
	if err != nil {
		return 0, err
	}

	next, err := splice(text, op, position, content, length)
	if err != nil {
		return 0, err
	}

	newVersion := current + 1
	ok, err := m.docs.ApplyMutation(ctx, docID, next, newVersion)
	if err != nil {
		return 0, err
	}
	if !ok {
		// 读到版本之后、写入之前文档被删了
		return current, ErrDocumentNotFound
	}
	return newVersion, nil
}

// splice 按操作类型拼接文本。位置按 rune 计，越界处截断（和原实现的切片语义一致）。
func splice(text string, op Operation, position int, content string, length int) (string, error) {
	runes := []rune(text)
	if position < 0 {
		position = 0
	}
	if position > len(runes) {
		position = len(runes)
	}

	switch op {
	case OpInsert:
		out := make([]rune, 0, len(runes)+len([]rune(content)))
		out = append(out, runes[:position]...)
		out = append(out, []rune(content)...)
		out = append(out, runes[position:]...)
		return string(out), nil
	case OpDelete:
		end := position + length
		if end > len(runes) {
			end = len(runes)
		}
		out := make([]rune, 0, len(runes))
		out = append(out, runes[:position]...)
		out = append(out, runes[end:]...)
		return string(out), nil
	case OpReplace:
		end := position + length
		if end > len(runes) {
			end = len(runes)
		}
		out := make([]rune, 0, len(runes)+len([]rune(content)))
		out = append(out, runes[:position]...)
		out = append(out, []rune(content)...)
		out = append(out, runes[end:]...)
		return string(out), nil
	}
	return "", ErrInvalidOperation
}
