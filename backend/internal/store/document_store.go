package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Document 是文档主表。content 和 version 只能经 ApplyMutation 一起更新。
type Document struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:255"`
	OwnerID   uint64 `gorm:"index"`
	Content   string `gorm:"type:longtext"`
	Version   uint64 `gorm:"default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentCollaborator 是共享关系（owner 之外的可写成员）。
type DocumentCollaborator struct {
	DocumentID string `gorm:"primaryKey;size:64"`
	UserID     uint64 `gorm:"primaryKey"`
	CreatedAt  time.Time
}

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// GetVersion：文档不存在返回 0，不作为错误
func (s *DocumentStore) GetVersion(ctx context.Context, docID string) (uint64, error) {
	var doc Document
	err := s.db.WithContext(ctx).Select("version").Take(&doc, "id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func (s *DocumentStore) GetContent(ctx context.Context, docID string) (string, error) {
	var doc Document
	err := s.db.WithContext(ctx).Select("content").Take(&doc, "id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// ApplyMutation 单条 UPDATE 同时落 content 和 version。
// RowsAffected==0 说明文档已经没了，返回 false 让上层按 no-op 处理。
func (s *DocumentStore) ApplyMutation(ctx context.Context, docID string, newContent string, newVersion uint64) (bool, error) {
	tx := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", docID).
		Updates(map[string]any{
			"content": newContent,
			"version": newVersion,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// HasAccess：owner 或 collaborator 才有读写权限
func (s *DocumentStore) HasAccess(ctx context.Context, docID string, userID uint64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ? AND owner_id = ?", docID, userID).Count(&n).Error
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	err = s.db.WithContext(ctx).Model(&DocumentCollaborator{}).
		Where("document_id = ? AND user_id = ?", docID, userID).Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
