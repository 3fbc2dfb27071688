package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
)

// VideoFacadeInterface is the worker's write surface for assembly artifacts.
type VideoFacadeInterface interface {
	RecordVideo(ctx context.Context, video *model.GeneratedVideo) error

	// FindBySessionAndHash backs worker idempotency: a done video with the
	// same input hash means the artifact already exists.
	FindBySessionAndHash(ctx context.Context, sessionID, inputHash string) (*model.GeneratedVideo, error)

	ListVideos(ctx context.Context, limit, offset int) ([]*model.GeneratedVideo, error)

	ListSessionVideos(ctx context.Context, sessionID string) ([]*model.GeneratedVideo, error)

	WithDB(db *gorm.DB) VideoFacadeInterface
}

type VideoFacade struct {
	BaseFacade
}

func NewVideoFacade() VideoFacadeInterface {
	return &VideoFacade{}
}

func (f *VideoFacade) WithDB(db *gorm.DB) VideoFacadeInterface {
	return &VideoFacade{BaseFacade: f.withDB(db)}
}

func (f *VideoFacade) RecordVideo(ctx context.Context, video *model.GeneratedVideo) error {
	db := f.getDB().WithContext(ctx)
	return db.Create(video).Error
}

func (f *VideoFacade) FindBySessionAndHash(ctx context.Context, sessionID, inputHash string) (*model.GeneratedVideo, error) {
	db := f.getDB().WithContext(ctx)
	var video model.GeneratedVideo
	err := db.Where("session_id = ? AND input_hash = ? AND status = ?",
		sessionID, inputHash, model.VideoStatusDone).
		First(&video).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &video, nil
}

func (f *VideoFacade) ListVideos(ctx context.Context, limit, offset int) ([]*model.GeneratedVideo, error) {
	db := f.getDB().WithContext(ctx)
	query := db.Model(&model.GeneratedVideo{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var videos []*model.GeneratedVideo
	err := query.Find(&videos).Error
	return videos, err
}

func (f *VideoFacade) ListSessionVideos(ctx context.Context, sessionID string) ([]*model.GeneratedVideo, error) {
	db := f.getDB().WithContext(ctx)
	var videos []*model.GeneratedVideo
	err := db.Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&videos).Error
	return videos, err
}
