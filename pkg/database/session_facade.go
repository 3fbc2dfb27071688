package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
)

var ErrSessionNotFound = errors.New("session not found")

// BracketInfo marks a capture as a member of an HDR bracket group.
type BracketInfo struct {
	GroupID string
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Status     *string
	ScheduleID *string
	ProfileID  *string
	DateLocal  *string
	Limit      int
	Offset     int
}

// SessionFacadeInterface is the session store contract. Each mutating call is
// a single transaction.
type SessionFacadeInterface interface {
	// OpenSession is idempotent: an existing session with the same key is
	// returned unchanged.
	OpenSession(ctx context.Context, profileID, scheduleID string, dateLocal time.Time, startTime time.Time) (*model.Session, error)

	// RecordCapture inserts the capture row and updates the session's
	// capture_count, first_capture_time and last_capture_time in one
	// transaction.
	RecordCapture(ctx context.Context, sessionID, nodeID, filename string, timestamp time.Time, settingsApplied json.RawMessage, bracket *BracketInfo) (*model.Capture, error)

	// CloseSession refuses to close an already-closed session (no-op + warn).
	CloseSession(ctx context.Context, sessionID string, endTime time.Time, status string) error

	GetSession(ctx context.Context, sessionID string) (*model.Session, error)

	// ListSessionCaptures returns captures ordered by (timestamp, id).
	ListSessionCaptures(ctx context.Context, sessionID string) ([]*model.Capture, error)

	ListSessions(ctx context.Context, filter *SessionFilter) ([]*model.Session, error)

	// ListActiveSessions backs crash recovery and close-stale-sessions.
	ListActiveSessions(ctx context.Context) ([]*model.Session, error)

	// SetCaptureHDRResult links bracket members to the merged capture.
	SetCaptureHDRResult(ctx context.Context, hdrGroupID string, resultCaptureID int64) error

	WithDB(db *gorm.DB) SessionFacadeInterface
}

type SessionFacade struct {
	BaseFacade
}

func NewSessionFacade() SessionFacadeInterface {
	return &SessionFacade{}
}

func (f *SessionFacade) WithDB(db *gorm.DB) SessionFacadeInterface {
	return &SessionFacade{BaseFacade: f.withDB(db)}
}

func (f *SessionFacade) OpenSession(ctx context.Context, profileID, scheduleID string, dateLocal time.Time, startTime time.Time) (*model.Session, error) {
	db := f.getDB().WithContext(ctx)
	id := model.SessionID(profileID, scheduleID, dateLocal)

	var session model.Session
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&session).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		session = model.Session{
			ID:         id,
			ProfileID:  profileID,
			ScheduleID: scheduleID,
			DateLocal:  dateLocal.Format("2006-01-02"),
			Status:     model.SessionStatusActive,
			StartTime:  startTime.UTC(),
		}
		return tx.Create(&session).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (f *SessionFacade) RecordCapture(ctx context.Context, sessionID, nodeID, filename string, timestamp time.Time, settingsApplied json.RawMessage, bracket *BracketInfo) (*model.Capture, error) {
	db := f.getDB().WithContext(ctx)

	capture := &model.Capture{
		SessionID:       sessionID,
		NodeID:          nodeID,
		Filename:        filename,
		Timestamp:       timestamp.UTC(),
		SettingsApplied: settingsApplied,
	}
	if bracket != nil {
		capture.IsBracketMember = true
		capture.HDRGroupID = bracket.GroupID
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		var session model.Session
		if err := tx.Where("id = ?", sessionID).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}

		if err := tx.Create(capture).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"capture_count":     gorm.Expr("capture_count + 1"),
			"last_capture_time": capture.Timestamp,
		}
		if session.FirstCaptureTime == nil {
			updates["first_capture_time"] = capture.Timestamp
		}
		return tx.Model(&model.Session{}).Where("id = ?", sessionID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return capture, nil
}

func (f *SessionFacade) CloseSession(ctx context.Context, sessionID string, endTime time.Time, status string) error {
	db := f.getDB().WithContext(ctx)

	result := db.Model(&model.Session{}).
		Where("id = ? AND status = ?", sessionID, model.SessionStatusActive).
		Updates(map[string]interface{}{
			"status":   status,
			"end_time": endTime.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		log.Warnf("CloseSession: session %s is not active, ignoring", sessionID)
	}
	return nil
}

func (f *SessionFacade) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	db := f.getDB().WithContext(ctx)
	var session model.Session
	err := db.Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (f *SessionFacade) ListSessionCaptures(ctx context.Context, sessionID string) ([]*model.Capture, error) {
	db := f.getDB().WithContext(ctx)
	var captures []*model.Capture
	err := db.Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&captures).Error
	return captures, err
}

func (f *SessionFacade) ListSessions(ctx context.Context, filter *SessionFilter) ([]*model.Session, error) {
	db := f.getDB().WithContext(ctx)
	query := db.Model(&model.Session{})
	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.ScheduleID != nil {
			query = query.Where("schedule_id = ?", *filter.ScheduleID)
		}
		if filter.ProfileID != nil {
			query = query.Where("profile_id = ?", *filter.ProfileID)
		}
		if filter.DateLocal != nil {
			query = query.Where("date_local = ?", *filter.DateLocal)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}
	var sessions []*model.Session
	err := query.Order("start_time DESC").Find(&sessions).Error
	return sessions, err
}

func (f *SessionFacade) ListActiveSessions(ctx context.Context) ([]*model.Session, error) {
	db := f.getDB().WithContext(ctx)
	var sessions []*model.Session
	err := db.Where("status = ?", model.SessionStatusActive).
		Order("start_time ASC").
		Find(&sessions).Error
	return sessions, err
}

func (f *SessionFacade) SetCaptureHDRResult(ctx context.Context, hdrGroupID string, resultCaptureID int64) error {
	db := f.getDB().WithContext(ctx)
	return db.Model(&model.Capture{}).
		Where("hdr_group_id = ? AND is_bracket_member = ?", hdrGroupID, true).
		Update("hdr_result_capture_id", resultCaptureID).Error
}
