package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
)

// ScheduleStateFacadeInterface persists the scheduler's per-schedule
// prev_active flags across restarts.
type ScheduleStateFacadeInterface interface {
	GetAll(ctx context.Context) (map[string]*model.ScheduleState, error)
	Set(ctx context.Context, scheduleID, dateLocal string, active bool) error
	WithDB(db *gorm.DB) ScheduleStateFacadeInterface
}

type ScheduleStateFacade struct {
	BaseFacade
}

func NewScheduleStateFacade() ScheduleStateFacadeInterface {
	return &ScheduleStateFacade{}
}

func (f *ScheduleStateFacade) WithDB(db *gorm.DB) ScheduleStateFacadeInterface {
	return &ScheduleStateFacade{BaseFacade: f.withDB(db)}
}

func (f *ScheduleStateFacade) GetAll(ctx context.Context) (map[string]*model.ScheduleState, error) {
	db := f.getDB().WithContext(ctx)
	var states []*model.ScheduleState
	if err := db.Find(&states).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*model.ScheduleState, len(states))
	for _, st := range states {
		out[st.ScheduleID] = st
	}
	return out, nil
}

func (f *ScheduleStateFacade) Set(ctx context.Context, scheduleID, dateLocal string, active bool) error {
	db := f.getDB().WithContext(ctx)
	state := &model.ScheduleState{
		ScheduleID: scheduleID,
		DateLocal:  dateLocal,
		Active:     active,
		UpdatedAt:  time.Now().UTC(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "schedule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"date_local", "active", "updated_at"}),
	}).Create(state).Error
}
