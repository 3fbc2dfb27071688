// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AMD-AGI/Skylapse/brain/pkg/database/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// In-memory sqlite is per-connection; a second connection would see an
	// empty database.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))
	return db
}

var testDate = time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)

func TestOpenSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	start := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	first, err := f.OpenSession(ctx, "a", "sunset", testDate, start)
	require.NoError(t, err)
	assert.Equal(t, "a_20260620_sunset", first.ID)
	assert.Equal(t, model.SessionStatusActive, first.Status)

	again, err := f.OpenSession(ctx, "a", "sunset", testDate, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.StartTime.Unix(), again.StartTime.Unix())

	sessions, err := f.ListSessions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestRecordCaptureUpdatesSessionCounters(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	session, err := f.OpenSession(ctx, "a", "sunset", testDate, testDate)
	require.NoError(t, err)

	settings := json.RawMessage(`{"iso":400}`)
	t1 := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Second)

	_, err = f.RecordCapture(ctx, session.ID, "n1", "img_0001.jpg", t1, settings, nil)
	require.NoError(t, err)
	_, err = f.RecordCapture(ctx, session.ID, "n1", "img_0002.jpg", t2, settings, nil)
	require.NoError(t, err)

	loaded, err := f.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CaptureCount)
	require.NotNil(t, loaded.FirstCaptureTime)
	require.NotNil(t, loaded.LastCaptureTime)
	assert.Equal(t, t1.Unix(), loaded.FirstCaptureTime.Unix())
	assert.Equal(t, t2.Unix(), loaded.LastCaptureTime.Unix())
}

func TestRecordCaptureUnknownSession(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	_, err := f.RecordCapture(ctx, "ghost", "n1", "x.jpg", testDate, nil, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionCapturesOrdering(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	session, err := f.OpenSession(ctx, "a", "sunset", testDate, testDate)
	require.NoError(t, err)

	// Same timestamp: insertion order must win via the autoincrement id.
	ts := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	for _, name := range []string{"b.jpg", "a.jpg", "c.jpg"} {
		_, err := f.RecordCapture(ctx, session.ID, "n1", name, ts, nil, nil)
		require.NoError(t, err)
	}
	_, err = f.RecordCapture(ctx, session.ID, "n1", "later.jpg", ts.Add(time.Minute), nil, nil)
	require.NoError(t, err)

	captures, err := f.ListSessionCaptures(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, captures, 4)
	assert.Equal(t, "b.jpg", captures[0].Filename)
	assert.Equal(t, "a.jpg", captures[1].Filename)
	assert.Equal(t, "c.jpg", captures[2].Filename)
	assert.Equal(t, "later.jpg", captures[3].Filename)
}

func TestCloseSession(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	session, err := f.OpenSession(ctx, "a", "sunset", testDate, testDate)
	require.NoError(t, err)

	end := testDate.Add(2 * time.Hour)
	require.NoError(t, f.CloseSession(ctx, session.ID, end, model.SessionStatusClosed))

	loaded, err := f.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusClosed, loaded.Status)
	require.NotNil(t, loaded.EndTime)

	t.Run("second close is a no-op", func(t *testing.T) {
		require.NoError(t, f.CloseSession(ctx, session.ID, end.Add(time.Hour), model.SessionStatusFailed))
		loaded, err := f.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusClosed, loaded.Status)
		assert.Equal(t, end.Unix(), loaded.EndTime.Unix())
	})

	t.Run("closing a missing session is a no-op", func(t *testing.T) {
		require.NoError(t, f.CloseSession(ctx, "ghost", end, model.SessionStatusClosed))
	})
}

func TestListSessionsFilters(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	_, err := f.OpenSession(ctx, "a", "sunset", testDate, testDate)
	require.NoError(t, err)
	_, err = f.OpenSession(ctx, "b", "sunset", testDate, testDate)
	require.NoError(t, err)
	s3, err := f.OpenSession(ctx, "a", "daytime", testDate, testDate)
	require.NoError(t, err)
	require.NoError(t, f.CloseSession(ctx, s3.ID, testDate.Add(time.Hour), model.SessionStatusClosed))

	status := model.SessionStatusActive
	sessions, err := f.ListSessions(ctx, &SessionFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	profile := "a"
	sessions, err = f.ListSessions(ctx, &SessionFilter{ProfileID: &profile})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	activeOnly, err := f.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, activeOnly, 2)
}

func TestHDRCaptureLinks(t *testing.T) {
	ctx := context.Background()
	f := NewSessionFacade().WithDB(newTestDB(t))

	session, err := f.OpenSession(ctx, "a", "sunset", testDate, testDate)
	require.NoError(t, err)

	group := "g-1"
	for _, name := range []string{"dark.jpg", "mid.jpg", "bright.jpg"} {
		_, err := f.RecordCapture(ctx, session.ID, "n1", name, testDate, nil, &BracketInfo{GroupID: group})
		require.NoError(t, err)
	}
	merged, err := f.RecordCapture(ctx, session.ID, "n1", "hdr_g-1.jpg", testDate, nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.SetCaptureHDRResult(ctx, group, merged.ID))

	captures, err := f.ListSessionCaptures(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, captures, 4)
	for _, c := range captures {
		if c.IsBracketMember {
			require.NotNil(t, c.HDRResultCaptureID)
			assert.Equal(t, merged.ID, *c.HDRResultCaptureID)
		} else {
			assert.Nil(t, c.HDRResultCaptureID)
		}
	}
}

func TestVideoFacadeIdempotencyLookup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	videos := NewVideoFacade().WithDB(db)

	video := &model.GeneratedVideo{
		SessionID:     "a_20260620_sunset",
		OutputPath:    "/videos/a_20260620_sunset_medium.mp4",
		FrameCount:    120,
		QualityPreset: "medium",
		InputHash:     "abc123",
		Status:        model.VideoStatusDone,
	}
	require.NoError(t, videos.RecordVideo(ctx, video))

	found, err := videos.FindBySessionAndHash(ctx, "a_20260620_sunset", "abc123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, video.OutputPath, found.OutputPath)

	t.Run("different hash misses", func(t *testing.T) {
		found, err := videos.FindBySessionAndHash(ctx, "a_20260620_sunset", "other")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("failed videos never satisfy idempotency", func(t *testing.T) {
		failed := &model.GeneratedVideo{
			SessionID: "s2", InputHash: "h2", Status: model.VideoStatusFailed,
		}
		require.NoError(t, videos.RecordVideo(ctx, failed))
		found, err := videos.FindBySessionAndHash(ctx, "s2", "h2")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestScheduleStateUpsert(t *testing.T) {
	ctx := context.Background()
	states := NewScheduleStateFacade().WithDB(newTestDB(t))

	require.NoError(t, states.Set(ctx, "sunset", "2026-06-20", true))
	require.NoError(t, states.Set(ctx, "sunset", "2026-06-20", false))
	require.NoError(t, states.Set(ctx, "daytime", "2026-06-20", true))

	all, err := states.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all["sunset"].Active)
	assert.True(t, all["daytime"].Active)
}
