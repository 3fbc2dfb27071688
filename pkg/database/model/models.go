// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
	SessionStatusFailed = "failed"

	VideoStatusQueued  = "queued"
	VideoStatusRunning = "running"
	VideoStatusDone    = "done"
	VideoStatusFailed  = "failed"
)

// SessionID synthesizes the stable session key {profile}_{YYYYMMDD}_{schedule}.
func SessionID(profileID, scheduleID string, dateLocal time.Time) string {
	return fmt.Sprintf("%s_%s_%s", profileID, dateLocal.Format("20060102"), scheduleID)
}

// Session is the record of one (profile, schedule, local date) capture window.
// The scheduler is the sole writer.
type Session struct {
	ID         string `json:"id" gorm:"primaryKey;size:128"`
	ProfileID  string `json:"profile_id" gorm:"size:16;index"`
	ScheduleID string `json:"schedule_id" gorm:"size:64;index"`
	DateLocal  string `json:"date_local" gorm:"size:10;index"`

	Status    string     `json:"status" gorm:"size:16;index"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	CaptureCount     int        `json:"capture_count" gorm:"default:0"`
	FirstCaptureTime *time.Time `json:"first_capture_time,omitempty"`
	LastCaptureTime  *time.Time `json:"last_capture_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// Capture is one image record. IDs are monotonically increasing, so
// (timestamp, id) totally orders captures within a session.
type Capture struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string    `json:"session_id" gorm:"size:128;index"`
	NodeID    string    `json:"node_id" gorm:"size:64"`
	Filename  string    `json:"filename" gorm:"size:256"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`

	SettingsApplied json.RawMessage `json:"settings_applied" gorm:"type:text"`

	IsBracketMember    bool   `json:"is_bracket_member" gorm:"default:false"`
	HDRGroupID         string `json:"hdr_group_id,omitempty" gorm:"size:64;index"`
	HDRResultCaptureID *int64 `json:"hdr_result_capture_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Capture) TableName() string {
	return "captures"
}

// GeneratedVideo is the assembly artifact record. The worker is the sole
// writer.
type GeneratedVideo struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string `json:"session_id" gorm:"size:128;index"`

	OutputPath    string `json:"output_path" gorm:"size:512"`
	ThumbnailPath string `json:"thumbnail_path" gorm:"size:512"`
	FrameCount    int    `json:"frame_count"`
	DurationMS    int64  `json:"duration_ms"`
	SizeBytes     int64  `json:"size_bytes"`
	QualityPreset string `json:"quality_preset" gorm:"size:16"`

	// InputHash is the content hash of the ordered input file list; the
	// worker uses it to detect an already-produced artifact.
	InputHash string `json:"input_hash" gorm:"size:64;index"`

	Status string `json:"status" gorm:"size:16;index"`
	Error  string `json:"error,omitempty" gorm:"size:1024"`

	CreatedAt time.Time `json:"created_at"`
}

func (GeneratedVideo) TableName() string {
	return "generated_videos"
}

// ScheduleState persists the scheduler's prev_active flag per schedule so
// window transitions survive restarts.
type ScheduleState struct {
	ScheduleID string    `json:"schedule_id" gorm:"primaryKey;size:64"`
	DateLocal  string    `json:"date_local" gorm:"size:10"`
	Active     bool      `json:"active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ScheduleState) TableName() string {
	return "schedule_states"
}
