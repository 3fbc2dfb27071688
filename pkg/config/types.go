// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

import (
	"fmt"
	"time"

	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
)

const (
	ScheduleTypeSolarRelative = "solar_relative"
	ScheduleTypeTimeOfDay     = "time_of_day"

	AnchorSunrise = "sunrise"
	AnchorSunset  = "sunset"

	NodeRolePrimary   = "primary"
	NodeRoleSecondary = "secondary"

	ShutterAuto = "auto"
)

// Document is the full JSON configuration document. Store.Snapshot hands out
// deep copies; durable mutation goes through Store.Save.
type Document struct {
	Brain     BrainConfig          `json:"brain"`
	Location  Location             `json:"location"`
	Schedules map[string]*Schedule `json:"schedules"`
	Profiles  map[string]*Profile  `json:"profiles"`
	Nodes     []*Node              `json:"nodes"`
	Scheduler SchedulerConfig      `json:"scheduler"`
	Queue     QueueConfig          `json:"queue"`
	Storage   StorageConfig        `json:"storage"`
	Assembly  AssemblyConfig       `json:"assembly"`
	Logging   log.Config           `json:"logging"`
}

// BrainConfig identifies this Brain instance. Identity is forwarded to nodes
// as the primary_backend token; nodes may reject mismatches, the Brain never
// validates it.
type BrainConfig struct {
	Identity string `json:"identity"`
	// ListenAddress is the read-only HTTP API bind address, default ":8080".
	ListenAddress string `json:"listen_address,omitempty"`
}

func (c BrainConfig) GetListenAddress() string {
	if c.ListenAddress == "" {
		return ":8080"
	}
	return c.ListenAddress
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

// Hash is a stable key for caches keyed by location.
func (l Location) Hash() string {
	return fmt.Sprintf("%.6f,%.6f,%s", l.Latitude, l.Longitude, l.Timezone)
}

// LoadTimezone resolves the IANA timezone name.
func (l Location) LoadTimezone() (*time.Location, error) {
	return time.LoadLocation(l.Timezone)
}

type Schedule struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"`

	// solar_relative fields
	Anchor          string `json:"anchor,omitempty"`
	OffsetMinutes   int    `json:"offset_minutes,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`

	// time_of_day fields, local "HH:MM"
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	IntervalSeconds int      `json:"interval_seconds"`
	Profiles        []string `json:"profiles"`

	Smoothing *SmoothingConfig `json:"smoothing,omitempty"`
}

func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// SmoothingConfig enables temporal exposure smoothing for a schedule.
type SmoothingConfig struct {
	Enabled bool `json:"enabled"`
	// Alpha is the EMA weight of the newest sample, (0, 1].
	Alpha float64 `json:"alpha"`
	// MaxStepEV caps the per-frame change in EV-equivalent stops.
	MaxStepEV float64 `json:"max_step_ev"`
	// HistoryFrames bounds the exposure history ring. Default 8.
	HistoryFrames int `json:"history_frames"`
}

func (s *SmoothingConfig) GetHistoryFrames() int {
	if s == nil || s.HistoryFrames <= 0 {
		return 8
	}
	return s.HistoryFrames
}

type Profile struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	MeteringMode         string  `json:"metering_mode"`
	AwbMode              string  `json:"awb_mode"`
	ExposureCompensation float64 `json:"exposure_compensation"`
	// ISO 0 means the node auto-exposes.
	ISO     int    `json:"iso"`
	Shutter string `json:"shutter"`

	HDREnabled       bool      `json:"hdr_enabled"`
	BracketExposures []float64 `json:"bracket_exposures,omitempty"`

	// AdaptiveWBCurve maps metered lux to a WB temperature, monotone in lux.
	AdaptiveWBCurve []WBPoint `json:"adaptive_wb_curve,omitempty"`

	ScheduleOverrides map[string]*ProfileOverride `json:"schedule_overrides,omitempty"`
}

type WBPoint struct {
	Lux        float64 `json:"lux_threshold"`
	TempKelvin int     `json:"temp_kelvin"`
}

// ProfileOverride is a partial profile merged over the base for one schedule.
// Nil fields keep the base value.
type ProfileOverride struct {
	MeteringMode         *string    `json:"metering_mode,omitempty"`
	AwbMode              *string    `json:"awb_mode,omitempty"`
	ExposureCompensation *float64   `json:"exposure_compensation,omitempty"`
	ISO                  *int       `json:"iso,omitempty"`
	Shutter              *string    `json:"shutter,omitempty"`
	HDREnabled           *bool      `json:"hdr_enabled,omitempty"`
	BracketExposures     []float64  `json:"bracket_exposures,omitempty"`
	AdaptiveWBCurve      []WBPoint  `json:"adaptive_wb_curve,omitempty"`
}

// Merged returns a copy of p with the override applied. A nil override
// returns a plain copy.
func (p *Profile) Merged(o *ProfileOverride) *Profile {
	merged := *p
	if o == nil {
		return &merged
	}
	if o.MeteringMode != nil {
		merged.MeteringMode = *o.MeteringMode
	}
	if o.AwbMode != nil {
		merged.AwbMode = *o.AwbMode
	}
	if o.ExposureCompensation != nil {
		merged.ExposureCompensation = *o.ExposureCompensation
	}
	if o.ISO != nil {
		merged.ISO = *o.ISO
	}
	if o.Shutter != nil {
		merged.Shutter = *o.Shutter
	}
	if o.HDREnabled != nil {
		merged.HDREnabled = *o.HDREnabled
	}
	if o.BracketExposures != nil {
		merged.BracketExposures = o.BracketExposures
	}
	if o.AdaptiveWBCurve != nil {
		merged.AdaptiveWBCurve = o.AdaptiveWBCurve
	}
	return &merged
}

type Node struct {
	ID      string `json:"id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Role    string `json:"role"`
	Enabled bool   `json:"enabled"`
}

func (n *Node) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

type SchedulerConfig struct {
	TickIntervalSeconds  int `json:"tick_interval_seconds,omitempty"`
	MeterTTLSeconds      int `json:"meter_ttl_seconds,omitempty"`
	MaxParallelCaptures  int `json:"max_parallel_captures,omitempty"`
	ShutdownGraceSeconds int `json:"shutdown_grace_seconds,omitempty"`
}

// GetDefaultTickInterval is the cadence used when no schedule is enabled.
func (c SchedulerConfig) GetDefaultTickInterval() time.Duration {
	if c.TickIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c SchedulerConfig) GetMeterTTL() time.Duration {
	if c.MeterTTLSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.MeterTTLSeconds) * time.Second
}

func (c SchedulerConfig) GetShutdownGrace() time.Duration {
	if c.ShutdownGraceSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

type QueueConfig struct {
	VisibilityTimeoutSeconds int `json:"visibility_timeout_seconds,omitempty"`
	MaxAttempts              int `json:"max_attempts,omitempty"`
	WorkerCount              int `json:"worker_count,omitempty"`
}

func (c QueueConfig) GetVisibilityTimeout() time.Duration {
	if c.VisibilityTimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

func (c QueueConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

func (c QueueConfig) GetWorkerCount() int {
	if c.WorkerCount <= 0 {
		return 1
	}
	return c.WorkerCount
}

type StorageConfig struct {
	DatabasePath string `json:"database_path,omitempty"`
	ImageRoot    string `json:"image_root,omitempty"`
	VideoRoot    string `json:"video_root,omitempty"`
	WorkerLogDir string `json:"worker_log_dir,omitempty"`
}

type AssemblyConfig struct {
	FrameRate int    `json:"frame_rate,omitempty"`
	Quality   string `json:"quality,omitempty"`
	// FFmpegPath overrides the encoder binary, default "ffmpeg".
	FFmpegPath string `json:"ffmpeg_path,omitempty"`
}

func (c AssemblyConfig) GetFrameRate() int {
	if c.FrameRate <= 0 {
		return 30
	}
	return c.FrameRate
}

func (c AssemblyConfig) GetQuality() string {
	if c.Quality == "" {
		return "medium"
	}
	return c.Quality
}

func (c AssemblyConfig) GetFFmpegPath() string {
	if c.FFmpegPath == "" {
		return "ffmpeg"
	}
	return c.FFmpegPath
}

// EnabledNodes filters the node list to those participating in scheduling.
func (d *Document) EnabledNodes() []*Node {
	out := make([]*Node, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.Enabled {
			out = append(out, n)
		}
	}
	return out
}

// EnabledSchedules returns enabled schedules keyed by id.
func (d *Document) EnabledSchedules() map[string]*Schedule {
	out := make(map[string]*Schedule, len(d.Schedules))
	for id, s := range d.Schedules {
		if s.Enabled {
			out[id] = s
		}
	}
	return out
}
