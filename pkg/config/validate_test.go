// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() *Document {
	return &Document{
		Brain: BrainConfig{Identity: "brain-test"},
		Location: Location{
			Latitude:  43.6532,
			Longitude: -79.3832,
			Timezone:  "America/Toronto",
		},
		Profiles: map[string]*Profile{
			"a": {
				ID:           "a",
				Name:         "daylight",
				MeteringMode: "matrix",
				AwbMode:      "auto",
				ISO:          400,
				Shutter:      "auto",
			},
		},
		Schedules: map[string]*Schedule{
			"sunset": {
				Enabled:         true,
				Type:            ScheduleTypeSolarRelative,
				Anchor:          AnchorSunset,
				OffsetMinutes:   -30,
				DurationMinutes: 90,
				IntervalSeconds: 30,
				Profiles:        []string{"a"},
			},
		},
		Nodes: []*Node{
			{ID: "n1", Host: "10.0.0.2", Port: 8080, Role: NodeRolePrimary, Enabled: true},
		},
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	require.NoError(t, validDoc().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Document)
		wantSub string
	}{
		{
			name:    "latitude out of range",
			mutate:  func(d *Document) { d.Location.Latitude = 91 },
			wantSub: "location.latitude",
		},
		{
			name:    "unknown timezone",
			mutate:  func(d *Document) { d.Location.Timezone = "Mars/Olympus" },
			wantSub: "location.timezone",
		},
		{
			name:    "bad metering mode",
			mutate:  func(d *Document) { d.Profiles["a"].MeteringMode = "average" },
			wantSub: "metering_mode",
		},
		{
			name:    "iso not in ladder",
			mutate:  func(d *Document) { d.Profiles["a"].ISO = 250 },
			wantSub: "iso",
		},
		{
			name:    "exposure compensation beyond 2 EV",
			mutate:  func(d *Document) { d.Profiles["a"].ExposureCompensation = 2.5 },
			wantSub: "exposure_compensation",
		},
		{
			name:    "bad shutter",
			mutate:  func(d *Document) { d.Profiles["a"].Shutter = "fast" },
			wantSub: "shutter",
		},
		{
			name: "hdr with too few brackets",
			mutate: func(d *Document) {
				d.Profiles["a"].HDREnabled = true
				d.Profiles["a"].BracketExposures = []float64{-1, 1}
			},
			wantSub: "bracket_exposures",
		},
		{
			name: "bracket exposure out of range",
			mutate: func(d *Document) {
				d.Profiles["a"].HDREnabled = true
				d.Profiles["a"].BracketExposures = []float64{-3, 0, 1}
			},
			wantSub: "bracket_exposures[0]",
		},
		{
			name: "wb curve not strictly increasing",
			mutate: func(d *Document) {
				d.Profiles["a"].AdaptiveWBCurve = []WBPoint{
					{Lux: 100, TempKelvin: 3000},
					{Lux: 100, TempKelvin: 5000},
				}
			},
			wantSub: "adaptive_wb_curve",
		},
		{
			name: "override merges into invalid profile",
			mutate: func(d *Document) {
				bad := 999
				d.Profiles["a"].ScheduleOverrides = map[string]*ProfileOverride{
					"sunset": {ISO: &bad},
				}
			},
			wantSub: "schedule_overrides[sunset]",
		},
		{
			name:    "solar schedule without anchor",
			mutate:  func(d *Document) { d.Schedules["sunset"].Anchor = "" },
			wantSub: "anchor",
		},
		{
			name:    "zero duration",
			mutate:  func(d *Document) { d.Schedules["sunset"].DurationMinutes = 0 },
			wantSub: "duration_minutes",
		},
		{
			name: "time of day midnight wrap",
			mutate: func(d *Document) {
				s := d.Schedules["sunset"]
				s.Type = ScheduleTypeTimeOfDay
				s.Start = "22:00"
				s.End = "02:00"
			},
			wantSub: "midnight wrap",
		},
		{
			name: "time of day bad format",
			mutate: func(d *Document) {
				s := d.Schedules["sunset"]
				s.Type = ScheduleTypeTimeOfDay
				s.Start = "8:00"
				s.End = "10:00"
			},
			wantSub: "start",
		},
		{
			name:    "interval below one second",
			mutate:  func(d *Document) { d.Schedules["sunset"].IntervalSeconds = 0 },
			wantSub: "interval_seconds",
		},
		{
			name:    "enabled schedule without profiles",
			mutate:  func(d *Document) { d.Schedules["sunset"].Profiles = nil },
			wantSub: "profiles",
		},
		{
			name:    "unknown profile reference",
			mutate:  func(d *Document) { d.Schedules["sunset"].Profiles = []string{"ghost"} },
			wantSub: "unknown profile",
		},
		{
			name: "smoothing alpha out of range",
			mutate: func(d *Document) {
				d.Schedules["sunset"].Smoothing = &SmoothingConfig{Enabled: true, Alpha: 1.5, MaxStepEV: 0.2}
			},
			wantSub: "smoothing.alpha",
		},
		{
			name: "duplicate node id",
			mutate: func(d *Document) {
				d.Nodes = append(d.Nodes, &Node{ID: "n1", Host: "10.0.0.3", Port: 8080, Role: NodeRoleSecondary})
			},
			wantSub: "duplicate node id",
		},
		{
			name:    "node port out of range",
			mutate:  func(d *Document) { d.Nodes[0].Port = 70000 },
			wantSub: "port",
		},
		{
			name:    "node bad role",
			mutate:  func(d *Document) { d.Nodes[0].Role = "backup" },
			wantSub: "role",
		},
		{
			name:    "unknown assembly quality",
			mutate:  func(d *Document) { d.Assembly.Quality = "ultra" },
			wantSub: "assembly.quality",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc()
			tt.mutate(doc)
			err := doc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestValidateDisabledScheduleSkipsProfileChecks(t *testing.T) {
	doc := validDoc()
	doc.Schedules["sunset"].Enabled = false
	doc.Schedules["sunset"].Profiles = []string{"ghost"}
	require.NoError(t, doc.Validate())
}

func TestProfileMerged(t *testing.T) {
	base := validDoc().Profiles["a"]

	t.Run("nil override is a copy", func(t *testing.T) {
		merged := base.Merged(nil)
		assert.Equal(t, base.ISO, merged.ISO)
		merged.ISO = 800
		assert.Equal(t, 400, base.ISO)
	})

	t.Run("override wins field by field", func(t *testing.T) {
		iso := 800
		shutter := "1/500"
		merged := base.Merged(&ProfileOverride{ISO: &iso, Shutter: &shutter})
		assert.Equal(t, 800, merged.ISO)
		assert.Equal(t, "1/500", merged.Shutter)
		assert.Equal(t, base.AwbMode, merged.AwbMode)
	})
}

func TestValidateShutterForms(t *testing.T) {
	for _, ok := range []string{"auto", "", "1/500", "1/8000", "250000"} {
		assert.NoError(t, validateShutter(ok), ok)
	}
	for _, bad := range []string{"fast", "1/", "-100", "0", "1/500s"} {
		assert.Error(t, validateShutter(bad), bad)
	}
}
