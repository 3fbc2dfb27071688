// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/AMD-AGI/Skylapse/brain/pkg/errors"
)

var (
	validMeteringModes = map[string]bool{"matrix": true, "center": true, "spot": true}
	validAwbModes      = map[string]bool{
		"auto": true, "daylight": true, "cloudy": true,
		"tungsten": true, "fluorescent": true, "custom": true,
	}
	validISO      = map[int]bool{0: true, 100: true, 200: true, 400: true, 800: true, 1600: true}
	validQuality  = map[string]bool{"preview": true, "medium": true, "high": true}
	hhmmRe        = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	shutterFracRe = regexp.MustCompile(`^1/\d+$`)
)

func invalid(path, format string, args ...interface{}) error {
	return errors.NewError().
		WithCode(errors.CodeConfigInvalid).
		WithMessagef("%s: %s", path, fmt.Sprintf(format, args...))
}

// Validate checks every structural and semantic invariant of the document.
// The returned error names the offending path.
func (d *Document) Validate() error {
	if d.Location.Latitude < -90 || d.Location.Latitude > 90 {
		return invalid("location.latitude", "must be in [-90, 90], got %v", d.Location.Latitude)
	}
	if d.Location.Longitude < -180 || d.Location.Longitude > 180 {
		return invalid("location.longitude", "must be in [-180, 180], got %v", d.Location.Longitude)
	}
	if d.Location.Timezone == "" {
		return invalid("location.timezone", "required")
	}
	if _, err := time.LoadLocation(d.Location.Timezone); err != nil {
		return invalid("location.timezone", "unknown IANA timezone %q", d.Location.Timezone)
	}

	for id, p := range d.Profiles {
		if err := p.validate("profiles[" + id + "]"); err != nil {
			return err
		}
	}

	for id, s := range d.Schedules {
		if err := s.validate("schedules["+id+"]", d.Profiles); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for i, n := range d.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			return invalid(path+".id", "required")
		}
		if seen[n.ID] {
			return invalid(path+".id", "duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Host == "" {
			return invalid(path+".host", "required")
		}
		if n.Port <= 0 || n.Port > 65535 {
			return invalid(path+".port", "must be in (0, 65535], got %d", n.Port)
		}
		if n.Role != NodeRolePrimary && n.Role != NodeRoleSecondary {
			return invalid(path+".role", "must be primary or secondary, got %q", n.Role)
		}
	}

	if q := d.Assembly.Quality; q != "" && !validQuality[q] {
		return invalid("assembly.quality", "must be preview, medium or high, got %q", q)
	}
	return nil
}

func (s *Schedule) validate(path string, profiles map[string]*Profile) error {
	switch s.Type {
	case ScheduleTypeSolarRelative:
		if s.Anchor != AnchorSunrise && s.Anchor != AnchorSunset {
			return invalid(path+".anchor", "must be sunrise or sunset, got %q", s.Anchor)
		}
		if s.DurationMinutes <= 0 {
			return invalid(path+".duration_minutes", "must be > 0, got %d", s.DurationMinutes)
		}
	case ScheduleTypeTimeOfDay:
		if !hhmmRe.MatchString(s.Start) {
			return invalid(path+".start", "must be HH:MM, got %q", s.Start)
		}
		if !hhmmRe.MatchString(s.End) {
			return invalid(path+".end", "must be HH:MM, got %q", s.End)
		}
		// Wrap past midnight is out of scope and must not load silently.
		if s.End <= s.Start {
			return invalid(path, "end %q must be after start %q (midnight wrap is not supported)", s.End, s.Start)
		}
	default:
		return invalid(path+".type", "must be solar_relative or time_of_day, got %q", s.Type)
	}

	if s.IntervalSeconds < 1 {
		return invalid(path+".interval_seconds", "must be >= 1, got %d", s.IntervalSeconds)
	}
	if len(s.Profiles) == 0 && s.Enabled {
		return invalid(path+".profiles", "enabled schedule needs at least one profile")
	}
	for _, pid := range s.Profiles {
		if _, ok := profiles[pid]; !ok && s.Enabled {
			return invalid(path+".profiles", "references unknown profile %q", pid)
		}
	}

	if sm := s.Smoothing; sm != nil && sm.Enabled {
		if sm.Alpha <= 0 || sm.Alpha > 1 {
			return invalid(path+".smoothing.alpha", "must be in (0, 1], got %v", sm.Alpha)
		}
		if sm.MaxStepEV <= 0 {
			return invalid(path+".smoothing.max_step_ev", "must be > 0, got %v", sm.MaxStepEV)
		}
	}
	return nil
}

func (p *Profile) validate(path string) error {
	if p.ID == "" {
		return invalid(path+".id", "required")
	}
	if !validMeteringModes[p.MeteringMode] {
		return invalid(path+".metering_mode", "must be matrix, center or spot, got %q", p.MeteringMode)
	}
	if !validAwbModes[p.AwbMode] {
		return invalid(path+".awb_mode", "unknown awb mode %q", p.AwbMode)
	}
	if p.ExposureCompensation < -2.0 || p.ExposureCompensation > 2.0 {
		return invalid(path+".exposure_compensation", "must be in [-2.0, 2.0] EV, got %v", p.ExposureCompensation)
	}
	if !validISO[p.ISO] {
		return invalid(path+".iso", "must be 0 (auto) or one of 100/200/400/800/1600, got %d", p.ISO)
	}
	if err := validateShutter(p.Shutter); err != nil {
		return invalid(path+".shutter", "%v", err)
	}

	if p.HDREnabled {
		if len(p.BracketExposures) < 3 || len(p.BracketExposures) > 7 {
			return invalid(path+".bracket_exposures", "hdr_enabled requires 3..7 values, got %d", len(p.BracketExposures))
		}
		for i, ev := range p.BracketExposures {
			if ev < -2.0 || ev > 2.0 {
				return invalid(fmt.Sprintf("%s.bracket_exposures[%d]", path, i), "must be in [-2.0, 2.0] EV, got %v", ev)
			}
		}
	}

	for i := 1; i < len(p.AdaptiveWBCurve); i++ {
		if p.AdaptiveWBCurve[i].Lux <= p.AdaptiveWBCurve[i-1].Lux {
			return invalid(fmt.Sprintf("%s.adaptive_wb_curve[%d]", path, i), "lux thresholds must be strictly increasing")
		}
	}

	for sid, o := range p.ScheduleOverrides {
		opath := fmt.Sprintf("%s.schedule_overrides[%s]", path, sid)
		merged := p.Merged(o)
		merged.ScheduleOverrides = nil
		if err := merged.validate(opath); err != nil {
			return err
		}
	}
	return nil
}

// validateShutter accepts "auto", fraction form "1/500", or microseconds.
func validateShutter(s string) error {
	if s == "" || s == ShutterAuto {
		return nil
	}
	if shutterFracRe.MatchString(s) {
		return nil
	}
	if us, err := strconv.Atoi(s); err == nil && us > 0 {
		return nil
	}
	return fmt.Errorf("must be %q, a fraction like \"1/500\", or microseconds, got %q", ShutterAuto, s)
}
