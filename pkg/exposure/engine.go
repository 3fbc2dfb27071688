// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package exposure resolves concrete camera settings for one (profile, tick).
// Resolve is pure: no I/O, no clock reads, no randomness. Identical inputs
// yield identical settings.
package exposure

import (
	"math"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
)

const (
	evMin = -2.0
	evMax = 2.0
)

// SunInfo is the sun position at resolve time.
type SunInfo struct {
	ElevationDegrees  float64
	MinutesFromAnchor float64
}

// Meter is the latest light reading from the target node.
type Meter struct {
	Lux              float64
	SuggestedISO     int
	SuggestedShutter string
}

// Settings is the resolved settings object sent to a node.
type Settings struct {
	ISO                  int       `json:"iso"`
	Shutter              string    `json:"shutter"`
	ExposureCompensation float64   `json:"exposure_compensation"`
	AwbMode              string    `json:"awb_mode"`
	WBTemperature        *int      `json:"wb_temperature,omitempty"`
	MeteringMode         string    `json:"metering_mode"`
	HDREnabled           bool      `json:"hdr_enabled"`
	BracketExposures     []float64 `json:"bracket_exposures,omitempty"`
	Profile              string    `json:"profile"`
	Schedule             string    `json:"schedule"`
}

// NeedsMeter reports whether resolving this profile requires a fresh meter
// reading. A fully automatic profile (iso 0) is deterministic from profile
// fields alone.
func NeedsMeter(p *config.Profile, scheduleID string) bool {
	merged := p.Merged(p.ScheduleOverrides[scheduleID])
	if merged.ISO == 0 {
		return false
	}
	return len(merged.AdaptiveWBCurve) > 0 || merged.Shutter == config.ShutterAuto
}

// Resolve produces the settings for one capture.
func Resolve(p *config.Profile, scheduleID string, sched *config.Schedule, sun SunInfo, meter *Meter, hist *History) Settings {
	merged := p.Merged(p.ScheduleOverrides[scheduleID])

	out := Settings{
		ISO:                  merged.ISO,
		Shutter:              merged.Shutter,
		ExposureCompensation: merged.ExposureCompensation,
		AwbMode:              merged.AwbMode,
		MeteringMode:         merged.MeteringMode,
		HDREnabled:           merged.HDREnabled,
		BracketExposures:     merged.BracketExposures,
		Profile:              merged.ID,
		Schedule:             scheduleID,
	}

	// Auto-exposing profile: the node is trusted; only EV compensation, AWB,
	// metering mode and HDR parameters travel.
	if merged.ISO == 0 {
		out.Shutter = config.ShutterAuto
		return out
	}

	if len(merged.AdaptiveWBCurve) > 0 && meter != nil {
		temp := interpolateWB(merged.AdaptiveWBCurve, meter.Lux)
		out.WBTemperature = &temp
		out.AwbMode = "custom"
	}

	if merged.Shutter == config.ShutterAuto && meter != nil && meter.SuggestedShutter != "" {
		out.Shutter = meter.SuggestedShutter
	}

	if sched != nil && sched.Smoothing != nil && sched.Smoothing.Enabled && hist != nil {
		if prev, ok := hist.Last(); ok {
			out.ExposureCompensation = smoothEV(
				prev.ExposureCompensation,
				out.ExposureCompensation,
				sched.Smoothing.Alpha,
				sched.Smoothing.MaxStepEV,
			)
		}
	}

	return out
}

// interpolateWB linearly interpolates the WB temperature over the (sorted)
// curve, clamping to the endpoints.
func interpolateWB(curve []config.WBPoint, lux float64) int {
	if lux <= curve[0].Lux {
		return curve[0].TempKelvin
	}
	last := curve[len(curve)-1]
	if lux >= last.Lux {
		return last.TempKelvin
	}
	for i := 1; i < len(curve); i++ {
		if lux > curve[i].Lux {
			continue
		}
		lo, hi := curve[i-1], curve[i]
		frac := (lux - lo.Lux) / (hi.Lux - lo.Lux)
		return int(math.Round(float64(lo.TempKelvin) + frac*float64(hi.TempKelvin-lo.TempKelvin)))
	}
	return last.TempKelvin
}

// smoothEV moves prev toward target by an EMA step capped at maxStep stops.
// The profile hard limits are never crossed.
func smoothEV(prev, target, alpha, maxStep float64) float64 {
	step := alpha * (target - prev)
	if step > maxStep {
		step = maxStep
	} else if step < -maxStep {
		step = -maxStep
	}
	smoothed := prev + step
	if smoothed > evMax {
		smoothed = evMax
	} else if smoothed < evMin {
		smoothed = evMin
	}
	return smoothed
}
