// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package assembly turns an ordered capture list into a timelapse video via
// an external ffmpeg binary.
package assembly

import (
	"github.com/AMD-AGI/Skylapse/brain/pkg/errors"
)

// Preset maps a quality name to concrete x264 encoder parameters.
type Preset struct {
	Name string
	// CRF is the constant rate factor, lower is better quality.
	CRF int
	// Speed is the x264 speed/compression tradeoff preset.
	Speed       string
	PixelFormat string
	// ThumbWidth is the thumbnail width in pixels, height keeps aspect.
	ThumbWidth int
}

var presets = map[string]Preset{
	"preview": {Name: "preview", CRF: 28, Speed: "veryfast", PixelFormat: "yuv420p", ThumbWidth: 320},
	"medium":  {Name: "medium", CRF: 23, Speed: "medium", PixelFormat: "yuv420p", ThumbWidth: 640},
	"high":    {Name: "high", CRF: 18, Speed: "slow", PixelFormat: "yuv420p", ThumbWidth: 1280},
}

// PresetFor resolves a quality name. Unknown names are a config-level error.
func PresetFor(quality string) (Preset, error) {
	p, ok := presets[quality]
	if !ok {
		return Preset{}, errors.NewError().
			WithCode(errors.CodeConfigInvalid).
			WithMessagef("unknown quality preset %q", quality)
	}
	return p, nil
}

// PresetNames lists the known quality names for validation messages.
func PresetNames() []string {
	return []string{"preview", "medium", "high"}
}
