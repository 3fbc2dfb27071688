package nodeclient

import (
	"encoding/json"
	"time"
)

const StatusSuccess = "success"

// CaptureRequest carries resolved settings to a node. Field names are the
// node wire contract.
type CaptureRequest struct {
	ISO                  int     `json:"iso"`
	ShutterSpeed         string  `json:"shutter_speed"`
	ExposureCompensation float64 `json:"exposure_compensation"`
	AwbMode              string  `json:"awb_mode"`
	WBTemperature        *int    `json:"wb_temperature,omitempty"`
	AeMeteringMode       string  `json:"ae_metering_mode"`
	Profile              string  `json:"profile"`
	Schedule             string  `json:"schedule"`
	PrimaryBackend       string  `json:"primary_backend,omitempty"`
}

type CaptureResponse struct {
	Status          string          `json:"status"`
	Filename        string          `json:"filename"`
	Filepath        string          `json:"filepath"`
	SettingsApplied json.RawMessage `json:"settings_applied"`
}

type BracketRequest struct {
	CaptureRequest
	BracketExposures []float64 `json:"bracket_exposures"`
}

type BracketResponse struct {
	Status          string          `json:"status"`
	Filenames       []string        `json:"filenames"`
	Count           int             `json:"count"`
	SettingsApplied json.RawMessage `json:"settings_applied"`
}

// MeterReading is a node's ambient light measurement.
type MeterReading struct {
	Lux              float64 `json:"lux"`
	SuggestedISO     int     `json:"suggested_iso,omitempty"`
	SuggestedShutter string  `json:"suggested_shutter,omitempty"`

	// Taken is set by the client on receipt; used for TTL checks.
	Taken time.Time `json:"-"`
}

type HealthStatus struct {
	Status string `json:"status"`
	Camera string `json:"camera,omitempty"`
	Uptime int64  `json:"uptime_seconds,omitempty"`
}

type DeployProfileRequest struct {
	Profile        json.RawMessage `json:"profile"`
	PrimaryBackend string          `json:"primary_backend,omitempty"`
}

type DeployProfileResponse struct {
	Status string `json:"status"`
}
