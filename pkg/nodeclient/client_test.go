// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package nodeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
)

func nodeFor(t *testing.T, server *httptest.Server) *config.Node {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &config.Node{
		ID:      "n1",
		Host:    u.Hostname(),
		Port:    port,
		Role:    config.NodeRolePrimary,
		Enabled: true,
	}
}

func TestCaptureForwardsSettingsAndIdentity(t *testing.T) {
	var got CaptureRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/capture", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&CaptureResponse{
			Status:   StatusSuccess,
			Filename: "img_0001.jpg",
		})
	}))
	defer server.Close()

	client := New(nodeFor(t, server), "brain-main")
	temp := 4300
	resp, err := client.Capture(context.Background(), &CaptureRequest{
		ISO:            400,
		ShutterSpeed:   "1/250",
		AwbMode:        "custom",
		WBTemperature:  &temp,
		AeMeteringMode: "matrix",
		Profile:        "a",
		Schedule:       "sunset",
	})
	require.NoError(t, err)
	assert.Equal(t, "img_0001.jpg", resp.Filename)

	assert.Equal(t, "brain-main", got.PrimaryBackend)
	assert.Equal(t, 400, got.ISO)
	assert.Equal(t, "1/250", got.ShutterSpeed)
	require.NotNil(t, got.WBTemperature)
	assert.Equal(t, 4300, *got.WBTemperature)
}

func TestHTTPErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"camera busy"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(nodeFor(t, server), "brain-main")
	_, err := client.Capture(context.Background(), &CaptureRequest{ISO: 400})
	require.Error(t, err)

	httpErr, ok := err.(*HTTPError)
	require.True(t, ok, "expected HTTPError, got %T", err)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "camera busy")
	assert.False(t, IsTransient(err))

	// Status failures must not burn the retry budget.
	assert.Equal(t, int32(1), calls.Load())
}

func TestNetworkErrorsAreTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	node := nodeFor(t, server)
	server.Close() // connection refused from here on

	client := New(node, "brain-main")
	_, err := client.Meter(context.Background())
	require.Error(t, err)

	_, ok := err.(*TransientError)
	assert.True(t, ok, "expected TransientError, got %T", err)
	assert.True(t, IsTransient(err))
}

func TestCaptureRejectsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&CaptureResponse{Status: "degraded"})
	}))
	defer server.Close()

	client := New(nodeFor(t, server), "brain-main")
	_, err := client.Capture(context.Background(), &CaptureRequest{ISO: 400})
	require.Error(t, err)
	_, ok := err.(*HTTPError)
	assert.True(t, ok)
}

func TestMeterSetsTakenTime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/meter", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&MeterReading{Lux: 420.5, SuggestedShutter: "1/60"})
	}))
	defer server.Close()

	client := New(nodeFor(t, server), "brain-main")
	reading, err := client.Meter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 420.5, reading.Lux)
	assert.Equal(t, "1/60", reading.SuggestedShutter)
	assert.False(t, reading.Taken.IsZero())
}

func TestCaptureBracket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/capture-bracket", r.URL.Path)
		var req BracketRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []float64{-1.5, 0, 1.5}, req.BracketExposures)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&BracketResponse{
			Status:    StatusSuccess,
			Filenames: []string{"b_0.jpg", "b_1.jpg", "b_2.jpg"},
			Count:     3,
		})
	}))
	defer server.Close()

	client := New(nodeFor(t, server), "brain-main")
	resp, err := client.CaptureBracket(context.Background(), &BracketRequest{
		CaptureRequest:   CaptureRequest{ISO: 400},
		BracketExposures: []float64{-1.5, 0, 1.5},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Filenames, 3)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&HealthStatus{Status: "ok", Camera: "imx477"})
	}))
	defer server.Close()

	client := New(nodeFor(t, server), "brain-main")
	status, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "imx477", status.Camera)
}
