// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package exposure

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
)

func testProfile() *config.Profile {
	return &config.Profile{
		ID:                   "a",
		MeteringMode:         "matrix",
		AwbMode:              "auto",
		ExposureCompensation: 0.3,
		ISO:                  400,
		Shutter:              "1/250",
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	p := testProfile()
	p.AdaptiveWBCurve = []config.WBPoint{
		{Lux: 10, TempKelvin: 2800},
		{Lux: 1000, TempKelvin: 5600},
	}
	sun := SunInfo{ElevationDegrees: -2.5, MinutesFromAnchor: 12}
	meter := &Meter{Lux: 400, SuggestedShutter: "1/60"}

	first := Resolve(p, "sunset", nil, sun, meter, nil)
	second := Resolve(p, "sunset", nil, sun, meter, nil)
	assert.Equal(t, first, second)
}

func TestResolveAutoProfileShortCircuits(t *testing.T) {
	p := testProfile()
	p.ISO = 0
	p.Shutter = "1/250"
	p.AdaptiveWBCurve = []config.WBPoint{{Lux: 10, TempKelvin: 2800}, {Lux: 1000, TempKelvin: 5600}}

	out := Resolve(p, "sunset", nil, SunInfo{}, &Meter{Lux: 500}, nil)
	assert.Equal(t, 0, out.ISO)
	assert.Equal(t, config.ShutterAuto, out.Shutter)
	// Auto profiles never get a custom WB temperature.
	assert.Nil(t, out.WBTemperature)
	assert.Equal(t, "auto", out.AwbMode)
	assert.Equal(t, 0.3, out.ExposureCompensation)
}

func TestResolveAdaptiveWB(t *testing.T) {
	p := testProfile()
	p.AdaptiveWBCurve = []config.WBPoint{
		{Lux: 10, TempKelvin: 2800},
		{Lux: 1010, TempKelvin: 5800},
	}

	t.Run("interpolates between points", func(t *testing.T) {
		out := Resolve(p, "s", nil, SunInfo{}, &Meter{Lux: 510}, nil)
		require.NotNil(t, out.WBTemperature)
		assert.Equal(t, 4300, *out.WBTemperature)
		assert.Equal(t, "custom", out.AwbMode)
	})

	t.Run("clamps below the curve", func(t *testing.T) {
		out := Resolve(p, "s", nil, SunInfo{}, &Meter{Lux: 1}, nil)
		require.NotNil(t, out.WBTemperature)
		assert.Equal(t, 2800, *out.WBTemperature)
	})

	t.Run("clamps above the curve", func(t *testing.T) {
		out := Resolve(p, "s", nil, SunInfo{}, &Meter{Lux: 100000}, nil)
		require.NotNil(t, out.WBTemperature)
		assert.Equal(t, 5800, *out.WBTemperature)
	})

	t.Run("no meter leaves awb untouched", func(t *testing.T) {
		out := Resolve(p, "s", nil, SunInfo{}, nil, nil)
		assert.Nil(t, out.WBTemperature)
		assert.Equal(t, "auto", out.AwbMode)
	})
}

func TestResolveAutoShutterAdoptsMeterSuggestion(t *testing.T) {
	p := testProfile()
	p.Shutter = config.ShutterAuto

	out := Resolve(p, "s", nil, SunInfo{}, &Meter{SuggestedShutter: "1/30"}, nil)
	assert.Equal(t, "1/30", out.Shutter)

	out = Resolve(p, "s", nil, SunInfo{}, nil, nil)
	assert.Equal(t, config.ShutterAuto, out.Shutter)
}

func TestResolveScheduleOverride(t *testing.T) {
	p := testProfile()
	iso := 800
	p.ScheduleOverrides = map[string]*config.ProfileOverride{
		"sunset": {ISO: &iso},
	}

	out := Resolve(p, "sunset", nil, SunInfo{}, nil, nil)
	assert.Equal(t, 800, out.ISO)

	out = Resolve(p, "daytime", nil, SunInfo{}, nil, nil)
	assert.Equal(t, 400, out.ISO)
}

func TestSmoothing(t *testing.T) {
	sched := &config.Schedule{
		Smoothing: &config.SmoothingConfig{Enabled: true, Alpha: 0.5, MaxStepEV: 0.125},
	}

	t.Run("step is capped", func(t *testing.T) {
		p := testProfile()
		p.ExposureCompensation = 2.0
		hist := NewHistory(8)
		hist.Push(Settings{ExposureCompensation: 0})

		out := Resolve(p, "s", sched, SunInfo{}, nil, hist)
		// alpha*(2-0)=1.0, capped to 0.125.
		assert.InDelta(t, 0.125, out.ExposureCompensation, 1e-9)
	})

	t.Run("small step follows EMA", func(t *testing.T) {
		p := testProfile()
		p.ExposureCompensation = 0.2
		hist := NewHistory(8)
		hist.Push(Settings{ExposureCompensation: 0.1})

		out := Resolve(p, "s", sched, SunInfo{}, nil, hist)
		assert.InDelta(t, 0.15, out.ExposureCompensation, 1e-9)
	})

	t.Run("empty history passes target through", func(t *testing.T) {
		p := testProfile()
		p.ExposureCompensation = 1.2
		out := Resolve(p, "s", sched, SunInfo{}, nil, NewHistory(8))
		assert.InDelta(t, 1.2, out.ExposureCompensation, 1e-9)
	})

	t.Run("converges toward target over ticks", func(t *testing.T) {
		p := testProfile()
		p.ExposureCompensation = 1.0
		hist := NewHistory(8)
		hist.Push(Settings{ExposureCompensation: 0})

		var last float64
		for i := 0; i < 20; i++ {
			out := Resolve(p, "s", sched, SunInfo{}, nil, hist)
			hist.Push(out)
			last = out.ExposureCompensation
		}
		assert.InDelta(t, 1.0, last, 0.05)
	})
}

func TestNeedsMeter(t *testing.T) {
	t.Run("auto profile never meters", func(t *testing.T) {
		p := testProfile()
		p.ISO = 0
		p.AdaptiveWBCurve = []config.WBPoint{{Lux: 10, TempKelvin: 2800}, {Lux: 100, TempKelvin: 5000}}
		assert.False(t, NeedsMeter(p, "s"))
	})

	t.Run("wb curve requires meter", func(t *testing.T) {
		p := testProfile()
		p.AdaptiveWBCurve = []config.WBPoint{{Lux: 10, TempKelvin: 2800}, {Lux: 100, TempKelvin: 5000}}
		assert.True(t, NeedsMeter(p, "s"))
	})

	t.Run("auto shutter on manual iso requires meter", func(t *testing.T) {
		p := testProfile()
		p.Shutter = config.ShutterAuto
		assert.True(t, NeedsMeter(p, "s"))
	})

	t.Run("fully manual does not", func(t *testing.T) {
		assert.False(t, NeedsMeter(testProfile(), "s"))
	})
}

func TestHistoryRing(t *testing.T) {
	hist := NewHistory(3)
	_, ok := hist.Last()
	assert.False(t, ok)

	for i := 1; i <= 5; i++ {
		hist.Push(Settings{ISO: i * 100})
	}
	assert.Equal(t, 3, hist.Len())
	last, ok := hist.Last()
	require.True(t, ok)
	assert.Equal(t, 500, last.ISO)
}

// Two capture goroutines of one schedule share the session's history, so
// concurrent Push and Last must be safe under the race detector.
func TestHistoryConcurrentAccess(t *testing.T) {
	hist := NewHistory(8)
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				hist.Push(Settings{ISO: g*1000 + i})
				hist.Last()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 8, hist.Len())
}
