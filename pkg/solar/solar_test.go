// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package solar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
)

var toronto = config.Location{
	Latitude:  43.6532,
	Longitude: -79.3832,
	Timezone:  "America/Toronto",
}

func localDate(t *testing.T, loc config.Location, y int, m time.Month, d int) time.Time {
	t.Helper()
	tz, err := loc.LoadTimezone()
	require.NoError(t, err)
	return time.Date(y, m, d, 0, 0, 0, 0, tz)
}

func TestEventsForMidLatitude(t *testing.T) {
	calc := NewCalculator()
	date := localDate(t, toronto, 2026, time.June, 20)

	ev, err := calc.EventsFor(toronto, date)
	require.NoError(t, err)

	assert.True(t, ev.Sunrise.Before(ev.Sunset))
	// June solstice in Toronto: roughly 15.5 hours of daylight.
	daylight := ev.Sunset.Sub(ev.Sunrise)
	assert.InDelta(t, 15.5, daylight.Hours(), 0.5)
	assert.Equal(t, time.UTC, ev.Sunrise.Location())
}

func TestEventsForIsCached(t *testing.T) {
	calc := NewCalculator()
	date := localDate(t, toronto, 2026, time.June, 20)

	first, err := calc.EventsFor(toronto, date)
	require.NoError(t, err)
	require.Equal(t, 1, calc.cache.Len())

	second, err := calc.EventsFor(toronto, date)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calc.cache.Len())

	// A different location is a different key.
	other := config.Location{Latitude: 51.5, Longitude: -0.12, Timezone: "Europe/London"}
	_, err = calc.EventsFor(other, date)
	require.NoError(t, err)
	assert.Equal(t, 2, calc.cache.Len())
}

func TestEventsForPolarDay(t *testing.T) {
	svalbard := config.Location{Latitude: 78.22, Longitude: 15.65, Timezone: "Arctic/Longyearbyen"}
	calc := NewCalculator()

	_, err := calc.EventsFor(svalbard, localDate(t, svalbard, 2026, time.June, 20))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSolarEvent))
}

func TestEventsForRejectsBadLocation(t *testing.T) {
	calc := NewCalculator()
	_, err := calc.EventsFor(config.Location{Latitude: 120, Timezone: "UTC"},
		time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestWindowSolarRelative(t *testing.T) {
	calc := NewCalculator()
	date := localDate(t, toronto, 2026, time.June, 20)

	sched := &config.Schedule{
		Type:            config.ScheduleTypeSolarRelative,
		Anchor:          config.AnchorSunset,
		OffsetMinutes:   -30,
		DurationMinutes: 90,
	}
	window, err := calc.Window(toronto, sched, date)
	require.NoError(t, err)

	ev, err := calc.EventsFor(toronto, date)
	require.NoError(t, err)
	assert.Equal(t, ev.Sunset.Add(-30*time.Minute), window.Start)
	assert.Equal(t, 90*time.Minute, window.Duration())
	assert.True(t, window.Contains(ev.Sunset))
	assert.False(t, window.Contains(window.End.Add(time.Second)))
}

func TestWindowTimeOfDay(t *testing.T) {
	calc := NewCalculator()
	date := localDate(t, toronto, 2026, time.June, 20)

	sched := &config.Schedule{
		Type:  config.ScheduleTypeTimeOfDay,
		Start: "08:00",
		End:   "10:30",
	}
	window, err := calc.Window(toronto, sched, date)
	require.NoError(t, err)

	// Toronto observes EDT (UTC-4) in June.
	assert.Equal(t, time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC), window.Start)
	assert.Equal(t, time.Date(2026, 6, 20, 14, 30, 0, 0, time.UTC), window.End)
	assert.Equal(t, 150*time.Minute, window.Duration())
}

func TestWindowUnknownType(t *testing.T) {
	calc := NewCalculator()
	_, err := calc.Window(toronto, &config.Schedule{Type: "lunar"}, localDate(t, toronto, 2026, time.June, 20))
	require.Error(t, err)
}

func TestElevationDayNight(t *testing.T) {
	// Solar noon-ish in Toronto in June: the sun is high.
	noon := time.Date(2026, 6, 20, 17, 20, 0, 0, time.UTC)
	assert.Greater(t, Elevation(toronto, noon), 60.0)

	// Local midnight: well below the horizon.
	midnight := time.Date(2026, 6, 20, 5, 20, 0, 0, time.UTC)
	assert.Less(t, Elevation(toronto, midnight), -10.0)
}
