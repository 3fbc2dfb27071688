// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package solar

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nathan-osman/go-sunrise"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	brainerrors "github.com/AMD-AGI/Skylapse/brain/pkg/errors"
)

// ErrNoSolarEvent marks dates without a sunrise/sunset at high latitudes.
// The scheduler treats the schedule as disabled for that date.
var ErrNoSolarEvent = errors.New("no solar event on this date at this location")

// cacheCapacity covers roughly one week plus today/tomorrow.
const cacheCapacity = 8

// Window is the [Start, End] of a schedule on a given date, in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Events are the solar instants of one date at one location, in UTC.
type Events struct {
	Sunrise time.Time
	Sunset  time.Time
}

type cacheKey struct {
	date     string // YYYY-MM-DD local
	location string
}

// Calculator computes schedule windows from geographic location. Daily solar
// events are memoized in a strict LRU keyed by (date, location).
type Calculator struct {
	cache *lru.Cache[cacheKey, Events]
}

func NewCalculator() *Calculator {
	cache, _ := lru.New[cacheKey, Events](cacheCapacity)
	return &Calculator{cache: cache}
}

// EventsFor returns sunrise/sunset for the local calendar date dateLocal.
func (c *Calculator) EventsFor(loc config.Location, dateLocal time.Time) (Events, error) {
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return Events{}, brainerrors.NewError().
			WithCode(brainerrors.CodeConfigInvalid).
			WithMessagef("invalid location %v,%v", loc.Latitude, loc.Longitude)
	}

	key := cacheKey{date: dateLocal.Format("2006-01-02"), location: loc.Hash()}
	if ev, ok := c.cache.Get(key); ok {
		return ev, nil
	}

	rise, set := sunrise.SunriseSunset(
		loc.Latitude, loc.Longitude,
		dateLocal.Year(), dateLocal.Month(), dateLocal.Day(),
	)
	if rise.IsZero() || set.IsZero() {
		return Events{}, fmt.Errorf("%s %s: %w", key.location, key.date, ErrNoSolarEvent)
	}

	ev := Events{Sunrise: rise.UTC(), Sunset: set.UTC()}
	c.cache.Add(key, ev)
	return ev, nil
}

// Window computes the schedule's [start, end] for the local date. Always
// returns UTC instants.
func (c *Calculator) Window(loc config.Location, sched *config.Schedule, dateLocal time.Time) (Window, error) {
	tz, err := loc.LoadTimezone()
	if err != nil {
		return Window{}, brainerrors.NewError().
			WithCode(brainerrors.CodeConfigInvalid).
			WithMessagef("invalid timezone %q", loc.Timezone).
			WithError(err)
	}

	switch sched.Type {
	case config.ScheduleTypeSolarRelative:
		ev, err := c.EventsFor(loc, dateLocal)
		if err != nil {
			return Window{}, err
		}
		var anchor time.Time
		switch sched.Anchor {
		case config.AnchorSunrise:
			anchor = ev.Sunrise
		case config.AnchorSunset:
			anchor = ev.Sunset
		default:
			return Window{}, brainerrors.NewError().
				WithCode(brainerrors.CodeConfigInvalid).
				WithMessagef("unknown anchor %q", sched.Anchor)
		}
		start := anchor.Add(time.Duration(sched.OffsetMinutes) * time.Minute)
		end := start.Add(time.Duration(sched.DurationMinutes) * time.Minute)
		return Window{Start: start, End: end}, nil

	case config.ScheduleTypeTimeOfDay:
		start, err := combineLocal(dateLocal, sched.Start, tz)
		if err != nil {
			return Window{}, err
		}
		end, err := combineLocal(dateLocal, sched.End, tz)
		if err != nil {
			return Window{}, err
		}
		return Window{Start: start.UTC(), End: end.UTC()}, nil

	default:
		return Window{}, brainerrors.NewError().
			WithCode(brainerrors.CodeConfigInvalid).
			WithMessagef("unknown schedule type %q", sched.Type)
	}
}

// combineLocal merges a local calendar date with an "HH:MM" wall time.
func combineLocal(dateLocal time.Time, hhmm string, tz *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, brainerrors.NewError().
			WithCode(brainerrors.CodeConfigInvalid).
			WithMessagef("invalid time of day %q", hhmm).
			WithError(err)
	}
	return time.Date(
		dateLocal.Year(), dateLocal.Month(), dateLocal.Day(),
		t.Hour(), t.Minute(), 0, 0, tz,
	), nil
}
