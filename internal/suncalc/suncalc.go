// Package suncalc computes sun event times for the quiet-hours
// scheduler, which caps volume and softens the DSP chain between civil
// dusk and the following civil dawn.
package suncalc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// SunEventTimes holds the calculated sun event times in local time
type SunEventTimes struct {
	CivilDawn time.Time // Civil dawn in local time
	Sunrise   time.Time // Sunrise in local time
	Sunset    time.Time // Sunset in local time
	CivilDusk time.Time // Civil dusk in local time
}

// SunCalc handles caching and calculation of sun event times
type SunCalc struct {
	lock     sync.RWMutex
	cache    map[string]SunEventTimes // Sun event times keyed by date
	observer astral.Observer          // Observer for sun event calculations
}

// NewSunCalc creates a new SunCalc instance for the given position.
func NewSunCalc(latitude, longitude float64) *SunCalc {
	return &SunCalc{
		cache:    make(map[string]SunEventTimes),
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
	}
}

// GetSunEventTimes returns the sun event times for a given date, using
// the cache when the date was calculated before.
func (sc *SunCalc) GetSunEventTimes(date time.Time) (SunEventTimes, error) {
	dateKey := date.Format("2006-01-02")

	sc.lock.RLock()
	times, exists := sc.cache[dateKey]
	sc.lock.RUnlock()
	if exists {
		return times, nil
	}

	times, err := sc.calculateSunEventTimes(date)
	if err != nil {
		return SunEventTimes{}, err
	}

	sc.lock.Lock()
	sc.cache[dateKey] = times
	sc.lock.Unlock()

	return times, nil
}

// calculateSunEventTimes calculates the sun event times for a given date
func (sc *SunCalc) calculateSunEventTimes(date time.Time) (SunEventTimes, error) {
	civilDawn, err := astral.Dawn(sc.observer, date, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate civil dawn: %w", err)
	}

	sunrise, err := astral.Sunrise(sc.observer, date)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate sunrise: %w", err)
	}

	sunset, err := astral.Sunset(sc.observer, date)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate sunset: %w", err)
	}

	civilDusk, err := astral.Dusk(sc.observer, date, astral.DepressionCivil)
	if err != nil {
		return SunEventTimes{}, fmt.Errorf("failed to calculate civil dusk: %w", err)
	}

	return SunEventTimes{
		CivilDawn: civilDawn.Local(),
		Sunrise:   sunrise.Local(),
		Sunset:    sunset.Local(),
		CivilDusk: civilDusk.Local(),
	}, nil
}

// GetSunriseTime returns the sunrise time for a given date
func (sc *SunCalc) GetSunriseTime(date time.Time) (time.Time, error) {
	sunEventTimes, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get sun event times: %w", err)
	}
	return sunEventTimes.Sunrise, nil
}

// GetSunsetTime returns the sunset time for a given date
func (sc *SunCalc) GetSunsetTime(date time.Time) (time.Time, error) {
	sunEventTimes, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get sun event times: %w", err)
	}
	return sunEventTimes.Sunset, nil
}

// IsNight reports whether t falls in the quiet-hours window, between
// civil dusk and the following civil dawn. At polar latitudes where the
// sun never crosses the civil depression the calculation errors and the
// caller decides the fallback.
func (sc *SunCalc) IsNight(t time.Time) (bool, error) {
	times, err := sc.GetSunEventTimes(t)
	if err != nil {
		return false, err
	}
	return t.Before(times.CivilDawn) || t.After(times.CivilDusk), nil
}
