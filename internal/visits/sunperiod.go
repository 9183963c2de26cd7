package visits

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// Sun periods annotated on visits when the station has a location.
// Trap review cares about nocturnal activity, so the boundary between
// periods is civil twilight (sun altitude -6 degrees).
const (
	periodNight = "night"
	periodDawn  = "dawn"
	periodDay   = "day"
	periodDusk  = "dusk"
)

// sunPeriod classifies the visit start time against the sun's position
// at the station.
func sunPeriod(t time.Time, lat, lng float64) string {
	position := suncalc.GetPosition(t, lat, lng)
	altitudeDegrees := position.Altitude * (180.0 / math.Pi)

	switch {
	case altitudeDegrees >= 0:
		return periodDay
	case altitudeDegrees >= -6:
		// Twilight; azimuth is negative east of south, i.e. morning.
		if position.Azimuth < 0 {
			return periodDawn
		}
		return periodDusk
	default:
		return periodNight
	}
}
