package encoder

import "math"

var ordinals = [16]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// Compass returns the 16-point ordinal for a direction in degrees.
// Any finite input is normalised into [0, 360) first. Sector boundaries
// round half to even, as weewx does.
func Compass(deg float64) string {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	idx := int(math.RoundToEven(deg/22.5)) % len(ordinals)
	return ordinals[idx]
}
