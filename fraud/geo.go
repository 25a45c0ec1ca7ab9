package fraud

import (
	"fmt"
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// MaxTravelSpeedKmh is the fastest plausible travel between two logins.
const MaxTravelSpeedKmh = 900.0

// Location is a geolocated observation.
type Location struct {
	Lat float64   `json:"lat"`
	Lon float64   `json:"lon"`
	At  time.Time `json:"at"`
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Location) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ImpossibleTravel reports a HIGH indicator when moving from prev to cur
// would need more than MaxTravelSpeedKmh.
func ImpossibleTravel(prev, cur Location) (Indicator, bool) {
	dist := DistanceKm(prev, cur)
	if dist < 1 {
		return Indicator{}, false
	}
	elapsed := cur.At.Sub(prev.At).Hours()
	if elapsed <= 0 {
		elapsed = 1.0 / 3600
	}
	speed := dist / elapsed
	if speed <= MaxTravelSpeedKmh {
		return Indicator{}, false
	}
	return Indicator{
		Type:       "impossible_travel",
		Level:      LevelHigh,
		Confidence: 1.0,
		Detail:     fmt.Sprintf("%.0f km at %.0f km/h", dist, speed),
	}, true
}
