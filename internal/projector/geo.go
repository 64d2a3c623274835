package projector

import "math"

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// boundingBox returns a lat/lon box that contains the circle of radiusKm
// around the point. It is used to prefilter rows in SQL. A circle that
// reaches a pole or crosses the antimeridian gets the full longitude range.
func boundingBox(lat, lon, radiusKm float64) (latMin, latMax, lonMin, lonMax float64) {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	latMin, latMax = lat-dLat, lat+dLat
	if latMin <= -90 || latMax >= 90 {
		return math.Max(latMin, -90), math.Min(latMax, 90), -180, 180
	}

	dLon := dLat / math.Cos(lat*math.Pi/180)
	lonMin, lonMax = lon-dLon, lon+dLon
	if lonMin < -180 || lonMax > 180 {
		return latMin, latMax, -180, 180
	}
	return latMin, latMax, lonMin, lonMax
}
