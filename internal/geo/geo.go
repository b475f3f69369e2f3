// Package geo хранит последние координаты исполнителей и отвечает на запросы
// «кто находится в радиусе R от точки P».
package geo

import "math"

// EarthRadiusMeters задаёт средний радиус Земли (IUGG).
const EarthRadiusMeters = 6371008.8

// Point задаёт точку WGS-84 в градусах.
type Point struct {
	Lat float64
	Lon float64
}

// Box описывает прямоугольник в градусах, который покрывает круг поиска.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains сообщает, попадает ли точка в прямоугольник.
func (b Box) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance возвращает расстояние по большому кругу между точками в метрах (формула гаверсинусов).
func Distance(a, b Point) float64 {
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLat := lat2 - lat1
	dLon := toRad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// BoundingBox строит прямоугольник, содержащий все точки на расстоянии не больше radius от center.
// Если круг касается полюса или пересекает антимеридиан, диапазон долгот расширяется до [-180, 180].
func BoundingBox(center Point, radius float64) Box {
	angular := radius / EarthRadiusMeters
	dLat := toDeg(angular)

	box := Box{
		MinLat: center.Lat - dLat,
		MaxLat: center.Lat + dLat,
		MinLon: -180,
		MaxLon: 180,
	}

	if box.MinLat <= -90 || box.MaxLat >= 90 || angular >= math.Pi/2 {
		box.MinLat = math.Max(box.MinLat, -90)
		box.MaxLat = math.Min(box.MaxLat, 90)
		return box
	}

	dLon := toDeg(math.Asin(math.Sin(angular) / math.Cos(toRad(center.Lat))))
	minLon, maxLon := center.Lon-dLon, center.Lon+dLon
	if minLon < -180 || maxLon > 180 {
		return box
	}

	box.MinLon, box.MaxLon = minLon, maxLon
	return box
}

// Destination возвращает точку на расстоянии distance метров от start по азимуту bearing (градусы).
func Destination(start Point, bearing, distance float64) Point {
	angular := distance / EarthRadiusMeters
	brg := toRad(bearing)
	lat1, lon1 := toRad(start.Lat), toRad(start.Lon)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) + math.Cos(lat1)*math.Sin(angular)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2),
	)

	lon := math.Mod(toDeg(lon2)+540, 360) - 180
	return Point{Lat: toDeg(lat2), Lon: lon}
}
