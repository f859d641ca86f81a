package main

import "math"

// districtBounds holds approximate bounding boxes for each seeded district,
// keyed by (name, city). The lookup is advisory only: it suggests a likely
// district at join time and never overrides the user's explicit choice.
type districtBox struct {
	Name   string
	City   string
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Rough rectangles around each district's core area. Precision does not
// matter much here; the fallback below catches near misses.
var districtBounds = []districtBox{
	{"Bostandyk", "Almaty", 43.17, 43.24, 76.86, 76.95},
	{"Medeu", "Almaty", 43.13, 43.26, 76.95, 77.08},
	{"Almaly", "Almaty", 43.24, 43.28, 76.89, 76.96},
	{"Auezov", "Almaty", 43.20, 43.26, 76.80, 76.89},
	{"Alatau", "Almaty", 43.28, 43.38, 76.80, 76.92},
	{"Turksib", "Almaty", 43.28, 43.40, 76.92, 77.02},
	{"Zhetysu", "Almaty", 43.26, 43.32, 76.86, 76.94},
	{"Nauryzbay", "Almaty", 43.16, 43.22, 76.75, 76.86},
	{"Esil", "Astana", 51.08, 51.15, 71.38, 71.48},
	{"Saryarka", "Astana", 51.15, 51.22, 71.35, 71.44},
	{"Baikonur", "Astana", 51.15, 51.23, 71.44, 71.54},
}

// fallbackThreshold is the maximum Euclidean distance, in degrees, for the
// nearest-center fallback when no rectangle contains the point.
const fallbackThreshold = 0.5

// suggestDistrict maps coordinates to a district: exact point-in-rectangle
// first, then nearest rectangle center within the threshold. Returns nil
// when the point is too far from anything known.
func suggestDistrict(lat, lon float64) *districtBox {
	for i := range districtBounds {
		b := &districtBounds[i]
		if lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon {
			return b
		}
	}

	var nearest *districtBox
	best := fallbackThreshold
	for i := range districtBounds {
		b := &districtBounds[i]
		cLat := (b.MinLat + b.MaxLat) / 2
		cLon := (b.MinLon + b.MaxLon) / 2
		d := math.Hypot(lat-cLat, lon-cLon)
		if d < best {
			best = d
			nearest = b
		}
	}
	return nearest
}
