package application

import "math"

var (
	sinTable [360]float64
	cosTable [360]float64
	tanTable [45]float64
)

func init() {
	for deg := range sinTable {
		rad := float64(deg) * math.Pi / 180
		sinTable[deg] = math.Sin(rad)
		cosTable[deg] = math.Cos(rad)
	}
	for deg := range tanTable {
		tanTable[deg] = math.Tan(float64(deg) * math.Pi / 180)
	}
}

// floorMod is the non-negative remainder, so negative sensor ids still
// index the tables.
func floorMod(x, m int64) int64 {
	r := x % m
	if r < 0 {
		r += m
	}
	return r
}
