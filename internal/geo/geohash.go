package geo

import "strings"

// DefaultGeohashPrecision yields cells of roughly 150 m, enough to tell
// neighbouring venues apart on a map without exposing exact coordinates.
const DefaultGeohashPrecision = 7

// base32 is the geohash alphabet.
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Geohash encodes p as a geohash string of the given length. Bits alternate
// longitude first; a precision below 1 falls back to DefaultGeohashPrecision.
func Geohash(p Point, precision int) string {
	if precision < 1 {
		precision = DefaultGeohashPrecision
	}

	lonRange := [2]float64{-180.0, 180.0}
	latRange := [2]float64{-90.0, 90.0}

	var sb strings.Builder
	sb.Grow(precision)

	bit := 0
	var ch byte
	even := true
	for sb.Len() < precision {
		rng, v := &latRange, p.Lat
		if even {
			rng, v = &lonRange, p.Lon
		}
		mid := (rng[0] + rng[1]) / 2
		if v > mid {
			ch |= 1 << (4 - bit)
			rng[0] = mid
		} else {
			rng[1] = mid
		}

		even = !even
		bit++
		if bit == 5 {
			sb.WriteByte(base32[ch])
			bit = 0
			ch = 0
		}
	}

	return sb.String()
}
