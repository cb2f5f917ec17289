package kstock

import "math"

// TickSize returns the KRX tick size for the given price band.
// Prices are integer KRW.
func TickSize(price int64) int64 {
	switch {
	case price < 2_000:
		return 1
	case price < 5_000:
		return 5
	case price < 20_000:
		return 10
	case price < 50_000:
		return 50
	case price < 200_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1_000
	}
}

// RoundDownToTick snaps price down to the nearest legal tick.
func RoundDownToTick(price int64) int64 {
	tick := TickSize(price)
	return price / tick * tick
}

// TickUp returns price moved up by one tick of its own band.
func TickUp(price int64) int64 {
	return price + TickSize(price)
}

// TickDown returns price moved down by one tick, never below one tick.
func TickDown(price int64) int64 {
	tick := TickSize(price)
	if price-tick < tick {
		return tick
	}
	return price - tick
}

// ValidTickPrice reports whether price sits on a legal tick boundary.
func ValidTickPrice(price int64) bool {
	return price > 0 && price%TickSize(price) == 0
}

// Round2 rounds to two decimal places, used for percentage fields.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
