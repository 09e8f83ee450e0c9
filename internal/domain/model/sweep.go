package model

import "time"

// SweepResult reports what one expiry sweep reclaimed.
type SweepResult struct {
	ExpiredCount        int
	FreedNumbers        []int
	DeletedReservations int
	RanAt               time.Time
}
