package model

import "time"

// LevelCycle is how long a member stays on each tenure level.
const LevelCycle = 30 * 24 * time.Hour

var levelNames = []string{
	"Starter", "Neofita", "Apprendista", "Discepolo", "Adepto",
	"Veterano", "Saggio", "Anziano", "Guardiano", "Oracolo",
	"Arcano", "Illuminato", "Trascendente", "Celestiale", "Etereo",
	"Cosmico", "Primordiale", "Assoluto", "Infinito", "Il Nulla",
}

// TenureLevel is the member's progression derived from the join date.
type TenureLevel struct {
	Index         int
	Name          string
	DaysRemaining int // 0 at the last level
	Max           bool
}

func LevelFor(joinedAt, now time.Time) TenureLevel {
	elapsed := now.Sub(joinedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	days := int(elapsed / (24 * time.Hour))
	cycleDays := int(LevelCycle / (24 * time.Hour))

	idx := days / cycleDays
	last := len(levelNames) - 1
	if idx >= last {
		return TenureLevel{Index: last, Name: levelNames[last], Max: true}
	}
	return TenureLevel{
		Index:         idx,
		Name:          levelNames[idx],
		DaysRemaining: cycleDays - days%cycleDays,
	}
}
