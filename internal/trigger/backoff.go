package trigger

import (
	"math"
	"time"

	"github.com/TobiSchelling/followup/internal/database"
)

const maxBackoffFactor = 4.0

// BaseInterval is the check spacing in days for a trigger that has never
// been checked.
func BaseInterval(t database.TriggerType) int {
	switch t {
	case database.TriggerResolution:
		return 1
	case database.TriggerTimeBased:
		return 2
	case database.TriggerScheduled:
		return 3
	}
	return 2
}

// NextInterval returns how many days to wait after the checkCount-th
// unsuccessful check. The spacing grows by half the base interval per check
// and is capped at four times the base.
func NextInterval(t database.TriggerType, checkCount int) int {
	if checkCount < 0 {
		checkCount = 0
	}
	factor := math.Min(maxBackoffFactor, 1+float64(checkCount)*0.5)
	return int(math.Ceil(float64(BaseInterval(t)) * factor))
}

// NextCheckAt is now plus NextInterval days.
func NextCheckAt(now time.Time, t database.TriggerType, checkCount int) time.Time {
	return now.AddDate(0, 0, NextInterval(t, checkCount))
}
