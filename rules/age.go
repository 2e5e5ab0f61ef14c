package rules

import "time"

// AgeFromBirth returns whole years of age from a birth year and optional month
// (1-12). An unknown month counts as January. ok is false for an unusable year.
func AgeFromBirth(year int, month *int, now time.Time) (age int, ok bool) {
	if year <= 0 || year > now.Year() {
		return 0, false
	}
	m := 1
	if month != nil && *month >= 1 && *month <= 12 {
		m = *month
	}

	age = now.Year() - year
	if int(now.Month()) < m {
		age--
	}
	if age < 0 {
		return 0, false
	}
	return age, true
}
