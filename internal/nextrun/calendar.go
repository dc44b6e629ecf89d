package nextrun

import "time"

// searchDays bounds NextQualifying. Eight years covers every weekday/monthday
// combination that can occur at all.
const searchDays = 8 * 366

// ISOWeekday returns the ISO-8601 weekday of t: 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Qualifies reports whether t falls on a day allowed by both sets.
// An empty set allows every day.
func Qualifies(t time.Time, weekdays, monthdays []int) bool {
	return contains(weekdays, ISOWeekday(t)) && contains(monthdays, t.Day())
}

// NextQualifying returns the smallest timestamp >= t whose day satisfies both
// allow-sets, keeping the time of day. It returns t unchanged when both sets
// are empty or when no day within the search horizon qualifies.
func NextQualifying(t time.Time, weekdays, monthdays []int) time.Time {
	if len(weekdays) == 0 && len(monthdays) == 0 {
		return t
	}
	for i := 0; i <= searchDays; i++ {
		c := t.AddDate(0, 0, i)
		if Qualifies(c, weekdays, monthdays) {
			return c
		}
	}
	return t
}

func contains(set []int, v int) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
