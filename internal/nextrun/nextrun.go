// Package nextrun computes when a schedule entry is due next.
//
// A recurring entry advances from its previous due time by whole periods,
// enough of them to land after "now": an agent that was stalled for several
// periods schedules one catch-up run instead of one run per missed period.
// Failed one-time entries advance by the global retry step. A task-level retry
// override wins over both on failure. The result is finally moved forward to
// the first day allowed by the entry's calendar lists.
package nextrun

import "time"

// Input describes the entry being rescheduled.
type Input struct {
	// Previous is the due time the entry was claimed for.
	Previous  time.Time
	Now       time.Time
	Frequency int // seconds, 0 for one-time
	Weekdays  []int
	Monthdays []int
	Success   bool
	// RetryAfter is the task's failure override in seconds, 0 for none.
	RetryAfter int
	// OneTimeRetry is the global step for one-time entries.
	OneTimeRetry time.Duration
}

// Next returns the new due time for in.
func Next(in Input) time.Time {
	var next time.Time
	if !in.Success && in.RetryAfter > 0 {
		next = in.Previous.Add(time.Duration(in.RetryAfter) * time.Second)
	} else {
		next = advance(in.Previous, in.Now, step(in))
	}
	return NextQualifying(next, in.Weekdays, in.Monthdays)
}

func step(in Input) time.Duration {
	if in.Frequency > 0 {
		return time.Duration(in.Frequency) * time.Second
	}
	if in.OneTimeRetry > 0 {
		return in.OneTimeRetry
	}
	return time.Hour
}

// advance moves prev forward by max(ceil(elapsed/step), 1) steps.
func advance(prev, now time.Time, step time.Duration) time.Time {
	elapsed := now.Sub(prev)
	periods := int64(1)
	if elapsed > 0 {
		periods = int64(elapsed / step)
		if elapsed%step != 0 {
			periods++
		}
		if periods < 1 {
			periods = 1
		}
	}
	return prev.Add(time.Duration(periods) * step)
}
