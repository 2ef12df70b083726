// Package sessiongate answers whether order placement is permitted at a given
// exchange timestamp. The policy is a pure function of minute-of-day: closed
// before the day session, closed during clearing windows, and closed within
// one bar length of the calendar end of day.
package sessiongate

import "time"

// MSK is the Moscow exchange time zone (UTC+3).
var MSK = time.FixedZone("MSK", 3*3600)

// Mode selects the venue clearing schedule.
type Mode int

const (
	// Primary is the production venue: intraday clearing 14:00-14:05 and
	// evening clearing 18:45-19:00.
	Primary Mode = iota
	// Secondary is the test venue, which runs a shifted schedule with two
	// extra clearing windows.
	Secondary
)

// Session landmarks in minutes of day, exchange time.
const (
	SessionOpen = 600  // 10:00
	CalendarEnd = 1430 // 23:50
	LastEntry   = 1420 // 23:40, latest minute entry orders may be placed
)

// clearing windows [from, to) per mode, minutes of day
var (
	primaryWindows = [][2]int{
		{840, 845},   // intraday clearing
		{1125, 1140}, // evening clearing
	}
	secondaryWindows = [][2]int{
		{700, 740},   // intraday clearing
		{840, 845},   // primary-schedule analog, kept on the test venue too
		{870, 930},   // day clearing
		{1125, 1140}, // evening clearing
	}
)

// MinuteOfDay returns hour*60+minute of t in exchange time.
func MinuteOfDay(t time.Time) int {
	msk := t.In(MSK)
	return msk.Hour()*60 + msk.Minute()
}

// Permitted reports whether orders may be placed at exchange time t for a
// strategy working barMinutes bars in the given venue mode.
func Permitted(t time.Time, barMinutes int, mode Mode) bool {
	return PermittedAt(MinuteOfDay(t), barMinutes, mode)
}

// PermittedAt is Permitted over an already-computed minute of day.
func PermittedAt(minute, barMinutes int, mode Mode) bool {
	if minute < SessionOpen {
		return false
	}
	windows := primaryWindows
	if mode == Secondary {
		windows = secondaryWindows
	}
	for _, w := range windows {
		if minute >= w[0] && minute < w[1] {
			return false
		}
	}
	// no entries within one bar of the calendar end of day
	return minute < CalendarEnd-barMinutes
}

// PreBarSecond returns the wall-clock second treated as the last second of the
// minute when timing the pre-bar event. The two minutes directly before a
// clearing window use second 57 instead of 59 so that clock skew against the
// exchange cannot push the firing into the clearing halt.
func PreBarSecond(minute int) int {
	if minute == 839 || minute == 1124 {
		return 57
	}
	return 59
}

// IsTradingDay reports whether t falls on a weekday in exchange time.
func IsTradingDay(t time.Time) bool {
	wd := t.In(MSK).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
