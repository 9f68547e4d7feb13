package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// FromMillis converts an exchange millisecond timestamp to UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NextRun returns the next time a job repeating every `every` should fire
// after now. With align set the run lands on a multiple of every counted
// from the unix epoch, so an hourly job fires at the top of the hour.
func NextRun(now time.Time, every time.Duration, align bool) time.Time {
	if every <= 0 {
		return now
	}
	if !align {
		return now.Add(every)
	}
	next := now.Truncate(every)
	if !next.After(now) {
		next = next.Add(every)
	}
	return next
}

// LoadLocation resolves a timezone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatOffset renders t in loc as "2006-01-02 15:04:05 UTC+4".
func FormatOffset(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	_, offset := local.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	label := "UTC" + sign + strconv.Itoa(offset/3600)
	if m := offset % 3600 / 60; m != 0 {
		label += ":" + strconv.Itoa(m)
	}
	return local.Format("2006-01-02 15:04:05") + " " + label
}
