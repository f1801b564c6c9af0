package chat

import (
	"fmt"
	"time"
)

// Date formats accepted by FormatDate.
const (
	DateDayMonthName = "DD-MM-YYYY" // "05 Mar 2024"
	DateMonthDayYear = "MM/DD/YYYY"
	DateDayMonthYear = "DD/MM/YYYY"
	DateISO          = "YYYY-MM-DD"

	DefaultDateFormat = DateDayMonthName
)

var monthNames = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// ValidDateFormat reports whether format is one FormatDate understands.
// The empty string selects DefaultDateFormat.
func ValidDateFormat(format string) error {
	switch format {
	case "", DateDayMonthName, DateMonthDayYear, DateDayMonthYear, DateISO:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidFormat, format)
}

// FormatTime renders ts as "hh:mm AM" on a 12-hour clock. A pending
// timestamp renders as "".
func FormatTime(ts *Timestamp, loc *time.Location) string {
	if ts == nil {
		return ""
	}
	t := ts.Time().In(locOrLocal(loc))
	hours := t.Hour()
	ampm := "AM"
	if hours >= 12 {
		ampm = "PM"
	}
	hours %= 12
	if hours == 0 {
		hours = 12
	}
	return fmt.Sprintf("%02d:%02d %s", hours, t.Minute(), ampm)
}

// FormatDate renders ts in one of the supported date formats. A pending
// timestamp renders as "" for any valid format.
func FormatDate(ts *Timestamp, format string, loc *time.Location) (string, error) {
	if err := ValidDateFormat(format); err != nil {
		return "", err
	}
	if ts == nil {
		return "", nil
	}
	t := ts.Time().In(locOrLocal(loc))
	return formatDate(t.Day(), int(t.Month()), t.Year(), format), nil
}

func formatDate(day, month, year int, format string) string {
	switch format {
	case DateMonthDayYear:
		return fmt.Sprintf("%02d/%02d/%d", month, day, year)
	case DateDayMonthYear:
		return fmt.Sprintf("%02d/%02d/%d", day, month, year)
	case DateISO:
		return fmt.Sprintf("%d-%02d-%02d", year, month, day)
	default:
		return fmt.Sprintf("%02d %s %d", day, monthNames[month-1], year)
	}
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
