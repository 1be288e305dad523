package domain

import (
	"fmt"
	"math"
	"time"
)

// Epoch1985 is the reference epoch of altimetry track timestamps.
var Epoch1985 = time.Date(1985, time.January, 1, 0, 0, 0, 0, time.UTC)

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month int // 1-12.
	Day   int // 1-31.
}

// DateOf returns the calendar date of t in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Year: y, Month: int(m), Day: d}
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// IsLeap reports whether year is a leap year. Years up to 1582 follow the
// Julian calendar.
func IsLeap(year int) bool {
	if year > 1582 {
		return year%4 == 0 && year%100 != 0 || year%400 == 0
	}
	return year%4 == 0
}

// monthLengths returns a fresh month-length table for year.
func monthLengths(year int) [12]int {
	months := [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	if IsLeap(year) {
		months[1] = 29
	}
	return months
}

// DaysInMonth returns the number of days of month (1-12) in year.
func DaysInMonth(year, month int) int {
	if month < 1 || month > 12 {
		return 0
	}
	return monthLengths(year)[month-1]
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if IsLeap(year) {
		return 366
	}
	return 365
}

// DayOfYear returns the 1-based day number of d within its year.
func DayOfYear(d Date) int {
	months := monthLengths(d.Year)
	day := 0
	for i := 0; i < d.Month-1 && i < len(months); i++ {
		day += months[i]
	}
	return day + d.Day
}

// DateFromDayOfYear is the inverse of DayOfYear.
func DateFromDayOfYear(year, doy int) (Date, error) {
	if doy < 1 || doy > DaysInYear(year) {
		return Date{}, fmt.Errorf("day of year %d outside [1, %d] for %d: %w", doy, DaysInYear(year), year, ErrRange)
	}
	months := monthLengths(year)
	month := 0
	for doy > months[month] {
		doy -= months[month]
		month++
	}
	return Date{Year: year, Month: month + 1, Day: doy}, nil
}

// NextDay returns the day after d, rolling over months and years.
func NextDay(d Date) Date {
	if DayOfYear(d) >= DaysInYear(d.Year) {
		return Date{Year: d.Year + 1, Month: 1, Day: 1}
	}
	if d.Day >= DaysInMonth(d.Year, d.Month) {
		return Date{Year: d.Year, Month: d.Month + 1, Day: 1}
	}
	return Date{Year: d.Year, Month: d.Month, Day: d.Day + 1}
}

// maxSeconds1985 keeps conversions inside the range of time.Duration.
const maxSeconds1985 = float64(math.MaxInt64/int64(time.Second)) - 1

// FromSeconds1985 converts seconds since 1985-01-01T00:00:00Z to a time.
// Non-finite or out-of-range input returns ErrRange.
func FromSeconds1985(sec float64) (time.Time, error) {
	if math.IsNaN(sec) || math.Abs(sec) > maxSeconds1985 {
		return time.Time{}, fmt.Errorf("%v seconds since 1985: %w", sec, ErrRange)
	}
	whole, frac := math.Modf(sec)
	return Epoch1985.Add(time.Duration(whole)*time.Second + time.Duration(frac*float64(time.Second))), nil
}

// ToSeconds1985 converts t to seconds since 1985-01-01T00:00:00Z.
func ToSeconds1985(t time.Time) float64 {
	return t.Sub(Epoch1985).Seconds()
}

// MinuteOfDay returns the minutes elapsed since midnight UTC.
func MinuteOfDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*60 + t.Minute()
}
