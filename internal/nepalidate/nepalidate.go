// Package nepalidate converts between Gregorian (AD) dates and Bikram Sambat
// (BS) dates as printed on Nepali invoices.
package nepalidate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrOutOfRange = errors.New("date outside supported calendar range")

// Day 1 of the first supported BS year.
var (
	anchorBS = Date{Year: 2070, Month: 1, Day: 1}
	anchorAD = time.Date(2013, time.April, 14, 0, 0, 0, 0, time.UTC)
)

// Month lengths per BS year, from 2070 onward. BS month lengths are
// published by the calendar committee and cannot be derived.
var monthDays = [][12]int{
	{31, 31, 31, 32, 31, 31, 29, 30, 30, 29, 30, 30}, // 2070
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30}, // 2071
	{31, 32, 31, 32, 31, 30, 30, 29, 30, 29, 30, 30}, // 2072
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 29, 30, 31}, // 2073
	{31, 31, 31, 32, 31, 31, 30, 29, 30, 29, 30, 30}, // 2074
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30}, // 2075
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 29, 30, 30}, // 2076
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 30, 29, 31}, // 2077
	{31, 31, 31, 32, 31, 31, 30, 29, 30, 29, 30, 30}, // 2078
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30}, // 2079
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 29, 30, 30}, // 2080
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 30, 29, 31}, // 2081
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30}, // 2082
	{31, 31, 32, 31, 31, 30, 30, 30, 29, 30, 30, 30}, // 2083
	{31, 31, 32, 31, 31, 30, 30, 30, 29, 30, 30, 30}, // 2084
	{31, 32, 31, 32, 30, 31, 30, 30, 29, 30, 30, 30}, // 2085
}

// Date is a Bikram Sambat calendar date.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// MinYear and MaxYear bound the supported BS years.
func MinYear() int { return anchorBS.Year }
func MaxYear() int { return anchorBS.Year + len(monthDays) - 1 }

// DaysInMonth returns the length of a BS month.
func DaysInMonth(year, month int) (int, error) {
	if year < MinYear() || year > MaxYear() {
		return 0, fmt.Errorf("%w: year %d", ErrOutOfRange, year)
	}
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("invalid month %d", month)
	}
	return monthDays[year-anchorBS.Year][month-1], nil
}

// Validate reports whether d names a real day in the table.
func (d Date) Validate() error {
	days, err := DaysInMonth(d.Year, d.Month)
	if err != nil {
		return err
	}
	if d.Day < 1 || d.Day > days {
		return fmt.Errorf("invalid day %d for %04d-%02d", d.Day, d.Year, d.Month)
	}
	return nil
}

// ToAD returns the Gregorian date (UTC midnight) for d.
func (d Date) ToAD() (time.Time, error) {
	if err := d.Validate(); err != nil {
		return time.Time{}, err
	}
	offset := 0
	for y := anchorBS.Year; y < d.Year; y++ {
		offset += yearLength(y)
	}
	row := monthDays[d.Year-anchorBS.Year]
	for m := 0; m < d.Month-1; m++ {
		offset += row[m]
	}
	offset += d.Day - 1
	return anchorAD.AddDate(0, 0, offset), nil
}

// FromAD converts the calendar day of t to BS. The time-of-day and location
// of t are ignored; only its year, month and day are used.
func FromAD(t time.Time) (Date, error) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := int(day.Sub(anchorAD).Hours() / 24)
	if offset < 0 {
		return Date{}, fmt.Errorf("%w: %s", ErrOutOfRange, day.Format(time.DateOnly))
	}
	for i, row := range monthDays {
		year := anchorBS.Year + i
		if offset >= yearLength(year) {
			offset -= yearLength(year)
			continue
		}
		for m, days := range row {
			if offset < days {
				return Date{Year: year, Month: m + 1, Day: offset + 1}, nil
			}
			offset -= days
		}
	}
	return Date{}, fmt.Errorf("%w: %s", ErrOutOfRange, day.Format(time.DateOnly))
}

// Today is FromAD for the current day in loc.
func Today(now time.Time, loc *time.Location) (Date, error) {
	if loc == nil {
		loc = time.UTC
	}
	return FromAD(now.In(loc))
}

func yearLength(year int) int {
	total := 0
	for _, days := range monthDays[year-anchorBS.Year] {
		total += days
	}
	return total
}

// ParseError is returned for manually entered dates that do not parse or
// do not exist in the calendar.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid nepali date %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads "YYYY-MM-DD" or "YYYY/MM/DD" and checks the day exists.
func Parse(input string) (Date, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Date{}, &ParseError{Input: input, Reason: "date is required"}
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '-' || r == '/' })
	if len(parts) != 3 {
		return Date{}, &ParseError{Input: input, Reason: "expected YYYY-MM-DD"}
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Date{}, &ParseError{Input: input, Reason: "expected YYYY-MM-DD", Err: err}
		}
		nums[i] = n
	}
	d := Date{Year: nums[0], Month: nums[1], Day: nums[2]}
	if err := d.Validate(); err != nil {
		return Date{}, &ParseError{Input: input, Reason: err.Error(), Err: err}
	}
	return d, nil
}
