// Package period handles Indian fiscal-year arithmetic: a fiscal year runs
// April through March and is labelled "YYYY-YY", e.g. "2023-24".
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FirstFiscalYear is the earliest year the portal offers statements for.
const FirstFiscalYear = 2017

// Months lists the periods of a fiscal year in calendar order.
var Months = []string{
	"April", "May", "June", "July", "August", "September",
	"October", "November", "December", "January", "February", "March",
}

var ErrInvalidFiscalYear = errors.New("fiscal year must look like 2023-24")

// Label formats the fiscal year starting in April of startYear.
func Label(startYear int) string {
	return fmt.Sprintf("%d-%02d", startYear, (startYear+1)%100)
}

// StartYear returns the calendar year in which the fiscal year containing t begins.
func StartYear(t time.Time) int {
	if t.Month() >= time.April {
		return t.Year()
	}
	return t.Year() - 1
}

// Current returns the label of the fiscal year containing t.
func Current(t time.Time) string {
	return Label(StartYear(t))
}

// Parse validates a fiscal-year label and returns its start year.
func Parse(fy string) (int, error) {
	head, tail, ok := strings.Cut(strings.TrimSpace(fy), "-")
	if !ok || len(head) != 4 || len(tail) != 2 || !digits(head) || !digits(tail) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFiscalYear, fy)
	}
	start, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFiscalYear, fy)
	}
	end, err := strconv.Atoi(tail)
	if err != nil || end != (start+1)%100 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFiscalYear, fy)
	}
	return start, nil
}

// Allowed returns the periods of fy that can be requested on the given day:
// all twelve for a past fiscal year, April through the current month for the
// running one, and none for a future one.
func Allowed(fy string, today time.Time) ([]string, error) {
	start, err := Parse(fy)
	if err != nil {
		return nil, err
	}
	current := StartYear(today)
	switch {
	case start < current:
		return append([]string(nil), Months...), nil
	case start > current:
		return []string{}, nil
	}
	return append([]string(nil), Months[:Index(today.Month())+1]...), nil
}

// Index returns the position of a calendar month within the fiscal year.
func Index(m time.Month) int {
	if m >= time.April {
		return int(m) - int(time.April)
	}
	return int(m) + 8
}

// Quarter maps a period name to its quarter label. Unknown names fall into
// the last quarter.
func Quarter(month string) string {
	switch Normalize(month) {
	case "April", "May", "June":
		return "Quarter 1"
	case "July", "August", "September":
		return "Quarter 2"
	case "October", "November", "December":
		return "Quarter 3"
	}
	return "Quarter 4"
}

// Normalize trims and capitalizes a month name ("july " -> "July").
func Normalize(month string) string {
	m := strings.ToLower(strings.TrimSpace(month))
	if m == "" {
		return ""
	}
	return strings.ToUpper(m[:1]) + m[1:]
}

// Valid reports whether month names a period.
func Valid(month string) bool {
	n := Normalize(month)
	for _, m := range Months {
		if m == n {
			return true
		}
	}
	return false
}

// YearsSince lists fiscal-year labels from FirstFiscalYear up to the one containing today.
func YearsSince(today time.Time) []string {
	current := StartYear(today)
	var out []string
	for y := FirstFiscalYear; y <= current; y++ {
		out = append(out, Label(y))
	}
	return out
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
