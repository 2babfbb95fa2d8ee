package period

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestCurrent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		when time.Time
		want string
	}{
		{day(2026, time.October, 14), "2026-27"},
		{day(2026, time.April, 1), "2026-27"},
		{day(2026, time.March, 31), "2025-26"},
		{day(2099, time.December, 1), "2099-00"},
	}
	for _, tt := range tests {
		if got := Current(tt.when); got != tt.want {
			t.Errorf("Current(%s) = %q, want %q", tt.when.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	if start, err := Parse("2023-24"); err != nil || start != 2023 {
		t.Errorf("Parse(2023-24) = %d, %v; want 2023, nil", start, err)
	}
	for _, bad := range []string{"", "2023", "2023-25", "23-24", "abcd-ef", "2023-2024", "+202-03", "2023-+4", " 202-03"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidFiscalYear) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidFiscalYear", bad, err)
		}
	}
}

func TestAllowed_PastYearHasTwelveInOrder(t *testing.T) {
	t.Parallel()
	today := day(2026, time.October, 14)
	for _, fy := range []string{"2017-18", "2023-24", "2025-26"} {
		got, err := Allowed(fy, today)
		if err != nil {
			t.Fatalf("Allowed(%s): %v", fy, err)
		}
		if !slices.Equal(got, Months) {
			t.Errorf("Allowed(%s) = %v, want all months in order", fy, got)
		}
	}
}

func TestAllowed_CurrentYearCountsElapsedPlusOne(t *testing.T) {
	t.Parallel()
	for m := time.January; m <= time.December; m++ {
		today := day(2026, m, 10)
		fy := Current(today)
		got, err := Allowed(fy, today)
		if err != nil {
			t.Fatalf("Allowed(%s): %v", fy, err)
		}
		want := Index(m) + 1
		if len(got) != want {
			t.Errorf("month %s: len = %d, want %d", m, len(got), want)
		}
		if got[0] != "April" || got[len(got)-1] != m.String() {
			t.Errorf("month %s: got %v", m, got)
		}
	}
}

func TestAllowed_FutureYearIsEmpty(t *testing.T) {
	t.Parallel()
	got, err := Allowed("2030-31", day(2026, time.October, 14))
	if err != nil {
		t.Fatalf("Allowed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Allowed(future) = %#v, want empty non-nil slice", got)
	}
}

func TestAllowed_ReturnsCopy(t *testing.T) {
	t.Parallel()
	got, _ := Allowed("2020-21", day(2026, time.October, 14))
	got[0] = "mutated"
	if Months[0] != "April" {
		t.Fatal("Allowed leaked the package Months slice")
	}
}

func TestQuarter_TotalWithFourValues(t *testing.T) {
	t.Parallel()
	seen := map[string]int{}
	for _, m := range Months {
		seen[Quarter(m)]++
	}
	if len(seen) != 4 {
		t.Fatalf("distinct quarters = %v, want 4", seen)
	}
	for q, n := range seen {
		if n != 3 {
			t.Errorf("%s has %d months, want 3", q, n)
		}
	}

	tests := map[string]string{
		"April":     "Quarter 1",
		"june":      "Quarter 1",
		" July ":    "Quarter 2",
		"September": "Quarter 2",
		"December":  "Quarter 3",
		"January":   "Quarter 4",
		"March":     "Quarter 4",
		"Smarch":    "Quarter 4",
	}
	for in, want := range tests {
		if got := Quarter(in); got != want {
			t.Errorf("Quarter(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeAndValid(t *testing.T) {
	t.Parallel()
	if got := Normalize("  jULY "); got != "July" {
		t.Errorf("Normalize = %q, want July", got)
	}
	if Normalize("") != "" {
		t.Error("Normalize(\"\") should be empty")
	}
	if !Valid("january") || Valid("Smarch") {
		t.Error("Valid mismatch")
	}
}

func TestYearsSince(t *testing.T) {
	t.Parallel()
	got := YearsSince(day(2026, time.October, 14))
	if got[0] != "2017-18" || got[len(got)-1] != "2026-27" || len(got) != 10 {
		t.Errorf("YearsSince = %v", got)
	}
}
