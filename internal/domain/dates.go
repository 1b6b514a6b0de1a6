package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used in storage and on the wire.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return t, nil
}

// FormatDate renders the calendar part of t.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day truncates t to its calendar date in loc, returned as midnight UTC.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateRange is the half-open interval [CheckIn, CheckOut) of calendar dates.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// NewDateRange normalizes both ends to calendar dates and requires CheckIn < CheckOut.
func NewDateRange(checkIn, checkOut time.Time) (DateRange, error) {
	r := DateRange{CheckIn: Day(checkIn, nil), CheckOut: Day(checkOut, nil)}
	if !r.CheckIn.Before(r.CheckOut) {
		return DateRange{}, InvalidRangeError{CheckIn: FormatDate(r.CheckIn), CheckOut: FormatDate(r.CheckOut)}
	}
	return r, nil
}

// ParseDateRange builds a range from two YYYY-MM-DD strings.
func ParseDateRange(checkIn, checkOut string) (DateRange, error) {
	in, err := ParseDate(checkIn)
	if err != nil {
		return DateRange{}, err
	}
	out, err := ParseDate(checkOut)
	if err != nil {
		return DateRange{}, err
	}
	return NewDateRange(in, out)
}

// MustRange panics on an invalid range. Intended for tests and literals.
func MustRange(checkIn, checkOut string) DateRange {
	r, err := ParseDateRange(checkIn, checkOut)
	if err != nil {
		panic(err)
	}
	return r
}

// Nights is the number of whole days between check-in and check-out.
func (r DateRange) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Overlaps uses half-open semantics: a check-out on day D does not overlap a check-in on day D.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.CheckIn.Before(o.CheckOut) && o.CheckIn.Before(r.CheckOut)
}

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	return !day.Before(r.CheckIn) && day.Before(r.CheckOut)
}

func (r DateRange) IsZero() bool {
	return r.CheckIn.IsZero() && r.CheckOut.IsZero()
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s)", FormatDate(r.CheckIn), FormatDate(r.CheckOut))
}

type dateRangeJSON struct {
	CheckIn  string `json:"check_in"`
	CheckOut string `json:"check_out"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{CheckIn: FormatDate(r.CheckIn), CheckOut: FormatDate(r.CheckOut)})
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDateRange(raw.CheckIn, raw.CheckOut)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
