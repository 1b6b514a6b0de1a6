// Package pricing computes reservation totals. It never touches storage.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"innkeep/internal/domain"
)

// RateFunc returns the price of one night starting on day.
type RateFunc func(room domain.Room, day time.Time) decimal.Decimal

// FlatRate charges the room's nightly rate every night.
func FlatRate(room domain.Room, _ time.Time) decimal.Decimal {
	return room.NightlyRate
}

type Calculator struct {
	Rate RateFunc
}

func New(rate RateFunc) Calculator {
	return Calculator{Rate: rate}
}

// Price sums the per-night rate over every night of rng.
// guestCount is accepted for per-guest pricing rules; the flat model ignores it.
func (c Calculator) Price(room domain.Room, rng domain.DateRange, guestCount int) (decimal.Decimal, error) {
	nights := rng.Nights()
	if nights <= 0 {
		return decimal.Zero, domain.InvalidRangeError{CheckIn: domain.FormatDate(rng.CheckIn), CheckOut: domain.FormatDate(rng.CheckOut)}
	}
	if guestCount <= 0 {
		return decimal.Zero, domain.ValidationError{Field: "guest_count", Reason: "must be positive"}
	}
	rate := c.Rate
	if rate == nil {
		rate = FlatRate
	}
	total := decimal.Zero
	for day := rng.CheckIn; day.Before(rng.CheckOut); day = day.AddDate(0, 0, 1) {
		total = total.Add(rate(room, day))
	}
	return total, nil
}

// Season multiplies the nightly rate between two month-day bounds, inclusive.
// A season whose From is after To wraps the new year.
type Season struct {
	Name       string
	From       MonthDay
	To         MonthDay
	Multiplier decimal.Decimal
}

type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay parses "MM-DD".
func ParseMonthDay(s string) (MonthDay, error) {
	t, err := time.Parse("01-02", s)
	if err != nil {
		return MonthDay{}, fmt.Errorf("invalid month-day %q, want MM-DD", s)
	}
	return MonthDay{Month: t.Month(), Day: t.Day()}, nil
}

func (m MonthDay) ord() int { return int(m.Month)*100 + m.Day }

func (s Season) covers(day time.Time) bool {
	d := MonthDay{Month: day.Month(), Day: day.Day()}.ord()
	from, to := s.From.ord(), s.To.ord()
	if from <= to {
		return d >= from && d <= to
	}
	return d >= from || d <= to
}

// SeasonalRates applies the first matching season's multiplier to the room's rate.
func SeasonalRates(seasons []Season) RateFunc {
	return func(room domain.Room, day time.Time) decimal.Decimal {
		for _, s := range seasons {
			if s.covers(day) {
				return room.NightlyRate.Mul(s.Multiplier)
			}
		}
		return room.NightlyRate
	}
}
