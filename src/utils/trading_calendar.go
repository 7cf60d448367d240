package utils

import (
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers "is this a trading day" for the exchange the
// index tracks, using scmhub/calendar (ISO 10383 MIC codes). When the MIC
// is unknown it falls back to a plain Mon-Fri check.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// GetCalendar loads the trading calendar for a MIC code (e.g. "xnys",
// "xidx"). An unresolvable MIC yields the weekday fallback.
func GetCalendar(mic string) *TradingCalendar {
	if mic == "" {
		mic = "xnys"
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		cal = calendar.GetCalendar("xnys")
	}

	if cal == nil {
		log.Printf("WARNING: Failed to load calendar for MIC '%s' and fallback 'xnys'. Using simple Mon-Fri fallback.", mic)
		return &TradingCalendar{Fallback: true, Timezone: time.UTC}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		return IsWeekday(date)
	}
	// Library handles IsHoliday / IsBusinessDay
	return tc.Calendar.IsBusinessDay(date)
}
