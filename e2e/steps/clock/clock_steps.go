package clock

import (
	"context"
	"fmt"
	"net/url"
	"time"
	_ "time/tzdata"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
}

// Demo site seeded by the server with SEED_DEMO=true.
const (
	siteZone = "America/New_York"
	siteLat  = 40.7128
	siteLon  = -74.0060
)

// RegisterSteps registers clock-in, clock-out and reporting steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &clockSteps{tc: tc}

	ctx.Step(`^the shift date is weekday (\d+) of this month$`, steps.shiftDateIsWeekday)
	ctx.Step(`^the shift date is the first Saturday of this month$`, steps.shiftDateIsFirstSaturday)
	ctx.Step(`^student "([^"]*)" clocks in at site "([^"]*)" at "([^"]*)" from the site$`, steps.clockInAtSite)
	ctx.Step(`^student "([^"]*)" clocks in at site "([^"]*)" at "([^"]*)" from ([-\d.]+), ([-\d.]+)$`, steps.clockInFrom)
	ctx.Step(`^student "([^"]*)" clocks out at "([^"]*)" from the site$`, steps.clockOutAtSite)
	ctx.Step(`^I request the report for student "([^"]*)" on the shift date$`, steps.requestReport)
	ctx.Step(`^I request eligibility for student "([^"]*)" at site "([^"]*)"$`, steps.requestEligibility)
}

type clockSteps struct {
	tc   TestContext
	date time.Time
}

func zone() (*time.Location, error) {
	return time.LoadLocation(siteZone)
}

func (s *clockSteps) shiftDateIsWeekday(ctx context.Context, n int) error {
	loc, err := zone()
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	for seen := 0; day.Month() == now.Month(); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		if seen++; seen == n {
			s.date = day
			return nil
		}
	}
	return fmt.Errorf("this month has fewer than %d weekdays", n)
}

func (s *clockSteps) shiftDateIsFirstSaturday(ctx context.Context) error {
	loc, err := zone()
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	for day.Weekday() != time.Saturday {
		day = day.AddDate(0, 0, 1)
	}
	s.date = day
	return nil
}

// at combines the shift date with a local HH:MM.
func (s *clockSteps) at(clock string) (string, error) {
	if s.date.IsZero() {
		return "", fmt.Errorf("shift date not set")
	}
	hm, err := time.Parse("15:04", clock)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", clock, err)
	}
	t := time.Date(s.date.Year(), s.date.Month(), s.date.Day(), hm.Hour(), hm.Minute(), 0, 0, s.date.Location())
	return t.Format(time.RFC3339), nil
}

func (s *clockSteps) clockInAtSite(ctx context.Context, studentID, siteID, clock string) error {
	return s.clockInFrom(ctx, studentID, siteID, clock, siteLat, siteLon)
}

func (s *clockSteps) clockInFrom(ctx context.Context, studentID, siteID, clock string, lat, lon float64) error {
	ts, err := s.at(clock)
	if err != nil {
		return err
	}
	return s.tc.POST("/clock-in", map[string]interface{}{
		"studentId":  studentID,
		"siteId":     siteID,
		"timestamp":  ts,
		"coordinate": map[string]float64{"lat": lat, "lon": lon},
		"accuracy":   10,
		"source":     "e2e",
	})
}

func (s *clockSteps) clockOutAtSite(ctx context.Context, studentID, clock string) error {
	ts, err := s.at(clock)
	if err != nil {
		return err
	}
	return s.tc.POST("/clock-out", map[string]interface{}{
		"studentId":  studentID,
		"timestamp":  ts,
		"coordinate": map[string]float64{"lat": siteLat, "lon": siteLon},
	})
}

func (s *clockSteps) requestReport(ctx context.Context, studentID string) error {
	day := s.date.Format(time.DateOnly)
	q := url.Values{"studentId": {studentID}, "from": {day}, "to": {day}}
	return s.tc.GET("/report?"+q.Encode(), nil)
}

func (s *clockSteps) requestEligibility(ctx context.Context, studentID, siteID string) error {
	q := url.Values{"studentId": {studentID}, "siteId": {siteID}}
	return s.tc.GET("/eligibility?"+q.Encode(), nil)
}
