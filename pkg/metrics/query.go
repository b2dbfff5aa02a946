package metrics

import (
	"strings"
	"time"
)

// Surface is a product surface whose events live in one table.
type Surface string

const (
	Feed      Surface = "feed"
	Messaging Surface = "messaging"
	// Both means users active on the feed and in messaging within the same bucket.
	Both Surface = "both"
)

// Table returns the event table backing a single surface.
func (s Surface) Table() string {
	switch s {
	case Feed:
		return "feed_actions"
	case Messaging:
		return "message_actions"
	default:
		return ""
	}
}

// Kind groups queries that share an aggregation shape.
type Kind int

const (
	KindHourly Kind = iota
	KindCityDAU
	KindFeedEngagement
	KindMessagingEngagement
	KindDailyBoth
	KindCohort
)

// Fixed lookback windows.
const (
	HourlyLookback     = 47 * time.Hour
	CityLookbackDays   = 7
	DailyLookbackDays  = 27
	OverlayHours       = 24
	OverlayDays        = 14
	CohortWeekStartDay = time.Monday
)

var (
	DefaultCities  = []string{"Moscow", "Saint Petersburg", "Yekaterinburg", "Novosibirsk", "Rostov"}
	DefaultCountry = "Russia"
)

// Query is a named aggregation with a fixed SQL template.
// Values are bound through named parameters, never spliced into the text.
type Query struct {
	Name    string
	Kind    Kind
	Surface Surface
	// Dimensioned queries return a city column next to the bucket.
	Dimensioned bool
	// Columns lists the measures in declared order.
	Columns []string
	SQL     string
}

// Params are the only inputs of a query run.
type Params struct {
	// ReportDate is the day being reported on (UTC midnight).
	ReportDate time.Time
	// ExecutedAt anchors the hourly window; binding it keeps reruns reproducible.
	ExecutedAt time.Time
	Cities     []string
	Country    string
}

// NewParams normalises the report date to a UTC day and fills the default city restriction.
func NewParams(reportDate, executedAt time.Time, cities []string, country string) Params {
	d := reportDate.UTC()
	if len(cities) == 0 {
		cities = DefaultCities
	}
	if country == "" {
		country = DefaultCountry
	}
	return Params{
		ReportDate: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		ExecutedAt: executedAt.UTC().Truncate(time.Second),
		Cities:     append([]string(nil), cities...),
		Country:    country,
	}
}

// Bindings returns the named parameter values referenced as @name in the SQL.
func (p Params) Bindings() map[string]any {
	return map[string]any{
		"report_date": p.ReportDate,
		"executed_at": p.ExecutedAt,
		"cities":      p.Cities,
		"country":     p.Country,
	}
}

// HourlyWindow returns the first and last hour bucket of the hourly queries.
func (p Params) HourlyWindow() (time.Time, time.Time) {
	end := p.ExecutedAt.Truncate(time.Hour)
	return end.Add(-HourlyLookback), end
}

// DayWindow returns the first and last day of a trailing window of lookback days before the report date.
func (p Params) DayWindow(lookback int) (time.Time, time.Time) {
	return p.ReportDate.AddDate(0, 0, -lookback), p.ReportDate
}

var (
	HourlyBoth      = hourly(Both)
	HourlyFeed      = hourly(Feed)
	HourlyMessaging = hourly(Messaging)

	CityFeed      = cityDAU(Feed)
	CityMessaging = cityDAU(Messaging)

	FeedEngagement = Query{
		Name:    "feed_engagement",
		Kind:    KindFeedEngagement,
		Surface: Feed,
		Columns: []string{ColDAU, ColAvgLikes, ColAvgViews},
		SQL:     feedEngagementSQL,
	}

	MessagingEngagement = Query{
		Name:    "messaging_engagement",
		Kind:    KindMessagingEngagement,
		Surface: Messaging,
		Columns: []string{ColDAU, ColMessages},
		SQL:     messagingEngagementSQL,
	}

	DailyBoth = Query{
		Name:    "daily_both",
		Kind:    KindDailyBoth,
		Surface: Both,
		Columns: []string{ColDAU},
		SQL:     dailyBothSQL,
	}

	CohortFeed      = cohort(Feed)
	CohortMessaging = cohort(Messaging)
)

// Catalog returns the fixed metric query set. No query depends on another.
func Catalog() []Query {
	return []Query{
		HourlyBoth, HourlyFeed, HourlyMessaging,
		CityFeed, CityMessaging,
		FeedEngagement, MessagingEngagement,
		DailyBoth,
		CohortFeed, CohortMessaging,
	}
}

func hourly(s Surface) Query {
	q := Query{
		Name:    "hourly_" + string(s),
		Kind:    KindHourly,
		Surface: s,
		Columns: []string{ColUsers},
	}
	if s == Both {
		q.SQL = hourlyBothSQL
	} else {
		q.SQL = forTable(hourlySQL, s)
	}
	return q
}

func cityDAU(s Surface) Query {
	return Query{
		Name:        "city_dau_" + string(s),
		Kind:        KindCityDAU,
		Surface:     s,
		Dimensioned: true,
		Columns:     []string{ColDAU},
		SQL:         forTable(cityDAUSQL, s),
	}
}

func cohort(s Surface) Query {
	return Query{
		Name:    "cohort_" + string(s),
		Kind:    KindCohort,
		Surface: s,
		Columns: []string{ColNewUsers, ColRetained, ColGoneUsers},
		SQL:     forTable(cohortSQL, s),
	}
}

// forTable fills the table placeholder from the closed Surface set.
func forTable(tmpl string, s Surface) string {
	return strings.ReplaceAll(tmpl, "{table}", s.Table())
}
