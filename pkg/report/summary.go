package report

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jazware/engagement-report/pkg/metrics"
)

type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

// Delta compares the two most recent periods of a series.
type Delta struct {
	Latest    float64
	Previous  float64
	Change    float64
	Direction Direction
	Magnitude float64
}

// NewDelta reads the last two rows of a column. A zero change counts as an increase.
func NewDelta(t *metrics.Table, column string) (Delta, error) {
	latest, err := t.FromEnd(column, 0)
	if err != nil {
		return Delta{}, err
	}
	previous, err := t.FromEnd(column, 1)
	if err != nil {
		return Delta{}, err
	}

	d := Delta{Latest: latest, Previous: previous, Change: latest - previous, Direction: Increase}
	if d.Change < 0 {
		d.Direction = Decrease
	}
	d.Magnitude = math.Abs(d.Change)
	return d, nil
}

// Inputs are the metric tables of one run, one per catalog query.
type Inputs struct {
	HourlyBoth          *metrics.Table
	HourlyFeed          *metrics.Table
	HourlyMessaging     *metrics.Table
	CityFeed            *metrics.Table
	CityMessaging       *metrics.Table
	FeedEngagement      *metrics.Table
	MessagingEngagement *metrics.Table
	DailyBoth           *metrics.Table
	CohortFeed          *metrics.Table
	CohortMessaging     *metrics.Table
}

// InputsFrom binds tables keyed by query name.
func InputsFrom(tables map[string]*metrics.Table) (Inputs, error) {
	in := Inputs{}
	for _, b := range in.bindings() {
		t, ok := tables[b.query.Name]
		if !ok || t == nil {
			return Inputs{}, fmt.Errorf("missing table for query %s", b.query.Name)
		}
		*b.table = t
	}
	return in, nil
}

type binding struct {
	query metrics.Query
	table **metrics.Table
}

func (in *Inputs) bindings() []binding {
	return []binding{
		{metrics.HourlyBoth, &in.HourlyBoth},
		{metrics.HourlyFeed, &in.HourlyFeed},
		{metrics.HourlyMessaging, &in.HourlyMessaging},
		{metrics.CityFeed, &in.CityFeed},
		{metrics.CityMessaging, &in.CityMessaging},
		{metrics.FeedEngagement, &in.FeedEngagement},
		{metrics.MessagingEngagement, &in.MessagingEngagement},
		{metrics.DailyBoth, &in.DailyBoth},
		{metrics.CohortFeed, &in.CohortFeed},
		{metrics.CohortMessaging, &in.CohortMessaging},
	}
}

// Summary holds the scalar figures of the text report.
type Summary struct {
	Date            time.Time
	FeedDAU         float64
	AvgLikes        float64
	AvgViews        float64
	FeedNew         Delta
	MessagingDAU    float64
	EngagementRatio float64
	MessagingNew    Delta
	BothDAU         float64
}

// Summarize derives the scalar figures. Every table needs at least two rows.
func Summarize(in Inputs) (Summary, error) {
	for _, b := range in.bindings() {
		t := *b.table
		if t.Len() < 2 {
			return Summary{}, &metrics.DataShapeError{Query: b.query.Name, Want: 2, Got: t.Len()}
		}
	}

	var (
		s    Summary
		errs []error
	)
	last := func(t *metrics.Table, col string) float64 {
		v, err := t.Last(col)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	s.Date = in.FeedEngagement.Rows[in.FeedEngagement.Len()-1].Bucket
	s.FeedDAU = last(in.FeedEngagement, metrics.ColDAU)
	s.AvgLikes = round1(last(in.FeedEngagement, metrics.ColAvgLikes))
	s.AvgViews = round1(last(in.FeedEngagement, metrics.ColAvgViews))
	s.MessagingDAU = last(in.MessagingEngagement, metrics.ColDAU)
	s.EngagementRatio = round1(last(in.MessagingEngagement, metrics.ColER))
	s.BothDAU = last(in.DailyBoth, metrics.ColDAU)
	if err := errors.Join(errs...); err != nil {
		return Summary{}, err
	}

	var err error
	if s.FeedNew, err = NewDelta(in.CohortFeed, metrics.ColNewUsers); err != nil {
		return Summary{}, err
	}
	if s.MessagingNew, err = NewDelta(in.CohortMessaging, metrics.ColNewUsers); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
