package eventlog

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jazware/engagement-report/pkg/metrics"
)

type userSet map[uint64]struct{}

func (s userSet) add(id uint64) { s[id] = struct{}{} }

// intersect counts users present in both sets.
func (s userSet) intersect(other userSet) int {
	n := 0
	for id := range s {
		if _, ok := other[id]; ok {
			n++
		}
	}
	return n
}

// Query evaluates one catalog query with the same windows and grouping as its SQL.
func (l *Log) Query(ctx context.Context, q metrics.Query, p metrics.Params) (*metrics.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []metrics.Row
	switch q.Kind {
	case metrics.KindHourly:
		rows = l.hourly(q.Surface, p)
	case metrics.KindCityDAU:
		rows = l.cityDAU(q.Surface, p)
	case metrics.KindFeedEngagement:
		rows = l.feedEngagement(p)
	case metrics.KindMessagingEngagement:
		rows = l.messagingEngagement(p)
	case metrics.KindDailyBoth:
		rows = l.dailyBoth(p)
	case metrics.KindCohort:
		rows = l.cohort(q.Surface, p)
	default:
		return nil, fmt.Errorf("query %s has unsupported kind %d", q.Name, q.Kind)
	}

	return &metrics.Table{
		Query:   q.Name,
		Columns: slices.Clone(q.Columns),
		Rows:    rows,
	}, nil
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mondayOf(t time.Time) time.Time {
	d := dayOf(t)
	offset := (int(d.Weekday()) - int(metrics.CohortWeekStartDay) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// bucketed groups the distinct users of one surface by bucket for events accepted by keep.
func (l *Log) bucketed(s metrics.Surface, bucket func(time.Time) time.Time, keep func(Event) bool) map[time.Time]userSet {
	out := map[time.Time]userSet{}
	for _, ev := range l.events {
		if ev.Surface != s || !keep(ev) {
			continue
		}
		b := bucket(ev.Time)
		if out[b] == nil {
			out[b] = userSet{}
		}
		out[b].add(ev.UserID)
	}
	return out
}

// countRows turns per-bucket user sets into ascending single-measure rows.
func countRows(column string, buckets map[time.Time]userSet, count func(time.Time, userSet) int) []metrics.Row {
	keys := make([]time.Time, 0, len(buckets))
	for b := range buckets {
		keys = append(keys, b)
	}
	slices.SortFunc(keys, func(a, b time.Time) int { return a.Compare(b) })

	var rows []metrics.Row
	for _, b := range keys {
		n := count(b, buckets[b])
		if n == 0 {
			continue
		}
		rows = append(rows, metrics.Row{Bucket: b, Values: map[string]float64{column: float64(n)}})
	}
	return rows
}

func (l *Log) hourly(s metrics.Surface, p metrics.Params) []metrics.Row {
	start, _ := p.HourlyWindow()
	inWindow := func(ev Event) bool {
		return !ev.Time.Before(start) && !ev.Time.After(p.ExecutedAt)
	}
	hour := func(t time.Time) time.Time { return t.Truncate(time.Hour) }

	if s != metrics.Both {
		return countRows(metrics.ColUsers, l.bucketed(s, hour, inWindow), func(_ time.Time, u userSet) int { return len(u) })
	}

	feed := l.bucketed(metrics.Feed, hour, inWindow)
	msg := l.bucketed(metrics.Messaging, hour, inWindow)
	return countRows(metrics.ColUsers, msg, func(b time.Time, u userSet) int { return u.intersect(feed[b]) })
}

func inDays(p metrics.Params, lookback int) func(Event) bool {
	first, last := p.DayWindow(lookback)
	return func(ev Event) bool {
		d := dayOf(ev.Time)
		return !d.Before(first) && !d.After(last)
	}
}

func (l *Log) cityDAU(s metrics.Surface, p metrics.Params) []metrics.Row {
	inWindow := inDays(p, metrics.CityLookbackDays)

	type key struct {
		day  time.Time
		city string
	}
	groups := map[key]userSet{}
	for _, ev := range l.events {
		if ev.Surface != s || !inWindow(ev) || ev.Country != p.Country || !slices.Contains(p.Cities, ev.City) {
			continue
		}
		k := key{dayOf(ev.Time), ev.City}
		if groups[k] == nil {
			groups[k] = userSet{}
		}
		groups[k].add(ev.UserID)
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b key) int {
		if c := a.day.Compare(b.day); c != 0 {
			return c
		}
		switch {
		case a.city < b.city:
			return -1
		case a.city > b.city:
			return 1
		}
		return 0
	})

	rows := make([]metrics.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, metrics.Row{
			Bucket:    k.day,
			Dimension: k.city,
			Values:    map[string]float64{metrics.ColDAU: float64(len(groups[k]))},
		})
	}
	return rows
}

func (l *Log) feedEngagement(p metrics.Params) []metrics.Row {
	inWindow := inDays(p, metrics.DailyLookbackDays)

	type counts struct{ likes, views int }
	perDay := map[time.Time]map[uint64]*counts{}
	for _, ev := range l.events {
		if ev.Surface != metrics.Feed || !inWindow(ev) {
			continue
		}
		d := dayOf(ev.Time)
		if perDay[d] == nil {
			perDay[d] = map[uint64]*counts{}
		}
		c := perDay[d][ev.UserID]
		if c == nil {
			c = &counts{}
			perDay[d][ev.UserID] = c
		}
		switch ev.Action {
		case ActionLike:
			c.likes++
		case ActionView:
			c.views++
		}
	}

	days := sortedKeys(perDay)
	rows := make([]metrics.Row, 0, len(days))
	for _, d := range days {
		users := perDay[d]
		var likes, views int
		for _, c := range users {
			likes += c.likes
			views += c.views
		}
		n := float64(len(users))
		rows = append(rows, metrics.Row{
			Bucket: d,
			Values: map[string]float64{
				metrics.ColDAU:      n,
				metrics.ColAvgLikes: float64(likes) / n,
				metrics.ColAvgViews: float64(views) / n,
			},
		})
	}
	return rows
}

func (l *Log) messagingEngagement(p metrics.Params) []metrics.Row {
	inWindow := inDays(p, metrics.DailyLookbackDays)

	users := map[time.Time]userSet{}
	messages := map[time.Time]int{}
	for _, ev := range l.events {
		if ev.Surface != metrics.Messaging || !inWindow(ev) {
			continue
		}
		d := dayOf(ev.Time)
		if users[d] == nil {
			users[d] = userSet{}
		}
		users[d].add(ev.UserID)
		messages[d]++
	}

	days := sortedKeys(users)
	rows := make([]metrics.Row, 0, len(days))
	for _, d := range days {
		rows = append(rows, metrics.Row{
			Bucket: d,
			Values: map[string]float64{
				metrics.ColDAU:      float64(len(users[d])),
				metrics.ColMessages: float64(messages[d]),
			},
		})
	}
	return rows
}

func (l *Log) dailyBoth(p metrics.Params) []metrics.Row {
	inWindow := inDays(p, metrics.DailyLookbackDays)
	feed := l.bucketed(metrics.Feed, dayOf, inWindow)
	msg := l.bucketed(metrics.Messaging, dayOf, inWindow)
	return countRows(metrics.ColDAU, msg, func(d time.Time, u userSet) int { return u.intersect(feed[d]) })
}

// cohort keys every count by the week users arrive in: new and retained
// users at w, and users active at w-1 but not at w as a negative count.
func (l *Log) cohort(s metrics.Surface, p metrics.Params) []metrics.Row {
	reportWeek := mondayOf(p.ReportDate)

	weeks := map[uint64]map[time.Time]bool{}
	for _, ev := range l.events {
		if ev.Surface != s || dayOf(ev.Time).After(p.ReportDate) {
			continue
		}
		if weeks[ev.UserID] == nil {
			weeks[ev.UserID] = map[time.Time]bool{}
		}
		weeks[ev.UserID][mondayOf(ev.Time)] = true
	}

	type counts struct{ arrived, stayed, departed int }
	byWeek := map[time.Time]*counts{}
	at := func(w time.Time) *counts {
		c := byWeek[w]
		if c == nil {
			c = &counts{}
			byWeek[w] = c
		}
		return c
	}

	for _, active := range weeks {
		for w := range active {
			if active[w.AddDate(0, 0, -7)] {
				at(w).stayed++
			} else {
				at(w).arrived++
			}
			if next := w.AddDate(0, 0, 7); !active[next] {
				at(next).departed++
			}
		}
	}

	var rows []metrics.Row
	for _, w := range sortedKeys(byWeek) {
		if w.After(reportWeek) {
			continue
		}
		c := byWeek[w]
		rows = append(rows, metrics.Row{
			Bucket: w,
			Values: map[string]float64{
				metrics.ColNewUsers:  float64(c.arrived),
				metrics.ColRetained:  float64(c.stayed),
				metrics.ColGoneUsers: float64(-c.departed),
			},
		})
	}
	return rows
}

func sortedKeys[V any](m map[time.Time]V) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b time.Time) int { return a.Compare(b) })
	return keys
}
