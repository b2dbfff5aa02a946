package eventlog

import (
	"math/rand/v2"
	"time"

	"github.com/jazware/engagement-report/pkg/metrics"
)

// GenerateOptions shapes a synthetic event log.
type GenerateOptions struct {
	// End is the last day with events.
	End   time.Time
	Days  int
	Users int
	Seed  uint64
}

var otherCities = []string{"Tver", "Minsk"}

// Generate builds a reproducible synthetic log for local runs: a stable user
// base with daily churn, feed views and likes, and messages. A share of users
// lives outside the configured cities and country.
func Generate(opts GenerateOptions) *Log {
	if opts.Days <= 0 {
		opts.Days = 35
	}
	if opts.Users <= 0 {
		opts.Users = 500
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	end := dayOf(opts.End)
	start := end.AddDate(0, 0, -(opts.Days - 1))

	type profile struct {
		city, country string
		activity      float64
		messenger     bool
	}
	users := make([]profile, opts.Users)
	for i := range users {
		p := profile{
			city:      metrics.DefaultCities[rng.IntN(len(metrics.DefaultCities))],
			country:   metrics.DefaultCountry,
			activity:  0.2 + 0.7*rng.Float64(),
			messenger: rng.IntN(3) > 0,
		}
		if rng.IntN(10) == 0 {
			p.city = otherCities[rng.IntN(len(otherCities))]
			p.country = "Belarus"
		}
		users[i] = p
	}

	var events []Event
	for d := 0; d < opts.Days; d++ {
		day := start.AddDate(0, 0, d)
		// The user base grows over the window.
		active := opts.Users/2 + (opts.Users/2)*d/opts.Days
		for id := 0; id < active; id++ {
			u := users[id]
			if rng.Float64() > u.activity {
				continue
			}
			base := Event{UserID: uint64(id + 1), City: u.city, Country: u.country}

			for range 1 + rng.IntN(8) {
				ev := base
				ev.Surface = metrics.Feed
				ev.Time = day.Add(time.Duration(rng.IntN(24*60*60)) * time.Second)
				ev.Action = ActionView
				if rng.IntN(5) == 0 {
					ev.Action = ActionLike
				}
				events = append(events, ev)
			}

			if u.messenger && rng.IntN(2) == 0 {
				for range 1 + rng.IntN(4) {
					ev := base
					ev.Surface = metrics.Messaging
					ev.Time = day.Add(time.Duration(rng.IntN(24*60*60)) * time.Second)
					events = append(events, ev)
				}
			}
		}
	}
	return New(events)
}
