package eventlog

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jazware/engagement-report/pkg/metrics"
)

// 2024-03-04 is a Monday.
var week1 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func feed(user uint64, at time.Time, action string) Event {
	return Event{UserID: user, Time: at, Surface: metrics.Feed, Action: action, City: "Moscow", Country: "Russia"}
}

func msg(user uint64, at time.Time) Event {
	return Event{UserID: user, Time: at, Surface: metrics.Messaging, City: "Moscow", Country: "Russia"}
}

func values(t *testing.T, tbl *metrics.Table, col string) []float64 {
	t.Helper()
	out, err := tbl.Column(col)
	if err != nil {
		t.Fatalf("Column(%s): %v", col, err)
	}
	return out
}

func query(t *testing.T, log *Log, q metrics.Query, p metrics.Params) *metrics.Table {
	t.Helper()
	tbl, err := log.Query(context.Background(), q, p)
	if err != nil {
		t.Fatalf("%s: %v", q.Name, err)
	}
	return tbl
}

func TestHourlyWindow(t *testing.T) {
	executedAt := time.Date(2024, 3, 12, 11, 20, 0, 0, time.UTC)
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	log := New([]Event{
		feed(1, start.Add(-time.Minute), ActionView),
		feed(1, start, ActionView),
		feed(2, start.Add(10*time.Minute), ActionLike),
		feed(2, start.Add(20*time.Minute), ActionView),
		feed(3, executedAt.Add(-time.Minute), ActionView),
		feed(4, executedAt.Add(time.Minute), ActionView),
	})
	p := metrics.NewParams(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), executedAt, nil, "")

	tbl := query(t, log, metrics.HourlyFeed, p)
	if tbl.Len() != 2 {
		t.Fatalf("rows: got %d, want 2", tbl.Len())
	}
	wantBuckets := []time.Time{start, time.Date(2024, 3, 12, 11, 0, 0, 0, time.UTC)}
	if diff := cmp.Diff(wantBuckets, tbl.Buckets()); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{2, 1}, values(t, tbl, metrics.ColUsers)); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}

	first, last := p.HourlyWindow()
	for _, b := range tbl.Buckets() {
		if b.Before(first) || b.After(last) {
			t.Errorf("bucket %v outside window [%v, %v]", b, first, last)
		}
	}
}

func TestHourlyBothIntersectsWithinHour(t *testing.T) {
	executedAt := time.Date(2024, 3, 12, 11, 0, 0, 0, time.UTC)
	h := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)

	log := New([]Event{
		feed(1, h.Add(5*time.Minute), ActionView),
		msg(1, h.Add(50*time.Minute)),
		feed(2, h.Add(5*time.Minute), ActionView),
		msg(2, h.Add(70*time.Minute)),
		msg(3, h.Add(time.Minute)),
	})
	p := metrics.NewParams(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), executedAt, nil, "")

	tbl := query(t, log, metrics.HourlyBoth, p)
	if tbl.Len() != 1 {
		t.Fatalf("rows: got %d, want 1", tbl.Len())
	}
	if !tbl.Rows[0].Bucket.Equal(h) {
		t.Errorf("bucket: got %v, want %v", tbl.Rows[0].Bucket, h)
	}
	if got := tbl.Rows[0].Values[metrics.ColUsers]; got != 1 {
		t.Errorf("users: got %v, want 1", got)
	}
}

func TestCityRestriction(t *testing.T) {
	d := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	log := New([]Event{
		{UserID: 1, Time: d, Surface: metrics.Feed, Action: ActionView, City: "Moscow", Country: "Russia"},
		{UserID: 2, Time: d, Surface: metrics.Feed, Action: ActionView, City: "Rostov", Country: "Russia"},
		{UserID: 3, Time: d, Surface: metrics.Feed, Action: ActionView, City: "Tver", Country: "Russia"},
		{UserID: 4, Time: d, Surface: metrics.Feed, Action: ActionView, City: "Moscow", Country: "Kazakhstan"},
		{UserID: 5, Time: d.AddDate(0, 0, -8), Surface: metrics.Feed, Action: ActionView, City: "Moscow", Country: "Russia"},
		{UserID: 6, Time: d.AddDate(0, 0, -7), Surface: metrics.Feed, Action: ActionView, City: "Moscow", Country: "Russia"},
	})
	p := metrics.NewParams(d, d.AddDate(0, 0, 1), nil, "")

	tbl, err := metrics.Compute(context.Background(), log, metrics.CityFeed, p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	for _, r := range tbl.Rows {
		if !slices.Contains(metrics.DefaultCities, r.Dimension) {
			t.Errorf("unexpected city %q", r.Dimension)
		}
	}
	if diff := cmp.Diff([]string{"Moscow", "Rostov"}, tbl.Dimensions()); diff != "" {
		t.Errorf("cities mismatch (-want +got):\n%s", diff)
	}
	if tbl.Len() != 3 {
		t.Fatalf("rows: got %d, want 3", tbl.Len())
	}
	if want := d.AddDate(0, 0, -7).Truncate(24 * time.Hour); !tbl.Rows[0].Bucket.Equal(want) {
		t.Errorf("first bucket: got %v, want %v", tbl.Rows[0].Bucket, want)
	}
	if diff := cmp.Diff([]float64{1, 1, 1}, values(t, tbl, metrics.ColDAU)); diff != "" {
		t.Errorf("dau mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedEngagementAverages(t *testing.T) {
	d := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	log := New([]Event{
		feed(1, d, ActionLike),
		feed(1, d.Add(time.Minute), ActionLike),
		feed(1, d.Add(2*time.Minute), ActionView),
		feed(2, d, ActionView),
		feed(2, d.Add(time.Hour), ActionView),
		feed(2, d.Add(2*time.Hour), ActionView),
	})
	p := metrics.NewParams(d, d.AddDate(0, 0, 1), nil, "")

	tbl := query(t, log, metrics.FeedEngagement, p)
	if tbl.Len() != 1 {
		t.Fatalf("rows: got %d, want 1", tbl.Len())
	}
	want := map[string]float64{
		metrics.ColDAU:      2,
		metrics.ColAvgLikes: 1,
		metrics.ColAvgViews: 2,
	}
	if diff := cmp.Diff(want, tbl.Rows[0].Values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagingEngagementRatio(t *testing.T) {
	d := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	var events []Event
	for user := uint64(1); user <= 4; user++ {
		for i := range 5 {
			events = append(events, msg(user, d.Add(time.Duration(i)*time.Minute)))
		}
	}
	p := metrics.NewParams(d, d.AddDate(0, 0, 1), nil, "")

	tbl, err := metrics.Compute(context.Background(), New(events), metrics.MessagingEngagement, p)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	er, err := tbl.Last(metrics.ColER)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if er != 5 {
		t.Errorf("engagement ratio: got %v, want 5", er)
	}
}

func TestCohortDecomposition(t *testing.T) {
	week2 := week1.AddDate(0, 0, 7)
	week3 := week1.AddDate(0, 0, 14)

	log := New([]Event{
		feed(1, week1.Add(time.Hour), ActionView),
		feed(1, week2.Add(30*time.Hour), ActionView),
		feed(2, week2.Add(time.Hour), ActionView),
		feed(3, week1.Add(50*time.Hour), ActionLike),
		feed(3, week1.Add(51*time.Hour), ActionView),
	})
	p := metrics.NewParams(week3.AddDate(0, 0, 2), week3.AddDate(0, 0, 3), nil, "")

	tbl := query(t, log, metrics.CohortFeed, p)

	want := []metrics.Row{
		{Bucket: week1, Values: map[string]float64{metrics.ColNewUsers: 2, metrics.ColRetained: 0, metrics.ColGoneUsers: 0}},
		{Bucket: week2, Values: map[string]float64{metrics.ColNewUsers: 1, metrics.ColRetained: 1, metrics.ColGoneUsers: -1}},
		{Bucket: week3, Values: map[string]float64{metrics.ColNewUsers: 0, metrics.ColRetained: 0, metrics.ColGoneUsers: -2}},
	}
	if diff := cmp.Diff(want, tbl.Rows); diff != "" {
		t.Errorf("cohort mismatch (-want +got):\n%s", diff)
	}
}

func TestCohortConsistency(t *testing.T) {
	end := week1.AddDate(0, 0, 34)
	log := Generate(GenerateOptions{End: end, Days: 35, Users: 200, Seed: 7})
	p := metrics.NewParams(end, end.AddDate(0, 0, 1), nil, "")

	tbl := query(t, log, metrics.CohortFeed, p)

	wau := map[time.Time]userSet{}
	for ev := range log.All() {
		if ev.Surface != metrics.Feed {
			continue
		}
		w := mondayOf(ev.Time)
		if wau[w] == nil {
			wau[w] = userSet{}
		}
		wau[w].add(ev.UserID)
	}

	for _, r := range tbl.Rows {
		w := r.Bucket
		if w.Weekday() != time.Monday {
			t.Errorf("bucket %v: got %s, want Monday", w, w.Weekday())
		}
		newUsers, retained, gone := r.Values[metrics.ColNewUsers], r.Values[metrics.ColRetained], r.Values[metrics.ColGoneUsers]
		if got, want := newUsers+retained, float64(len(wau[w])); got != want {
			t.Errorf("WAU at %v: got %v, want %v", w, got, want)
		}
		if got, want := retained-gone, float64(len(wau[w.AddDate(0, 0, -7)])); got != want {
			t.Errorf("WAU before %v: got %v, want %v", w, got, want)
		}
		if gone > 0 {
			t.Errorf("gone users at %v: got %v, want <= 0", w, gone)
		}
	}
}

func TestQueryIsIdempotent(t *testing.T) {
	end := week1.AddDate(0, 0, 34)
	log := Generate(GenerateOptions{End: end, Days: 35, Users: 150, Seed: 42})
	p := metrics.NewParams(end, end.AddDate(0, 0, 1).Add(11*time.Hour), nil, "")

	var buf bytes.Buffer
	if err := log.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	reloaded, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reloaded.Len() != log.Len() {
		t.Fatalf("reloaded events: got %d, want %d", reloaded.Len(), log.Len())
	}

	for _, q := range metrics.Catalog() {
		a, err := metrics.Compute(context.Background(), log, q, p)
		if err != nil {
			t.Fatalf("%s: %v", q.Name, err)
		}
		b, err := metrics.Compute(context.Background(), reloaded, q, p)
		if err != nil {
			t.Fatalf("%s reloaded: %v", q.Name, err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("%s differs between runs (-first +second):\n%s", q.Name, diff)
		}
		if a.Len() < 2 {
			t.Errorf("%s: got %d rows, want at least 2", q.Name, a.Len())
		}
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	end := week1.AddDate(0, 0, 20)
	a := Generate(GenerateOptions{End: end, Days: 21, Users: 50, Seed: 1})
	b := Generate(GenerateOptions{End: end, Days: 21, Users: 50, Seed: 1})
	if a.Len() == 0 || a.Len() != b.Len() {
		t.Fatalf("events: got %d and %d", a.Len(), b.Len())
	}
	if !slices.Equal(slices.Collect(a.All()), slices.Collect(b.All())) {
		t.Errorf("same seed produced different logs")
	}
}

func TestAllIsTimeOrdered(t *testing.T) {
	d := time.Date(2024, 3, 10, 12, 0, 0, 0, time.FixedZone("MSK", 3*60*60))
	log := New([]Event{feed(2, d.Add(time.Hour), ActionView), msg(1, d)})

	got := slices.Collect(log.All())
	if len(got) != 2 {
		t.Fatalf("events: got %d, want 2", len(got))
	}
	if got[0].UserID != 1 || got[1].UserID != 2 {
		t.Errorf("order: got users %d, %d, want 1, 2", got[0].UserID, got[1].UserID)
	}
	if got[0].Time.Location() != time.UTC {
		t.Errorf("location: got %v, want UTC", got[0].Time.Location())
	}
}

func TestReadRejectsUnknownSurface(t *testing.T) {
	_, err := Read(bytes.NewBufferString(`{"user_id":1,"time":"2024-03-10T10:00:00Z","surface":"stories","city":"Moscow","country":"Russia"}` + "\n"))
	if err == nil {
		t.Fatal("Read: want error for unknown surface")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("error: got %v, want line number", err)
	}
}
