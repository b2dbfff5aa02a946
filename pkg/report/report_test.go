package report

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/jazware/engagement-report/pkg/eventlog"
	"github.com/jazware/engagement-report/pkg/metrics"
)

func series(name, column string, values ...float64) *metrics.Table {
	t := &metrics.Table{Query: name, Columns: []string{column}}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		t.Rows = append(t.Rows, metrics.Row{
			Bucket: start.AddDate(0, 0, i),
			Values: map[string]float64{column: v},
		})
	}
	return t
}

func TestNewDelta(t *testing.T) {
	d, err := NewDelta(series("t", metrics.ColNewUsers, 10, 7), metrics.ColNewUsers)
	if err != nil {
		t.Fatalf("NewDelta: %v", err)
	}
	if d.Change != -3 || d.Direction != Decrease || d.Magnitude != 3 {
		t.Errorf("10 -> 7: got %+v, want change -3, decrease, magnitude 3", d)
	}

	d, err = NewDelta(series("t", metrics.ColNewUsers, 5, 5), metrics.ColNewUsers)
	if err != nil {
		t.Fatalf("NewDelta: %v", err)
	}
	if d.Direction != Increase || d.Magnitude != 0 {
		t.Errorf("5 -> 5: got %+v, want increase, magnitude 0", d)
	}
}

func TestNewDeltaNeedsTwoRows(t *testing.T) {
	_, err := NewDelta(series("cohort_feed", metrics.ColNewUsers, 10), metrics.ColNewUsers)
	var dse *metrics.DataShapeError
	if !errors.As(err, &dse) {
		t.Fatalf("NewDelta: got %v, want *metrics.DataShapeError", err)
	}
	if dse.Query != "cohort_feed" {
		t.Errorf("query: got %s, want cohort_feed", dse.Query)
	}
}

func generatedInputs(t *testing.T) Inputs {
	t.Helper()
	end := time.Date(2024, 4, 7, 0, 0, 0, 0, time.UTC)
	log := eventlog.Generate(eventlog.GenerateOptions{End: end, Days: 35, Users: 150, Seed: 3})
	p := metrics.NewParams(end, end.AddDate(0, 0, 1).Add(11*time.Hour), nil, "")

	tables := map[string]*metrics.Table{}
	for _, q := range metrics.Catalog() {
		tbl, err := metrics.Compute(context.Background(), log, q, p)
		if err != nil {
			t.Fatalf("%s: %v", q.Name, err)
		}
		tables[q.Name] = tbl
	}
	in, err := InputsFrom(tables)
	if err != nil {
		t.Fatalf("InputsFrom: %v", err)
	}
	return in
}

func TestSummarizeRejectsShortTables(t *testing.T) {
	in := generatedInputs(t)
	in.DailyBoth = series(metrics.DailyBoth.Name, metrics.ColDAU, 3)

	_, err := Summarize(in)
	var dse *metrics.DataShapeError
	if !errors.As(err, &dse) {
		t.Fatalf("Summarize: got %v, want *metrics.DataShapeError", err)
	}
	if dse.Query != metrics.DailyBoth.Name || dse.Want != 2 {
		t.Errorf("shape error: got query %s want %d, want query %s want 2", dse.Query, dse.Want, metrics.DailyBoth.Name)
	}
}

func TestInputsFromMissingTable(t *testing.T) {
	if _, err := InputsFrom(map[string]*metrics.Table{}); err == nil {
		t.Fatal("InputsFrom: want error for missing tables")
	}
}

func TestLocaleText(t *testing.T) {
	s := Summary{
		Date:            time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		FeedDAU:         812,
		AvgLikes:        2.3,
		AvgViews:        11,
		FeedNew:         Delta{Latest: 120, Previous: 132, Change: -12, Direction: Decrease, Magnitude: 12},
		MessagingDAU:    240,
		EngagementRatio: 5,
		MessagingNew:    Delta{Latest: 40, Previous: 31, Change: 9, Direction: Increase, Magnitude: 9},
		BothDAU:         97,
	}

	ru, err := LookupLocale("ru")
	if err != nil {
		t.Fatalf("LookupLocale(ru): %v", err)
	}
	text, err := ru.Text(s)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}

	for _, want := range []string{
		"Метрики от 2024-03-10",
		"DAU: 812",
		"Среднее кол-во лайков на пользователя: 2.3",
		"Среднее кол-во просмотров на пользователя: 11.0",
		"Количество новых пользователей на этой неделе: 120, что на 12 меньше по сравнению с прошлой неделей",
		"Вовлеченность пользователей: 5.0",
		"Количество новых пользователей на этой неделе: 40, что на 9 больше по сравнению с прошлой неделей",
		"DAU ленты новостей и мессенджера: 97",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("ru text missing %q", want)
		}
	}

	en, err := LookupLocale("EN")
	if err != nil {
		t.Fatalf("LookupLocale(EN): %v", err)
	}
	text, err = en.Text(s)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if want := "New users this week: 120, 12 fewer than last week"; !strings.Contains(text, want) {
		t.Errorf("en text missing %q", want)
	}

	if _, err := LookupLocale("de"); err == nil {
		t.Error("LookupLocale(de): want error")
	}
}

func TestAssemble(t *testing.T) {
	in := generatedInputs(t)

	a := NewAssembler(WithDPI(60))
	r, err := a.Assemble(in)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if want := time.Date(2024, 4, 7, 0, 0, 0, 0, time.UTC); !r.Date.Equal(want) {
		t.Errorf("date: got %v, want %v", r.Date, want)
	}
	if r.Filename != "Дашборд.png" {
		t.Errorf("filename: got %s, want Дашборд.png", r.Filename)
	}
	if !strings.HasPrefix(r.Text, "Метрики от 2024-04-07") {
		t.Errorf("text: got %q", r.Text)
	}

	dau, err := in.FeedEngagement.Last(metrics.ColDAU)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if r.Summary.FeedDAU != dau {
		t.Errorf("feed DAU: got %v, want %v", r.Summary.FeedDAU, dau)
	}

	if len(r.Image) == 0 {
		t.Fatal("image is empty")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(r.Image))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 9*60 || cfg.Height != 12*60 {
		t.Errorf("image size: got %dx%d, want %dx%d", cfg.Width, cfg.Height, 9*60, 12*60)
	}
}

func TestAssembleFailsOnShortTable(t *testing.T) {
	in := generatedInputs(t)
	in.CohortMessaging = series(metrics.CohortMessaging.Name, metrics.ColNewUsers, 1)

	_, err := NewAssembler().Assemble(in)
	var dse *metrics.DataShapeError
	if !errors.As(err, &dse) {
		t.Fatalf("Assemble: got %v, want *metrics.DataShapeError", err)
	}
}

func TestAssembleFilenameFollowsLocale(t *testing.T) {
	in := generatedInputs(t)
	for _, tt := range []struct{ locale, want string }{
		{"ru", "Дашборд.png"},
		{"en", "dashboard.png"},
	} {
		l, err := LookupLocale(tt.locale)
		if err != nil {
			t.Fatalf("LookupLocale(%s): %v", tt.locale, err)
		}
		r, err := NewAssembler(WithLocale(l), WithDPI(40)).Assemble(in)
		if err != nil {
			t.Fatalf("Assemble(%s): %v", tt.locale, err)
		}
		if r.Filename != tt.want {
			t.Errorf("%s filename: got %s, want %s", tt.locale, r.Filename, tt.want)
		}
	}
}
