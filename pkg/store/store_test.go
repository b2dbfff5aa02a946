package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jazware/engagement-report/pkg/config"
	"github.com/jazware/engagement-report/pkg/eventlog"
	"github.com/jazware/engagement-report/pkg/metrics"
)

func TestNamedArgsSorted(t *testing.T) {
	p := metrics.NewParams(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 11, 11, 0, 0, 0, time.UTC), nil, "")
	args := namedArgs(p.Bindings())

	want := []string{"cities", "country", "executed_at", "report_date"}
	if len(args) != len(want) {
		t.Fatalf("args: got %d, want %d", len(args), len(want))
	}
	for i, arg := range args {
		named, ok := arg.(driver.NamedValue)
		if !ok {
			t.Fatalf("arg %d: got %T, want driver.NamedValue", i, arg)
		}
		if named.Name != want[i] {
			t.Errorf("arg %d: got %s, want %s", i, named.Name, want[i])
		}
	}
}

func TestAsFloat(t *testing.T) {
	u := uint64(42)
	var nilFloat *float64
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"uint64", uint64(7), 7, true},
		{"int64 negative", int64(-3), -3, true},
		{"float64", 2.5, 2.5, true},
		{"pointer", &u, 42, true},
		{"string", "x", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := asFloat(reflect.ValueOf(tt.in))
			if ok != tt.ok || got != tt.want {
				t.Errorf("asFloat(%v): got (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}

	got, ok := asFloat(reflect.ValueOf(nilFloat))
	if !ok || !math.IsNaN(got) {
		t.Errorf("asFloat(nil): got (%v, %v), want (NaN, true)", got, ok)
	}
}

func TestAsTimeNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	in := time.Date(2024, 3, 10, 14, 0, 0, 0, loc)

	got, ok := asTime(reflect.ValueOf(in))
	if !ok {
		t.Fatal("asTime: not a time")
	}
	if got.Location() != time.UTC || !got.Equal(in) {
		t.Errorf("asTime: got %v, want %v in UTC", got, in)
	}
}

func TestClassify(t *testing.T) {
	syntax := &clickhouse.Exception{Code: 62, Name: "DB::Exception", Message: "Syntax error"}
	auth := &clickhouse.Exception{Code: 516, Name: "DB::Exception", Message: "Authentication failed"}

	var qe *QueryError
	if err := classify("hourly_feed", "db:9000", fmt.Errorf("wrapped: %w", syntax)); !errors.As(err, &qe) {
		t.Fatalf("syntax error: got %T, want *QueryError", err)
	}
	if qe.Code != 62 || qe.Query != "hourly_feed" {
		t.Errorf("QueryError: got code %d query %s", qe.Code, qe.Query)
	}

	var ce *ConnectionError
	if err := classify("hourly_feed", "db:9000", auth); !errors.As(err, &ce) {
		t.Fatalf("auth error: got %T, want *ConnectionError", err)
	}
	if err := classify("hourly_feed", "db:9000", errors.New("connection reset by peer")); !errors.As(err, &ce) {
		t.Fatalf("network error: got %T, want *ConnectionError", err)
	}
	if err := classify("hourly_feed", "db:9000", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled: got %v, want context.Canceled", err)
	}
	if err := classify("hourly_feed", "db:9000", nil); err != nil {
		t.Fatalf("nil: got %v", err)
	}
}

func TestResultLabel(t *testing.T) {
	if got := resultLabel(nil); got != "success" {
		t.Errorf("nil: got %s", got)
	}
	if got := resultLabel(&QueryError{}); got != "query_error" {
		t.Errorf("QueryError: got %s", got)
	}
	if got := resultLabel(&ConnectionError{}); got != "connection_error" {
		t.Errorf("ConnectionError: got %s", got)
	}
}

func TestNewUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := New(ctx, config.ClickHouse{
		Address:     "127.0.0.1:1",
		Database:    "default",
		DialTimeout: 200 * time.Millisecond,
	})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("New: got %v, want *ConnectionError", err)
	}
	if ce.Address != "127.0.0.1:1" {
		t.Errorf("Address: got %s", ce.Address)
	}
}

// TestQueryIntegration loads a generated event log into a scratch database on
// the server named by CLICKHOUSE_TEST_ADDRESS and checks every catalog query
// against the in-memory evaluation of the same log.
func TestQueryIntegration(t *testing.T) {
	addr := os.Getenv("CLICKHOUSE_TEST_ADDRESS")
	if addr == "" {
		t.Skip("CLICKHOUSE_TEST_ADDRESS not set")
	}
	ctx := context.Background()

	admin, err := New(ctx, config.ClickHouse{Address: addr, Database: "default", Username: "default"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { admin.Close() })

	db := fmt.Sprintf("report_test_%d", time.Now().UnixNano())
	if err := admin.DB.Exec(ctx, "CREATE DATABASE "+db); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { admin.DB.Exec(context.Background(), "DROP DATABASE IF EXISTS "+db) })

	s, err := New(ctx, config.ClickHouse{Address: addr, Database: db, Username: "default"})
	if err != nil {
		t.Fatalf("New(%s): %v", db, err)
	}
	defer s.Close()

	for _, stmt := range []string{
		`CREATE TABLE feed_actions (user_id UInt64, post_id UInt64, action LowCardinality(String), time DateTime('UTC'), country LowCardinality(String), city LowCardinality(String)) ENGINE = MergeTree ORDER BY (time, user_id)`,
		`CREATE TABLE message_actions (user_id UInt64, receiver_id UInt64, time DateTime('UTC'), country LowCardinality(String), city LowCardinality(String)) ENGINE = MergeTree ORDER BY (time, user_id)`,
	} {
		if err := s.DB.Exec(ctx, stmt); err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	end := time.Date(2024, 4, 7, 0, 0, 0, 0, time.UTC)
	log := eventlog.Generate(eventlog.GenerateOptions{End: end, Days: 35, Users: 120, Seed: 11})
	loadEvents(ctx, t, s, log)

	p := metrics.NewParams(end, end.AddDate(0, 0, 1).Add(11*time.Hour), nil, "")
	opts := []cmp.Option{
		cmpopts.EquateApprox(0, 1e-9),
		cmpopts.SortSlices(func(a, b metrics.Row) bool {
			if !a.Bucket.Equal(b.Bucket) {
				return a.Bucket.Before(b.Bucket)
			}
			return a.Dimension < b.Dimension
		}),
	}
	for _, q := range metrics.Catalog() {
		want, err := log.Query(ctx, q, p)
		if err != nil {
			t.Fatalf("%s in memory: %v", q.Name, err)
		}
		got, err := s.Query(ctx, q, p)
		if err != nil {
			t.Fatalf("%s: %v", q.Name, err)
		}
		if got.Len() == 0 {
			t.Errorf("%s: no rows", q.Name)
		}
		for _, col := range q.Columns {
			if !got.HasColumn(col) {
				t.Errorf("%s: missing column %s", q.Name, col)
			}
		}
		if diff := cmp.Diff(project(want, q.Columns), project(got, q.Columns), opts...); diff != "" {
			t.Errorf("%s mismatch (-memory +clickhouse):\n%s", q.Name, diff)
		}
	}

	bad := metrics.Query{Name: "broken", SQL: "SELECT FROM nowhere"}
	var qe *QueryError
	if _, err := s.Query(ctx, bad, p); !errors.As(err, &qe) {
		t.Fatalf("broken query: got %v, want *QueryError", err)
	}
}

// project keeps only the named measures of each row.
func project(tbl *metrics.Table, cols []string) []metrics.Row {
	out := make([]metrics.Row, 0, tbl.Len())
	for _, r := range tbl.Rows {
		v := make(map[string]float64, len(cols))
		for _, c := range cols {
			if f, ok := r.Value(c); ok {
				v[c] = f
			}
		}
		out = append(out, metrics.Row{Bucket: r.Bucket, Dimension: r.Dimension, Values: v})
	}
	return out
}

func loadEvents(ctx context.Context, t *testing.T, s *Store, log *eventlog.Log) {
	t.Helper()
	feed, err := s.DB.PrepareBatch(ctx, "INSERT INTO feed_actions (user_id, post_id, action, time, country, city)")
	if err != nil {
		t.Fatalf("prepare feed batch: %v", err)
	}
	msgs, err := s.DB.PrepareBatch(ctx, "INSERT INTO message_actions (user_id, receiver_id, time, country, city)")
	if err != nil {
		t.Fatalf("prepare message batch: %v", err)
	}

	var n uint64
	for ev := range log.All() {
		n++
		switch ev.Surface {
		case metrics.Feed:
			err = feed.Append(ev.UserID, n, ev.Action, ev.Time, ev.Country, ev.City)
		case metrics.Messaging:
			err = msgs.Append(ev.UserID, ev.UserID+1, ev.Time, ev.Country, ev.City)
		}
		if err != nil {
			t.Fatalf("append event %d: %v", n, err)
		}
	}
	if err := feed.Send(); err != nil {
		t.Fatalf("send feed batch: %v", err)
	}
	if err := msgs.Send(); err != nil {
		t.Fatalf("send message batch: %v", err)
	}
}
