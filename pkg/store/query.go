package store

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jazware/engagement-report/pkg/metrics"
)

// Query runs one metric query with its parameters bound by name and returns
// the result in the server's column and row order.
func (s *Store) Query(ctx context.Context, q metrics.Query, p metrics.Params) (t *metrics.Table, err error) {
	ctx, done := observe(ctx, q.Name, &err, attribute.String("report.date", p.ReportDate.Format(time.DateOnly)))
	defer func() { done(attribute.Int("result_count", t.Len())) }()

	rows, err := s.DB.Query(ctx, q.SQL, namedArgs(p.Bindings())...)
	if err != nil {
		return nil, classify(q.Name, s.addr, err)
	}
	defer rows.Close()

	types := rows.ColumnTypes()
	names := make([]string, len(types))
	for i, ct := range types {
		names[i] = ct.Name()
	}

	t = &metrics.Table{Query: q.Name}
	for _, name := range names {
		if name != metrics.ColBucket && name != metrics.ColCity {
			t.Columns = append(t.Columns, name)
		}
	}
	if !slices.Contains(names, metrics.ColBucket) {
		return nil, &QueryError{Query: q.Name, Err: fmt.Errorf("result has no %s column", metrics.ColBucket)}
	}
	for _, col := range q.Columns {
		if !slices.Contains(t.Columns, col) {
			return nil, &QueryError{Query: q.Name, Err: fmt.Errorf("result is missing column %s", col)}
		}
	}

	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(q.Name, s.addr, fmt.Errorf("failed to scan row: %w", err))
		}

		row := metrics.Row{Values: make(map[string]float64, len(t.Columns))}
		for i, name := range names {
			v := reflect.ValueOf(dest[i]).Elem()
			switch name {
			case metrics.ColBucket:
				ts, ok := asTime(v)
				if !ok {
					return nil, &QueryError{Query: q.Name, Err: fmt.Errorf("bucket has type %s, want a date", types[i].DatabaseTypeName())}
				}
				row.Bucket = ts
			case metrics.ColCity:
				row.Dimension = fmt.Sprint(deref(v).Interface())
			default:
				f, ok := asFloat(v)
				if !ok {
					return nil, &QueryError{Query: q.Name, Err: fmt.Errorf("column %s has non-numeric type %s", name, types[i].DatabaseTypeName())}
				}
				row.Values[name] = f
			}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(q.Name, s.addr, err)
	}

	return t, nil
}

func namedArgs(bindings map[string]any) []any {
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, clickhouse.Named(k, bindings[k]))
	}
	return args
}

func deref(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	return v
}

func asTime(v reflect.Value) (time.Time, bool) {
	v = deref(v)
	ts, ok := v.Interface().(time.Time)
	if !ok {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// asFloat widens any numeric scan target. NULL becomes NaN so the table
// checks reject it.
func asFloat(v reflect.Value) (float64, bool) {
	v = deref(v)
	switch v.Kind() {
	case reflect.Pointer:
		return math.NaN(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}
