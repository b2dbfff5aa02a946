package metrics

import (
	"fmt"
	"math"
	"time"
)

// Column names shared by the query set, the stores and the report.
const (
	ColBucket    = "bucket"
	ColCity      = "city"
	ColUsers     = "users"
	ColDAU       = "dau"
	ColAvgLikes  = "avg_likes"
	ColAvgViews  = "avg_views"
	ColMessages  = "messages"
	ColER        = "engagement_ratio"
	ColNewUsers  = "new_users"
	ColRetained  = "retained_users"
	ColGoneUsers = "gone_users"
)

// Row is one time bucket of a metric table, optionally split by a dimension (city).
type Row struct {
	Bucket    time.Time
	Dimension string
	Values    map[string]float64
}

// Value returns the named measure and whether the row carries it.
func (r Row) Value(column string) (float64, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// Table is the result of one metric query.
// Rows are ordered ascending by bucket; the last row is the most recent period.
type Table struct {
	Query   string
	Columns []string
	Rows    []Row
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Column returns every value of a measure in row order.
func (t *Table) Column(column string) ([]float64, error) {
	if !t.HasColumn(column) {
		return nil, fmt.Errorf("table %s has no column %q", t.Query, column)
	}
	out := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, r.Values[column])
	}
	return out, nil
}

// Last returns the measure of the most recent row.
func (t *Table) Last(column string) (float64, error) {
	return t.FromEnd(column, 0)
}

// FromEnd returns the measure n rows before the most recent one.
func (t *Table) FromEnd(column string, n int) (float64, error) {
	if !t.HasColumn(column) {
		return 0, fmt.Errorf("table %s has no column %q", t.Query, column)
	}
	if t.Len() <= n {
		return 0, &DataShapeError{Query: t.Query, Want: n + 1, Got: t.Len()}
	}
	return t.Rows[len(t.Rows)-1-n].Values[column], nil
}

func (t *Table) Buckets() []time.Time {
	out := make([]time.Time, 0, t.Len())
	for _, r := range t.Rows {
		out = append(out, r.Bucket)
	}
	return out
}

// Filter returns the rows of a single dimension value, keeping order.
func (t *Table) Filter(dimension string) *Table {
	out := &Table{Query: t.Query, Columns: t.Columns}
	for _, r := range t.Rows {
		if r.Dimension == dimension {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Dimensions lists distinct dimension values in first-seen order.
func (t *Table) Dimensions() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range t.Rows {
		if _, ok := seen[r.Dimension]; ok {
			continue
		}
		seen[r.Dimension] = struct{}{}
		out = append(out, r.Dimension)
	}
	return out
}

// checkOrder verifies rows ascend by bucket and, within a bucket, by dimension.
func (t *Table) checkOrder() error {
	for i := 1; i < len(t.Rows); i++ {
		prev, cur := t.Rows[i-1], t.Rows[i]
		if cur.Bucket.Before(prev.Bucket) ||
			(cur.Bucket.Equal(prev.Bucket) && cur.Dimension < prev.Dimension) {
			return &DataShapeError{
				Query:  t.Query,
				Reason: fmt.Sprintf("row %d (%s) is out of order", i, cur.Bucket.Format(time.RFC3339)),
			}
		}
	}
	return nil
}

func (t *Table) checkFinite() error {
	for i, r := range t.Rows {
		for col, v := range r.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &DataShapeError{
					Query:  t.Query,
					Reason: fmt.Sprintf("row %d column %s is not a finite number", i, col),
				}
			}
		}
	}
	return nil
}
