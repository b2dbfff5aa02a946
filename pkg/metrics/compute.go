package metrics

import (
	"context"
	"fmt"
	"slices"
)

// Source executes one metric query and returns its table unchanged.
type Source interface {
	Query(ctx context.Context, q Query, p Params) (*Table, error)
}

// Compute runs a query against the source and post-processes the result:
// ordering and restriction checks, then derived columns.
// Source errors are returned unchanged.
func Compute(ctx context.Context, src Source, q Query, p Params) (*Table, error) {
	t, err := src.Query(ctx, q, p)
	if err != nil {
		return nil, err
	}
	if t.Query == "" {
		t.Query = q.Name
	}

	if err := t.checkOrder(); err != nil {
		return nil, err
	}
	if err := t.checkFinite(); err != nil {
		return nil, err
	}

	if q.Dimensioned {
		for _, r := range t.Rows {
			if !slices.Contains(p.Cities, r.Dimension) {
				return nil, &DataShapeError{
					Query:  q.Name,
					Reason: fmt.Sprintf("city %q is outside the configured list", r.Dimension),
				}
			}
		}
	}

	if q.Kind == KindMessagingEngagement {
		if err := deriveEngagement(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// EngagementRatio is total actions per distinct active user.
// A day without active users has no defined ratio and is reported as a DataShapeError.
func EngagementRatio(actions, dau float64) (float64, error) {
	if dau <= 0 {
		return 0, &DataShapeError{
			Query:  MessagingEngagement.Name,
			Reason: fmt.Sprintf("engagement ratio undefined for %v actions and %v active users", actions, dau),
		}
	}
	return actions / dau, nil
}

func deriveEngagement(t *Table) error {
	for i := range t.Rows {
		r := &t.Rows[i]
		er, err := EngagementRatio(r.Values[ColMessages], r.Values[ColDAU])
		if err != nil {
			return err
		}
		r.Values[ColER] = er
	}
	if !t.HasColumn(ColER) {
		t.Columns = append(t.Columns, ColER)
	}
	return nil
}
