package metrics

import "fmt"

// DataShapeError reports a metric table that cannot support the computation
// asked of it: too few rows, out-of-order rows, undefined ratios, or values
// outside the configured restriction.
type DataShapeError struct {
	Query  string
	Want   int
	Got    int
	Reason string
}

func (e *DataShapeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("data shape error in %s: %s", e.Query, e.Reason)
	}
	return fmt.Sprintf("data shape error in %s: need at least %d rows, got %d", e.Query, e.Want, e.Got)
}
