package export

import (
	"fmt"
	"time"
)

// Dataset is the renderer-independent table every export format consumes.
// Rows are positional and follow the Columns order.
type Dataset struct {
	Title     string
	Generated time.Time
	Columns   []string
	Rows      [][]string
}

func (d Dataset) validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("dataset has no columns")
	}
	return nil
}

// cells returns row padded or truncated to the column count, so a short or
// overlong row can never shift the table.
func (d Dataset) cells(row []string) []string {
	out := make([]string, len(d.Columns))
	copy(out, row)
	return out
}

func (d Dataset) generatedLabel() string {
	ts := d.Generated
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts.UTC().Format("2006-01-02 15:04 MST")
}
