package calculator

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/petr-muller/jiraflow/internal/cycletime/cycle"
)

// Summary aggregates cycle times over a set of results
type Summary struct {
	Items      int     `json:"items" yaml:"items"`
	Completed  int     `json:"completed" yaml:"completed"`
	InProgress int     `json:"inProgress" yaml:"inProgress"`
	Mean       float64 `json:"mean" yaml:"mean"`
	Median     float64 `json:"median" yaml:"median"`
	P75        float64 `json:"p75" yaml:"p75"`
	P85        float64 `json:"p85" yaml:"p85"`
	P95        float64 `json:"p95" yaml:"p95"`
}

// Summarize computes cycle time statistics in days. An item is in progress when
// it reached an accepted stage but has no cycle time.
func Summarize(d *cycle.Definition, rows []Result) Summary {
	summary := Summary{Items: len(rows)}

	var days []float64
	for _, row := range rows {
		if row.CycleTime != nil {
			days = append(days, float64(*row.CycleTime))
			continue
		}
		for i, stage := range row.Stages {
			if stage.Timestamp != nil && i < d.Len() && d.Stage(i).Kind == cycle.Accepted {
				summary.InProgress++
				break
			}
		}
	}

	summary.Completed = len(days)
	if len(days) == 0 {
		return summary
	}

	sort.Float64s(days)
	summary.Mean = stat.Mean(days, nil)
	summary.Median = stat.Quantile(0.5, stat.Empirical, days, nil)
	summary.P75 = stat.Quantile(0.75, stat.Empirical, days, nil)
	summary.P85 = stat.Quantile(0.85, stat.Empirical, days, nil)
	summary.P95 = stat.Quantile(0.95, stat.Empirical, days, nil)
	return summary
}
