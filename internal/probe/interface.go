package probe

import "context"

// Runner executes the platform round-trip tool and returns its combined
// output.
type Runner interface {
	Run(ctx context.Context, count int, target string) (string, error)
}

// PingResult summarizes one probe. Statistics are nil when no samples were
// parsed; LossPct is nil when the output carried no loss figure.
type PingResult struct {
	Target   string    `json:"target"`
	MinMs    *float64  `json:"min_ms"`
	MaxMs    *float64  `json:"max_ms"`
	AvgMs    *float64  `json:"avg_ms"`
	JitterMs *float64  `json:"jitter_ms"`
	LossPct  *float64  `json:"loss_pct"`
	Samples  []float64 `json:"samples"`
}
