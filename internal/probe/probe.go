// Package probe measures latency, jitter and packet loss by running the
// system ping tool and parsing its output.
package probe

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
)

const (
	MinCount = 1
	MaxCount = 20

	DefaultTimeout = 30 * time.Second
)

var (
	sampleRe = regexp.MustCompile(`time[=<]([0-9]+(?:\.[0-9]+)?)\s*ms`)
	lossRe   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%\s*(?:packet\s+)?loss`)
)

// Probe is stateless; concurrent Measure calls are independent.
type Probe struct {
	runner  Runner
	timeout time.Duration
	log     logger.Logger
}

// New creates a probe. A non-positive timeout means DefaultTimeout.
func New(runner Runner, timeout time.Duration, log logger.Logger) *Probe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Probe{
		runner:  runner,
		timeout: timeout,
		log:     log.With("probe"),
	}
}

// Measure pings target count times, clamping count to [1,20]. A probe that
// produced output but no samples is a success with empty statistics.
func (p *Probe) Measure(ctx context.Context, target string, count int) (PingResult, error) {
	errFactory := errors.New()

	target = strings.TrimSpace(target)
	if target == "" || strings.HasPrefix(target, "-") || strings.ContainsAny(target, " \t\r\n") {
		return PingResult{}, errFactory.WithData(ErrInvalidTarget, target)
	}

	count = min(max(count, MinCount), MaxCount)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	raw, err := p.runner.Run(ctx, count, target)
	if err == nil && ctx.Err() != nil {
		err = errFactory.Wrap(ErrTimeout, ctx.Err())
	}
	if err != nil {
		p.log.Warn().
			Err(err).
			Str("target", target).
			Int("count", count).
			Msg("Probe failed")
		return PingResult{}, err
	}

	result := Parse(target, raw)

	event := p.log.Debug().
		Str("target", target).
		Int("count", count).
		Int("samples", len(result.Samples)).
		Dur("elapsed", time.Since(start))
	if result.AvgMs != nil {
		event = event.Float64("avg_ms", *result.AvgMs)
	}
	event.Msg("Probe completed")

	return result, nil
}

// Parse extracts round-trip samples and the loss percentage from ping output
// and derives summary statistics.
func Parse(target, raw string) PingResult {
	result := PingResult{
		Target:  target,
		Samples: parseSamples(raw),
		LossPct: parseLoss(raw),
	}

	n := len(result.Samples)
	if n == 0 {
		return result
	}

	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, s := range result.Samples {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
		sum += s
	}
	avg := sum / float64(n)

	result.MinMs = &lo
	result.MaxMs = &hi
	result.AvgMs = &avg

	// Mean absolute successive difference
	if n >= 2 {
		var diffs float64
		for i := 1; i < n; i++ {
			diffs += math.Abs(result.Samples[i] - result.Samples[i-1])
		}
		jitter := diffs / float64(n-1)
		result.JitterMs = &jitter
	}

	return result
}

func parseSamples(raw string) []float64 {
	matches := sampleRe.FindAllStringSubmatch(raw, -1)
	samples := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			samples = append(samples, v)
		}
	}
	return samples
}

func parseLoss(raw string) *float64 {
	m := lossRe.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}
