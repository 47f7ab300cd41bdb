package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/care/sentry/internal/types"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean.
	fpsStabilityThreshold = 0.15
	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// Reader is anything that yields frames.
type Reader interface {
	Read(ctx context.Context) (types.Frame, error)
}

// WarmupStats contains statistics collected during warm-up
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	JitterMean     float64 // seconds
	IsStable       bool
}

// RecordingFPS returns the measured rate when the stream is stable and
// fallback otherwise.
func (s *WarmupStats) RecordingFPS(fallback float64) float64 {
	if s == nil || !s.IsStable || s.FPSMean <= 0 {
		return fallback
	}
	return math.Round(s.FPSMean*10) / 10
}

// Warmup reads and discards frames for d, measuring their arrival rate.
// Cameras often deliver fewer frames than requested; recording at the
// measured rate keeps clip durations true to wall time.
func Warmup(ctx context.Context, src Reader, d time.Duration) (*WarmupStats, error) {
	slog.Info("warmup: starting stream warm-up", "duration", d)

	start := time.Now()
	deadline := start.Add(d)
	times := make([]time.Time, 0, 128)

	for time.Now().Before(deadline) {
		f, err := src.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("warmup: stream failed during warm-up: %w", err)
		}
		ts := f.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		times = append(times, ts)
	}

	if len(times) < 2 {
		return nil, fmt.Errorf("warmup: not enough frames received (got %d, need at least 2)", len(times))
	}

	stats := CalculateFPSStats(times, time.Since(start))
	slog.Info("warmup: stream warm-up complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)
	return stats, nil
}

// CalculateFPSStats derives rate and jitter statistics from frame arrival
// times. The mean rate is taken over the span between the first and last
// frame.
func CalculateFPSStats(frameTimes []time.Time, total time.Duration) *WarmupStats {
	stats := &WarmupStats{FramesReceived: len(frameTimes), Duration: total}
	if len(frameTimes) < 2 {
		return stats
	}

	span := frameTimes[len(frameTimes)-1].Sub(frameTimes[0]).Seconds()
	if span <= 0 {
		return stats
	}
	stats.FPSMean = float64(len(frameTimes)-1) / span
	expected := 1 / stats.FPSMean

	var inst []float64
	var jitterSum float64
	for i := 1; i < len(frameTimes); i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		jitterSum += math.Abs(interval - expected)
		if interval > 0 {
			inst = append(inst, 1/interval)
		}
	}
	stats.JitterMean = jitterSum / float64(len(frameTimes)-1)

	if len(inst) == 0 {
		return stats
	}
	stats.FPSMin, stats.FPSMax = inst[0], inst[0]
	var sq float64
	for _, v := range inst {
		stats.FPSMin = math.Min(stats.FPSMin, v)
		stats.FPSMax = math.Max(stats.FPSMax, v)
		sq += (v - stats.FPSMean) * (v - stats.FPSMean)
	}
	stats.FPSStdDev = math.Sqrt(sq / float64(len(inst)))

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}
