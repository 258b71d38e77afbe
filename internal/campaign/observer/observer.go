// Package observer defines metrics hooks for campaign execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records campaign metrics.
type MetricsRecorder interface {
	TargetStarted(ctx context.Context, target string)
	TargetFinished(ctx context.Context, target string, status string, elapsed time.Duration)
	MergeFinished(ctx context.Context, tool string, inputs int, skipped int, elapsed time.Duration)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) TargetStarted(context.Context, string)                          {}
func (Noop) TargetFinished(context.Context, string, string, time.Duration)  {}
func (Noop) MergeFinished(context.Context, string, int, int, time.Duration) {}
